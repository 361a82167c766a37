// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"github.com/gogpu/tsnc/shaders"
)

// Key identifies a kernel by module and entry point.
type Key struct {
	Module string
	Entry  string
}

func (k Key) String() string { return k.Module + ":" + k.Entry }

// Builtin returns factories for every kernel in the shaders package.
// policy configures the first pass; nil means DominantCoversTile.
func Builtin(policy TilePolicy) map[Key]Factory {
	static := func(k Kernel) Factory {
		return func(map[string]string) (Kernel, error) { return k, nil }
	}
	inference := func(out Output, repacked bool) Factory {
		return func(defines map[string]string) (Kernel, error) {
			d, err := dimsFrom(defines)
			if err != nil {
				return nil, err
			}
			_, packed := defines[shaders.DefinePackedWeights]
			return &Inference{Dims: d, Packed: packed, Output: out, Repacked: repacked}, nil
		}
	}

	return map[Key]Factory{
		{shaders.ModuleReset, shaders.EntryMain}:     static(KernelFunc(Reset)),
		{shaders.ModuleFirstPass, shaders.EntryMain}: static(FirstPass(policy)),
		{shaders.ModulePrepareIndirection, shaders.EntryMain}: func(defines map[string]string) (Kernel, error) {
			o, err := argsOffsetsFrom(defines)
			if err != nil {
				return nil, err
			}
			return PrepareIndirection(o), nil
		},
		{shaders.ModuleSecondPass, shaders.EntryMain}: static(KernelFunc(SecondPass)),

		{shaders.ModuleGBufferInference, shaders.EntryMain}:          inference(OutputGBuffer, false),
		{shaders.ModuleGBufferInference, shaders.EntryMainRepacked}:  inference(OutputGBuffer, true),
		{shaders.ModuleMaterialInference, shaders.EntryMain}:         inference(OutputMaterial, false),
		{shaders.ModuleMaterialInference, shaders.EntryMainRepacked}: inference(OutputMaterial, true),

		{shaders.ModuleDeferredLighting, shaders.EntryMain}: func(defines map[string]string) (Kernel, error) {
			c, err := defineUint(defines, shaders.DefineChannelCount)
			if err != nil {
				return nil, err
			}
			return &DeferredLighting{ChannelCount: c}, nil
		},
		{shaders.ModuleTextureMaterial, shaders.EntryMain}: func(defines map[string]string) (Kernel, error) {
			c, err := defineUint(defines, shaders.DefineChannelCount)
			if err != nil {
				return nil, err
			}
			return &TextureMaterial{ChannelCount: c}, nil
		},
		{shaders.ModuleFP32ToFP16, shaders.EntryMain}: func(defines map[string]string) (Kernel, error) {
			n, err := defineUint(defines, shaders.DefineElementCount)
			if err != nil {
				return nil, err
			}
			return &FP32ToFP16{ElementCount: n}, nil
		},
	}
}
