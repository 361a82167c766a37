// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"fmt"

	"github.com/gogpu/tsnc/frame"
	"github.com/gogpu/tsnc/gpucore"
)

// Resources resolves the bindings of one dispatch by WGSL variable name.
// Buffers are exposed as their backing 32-bit words; writes through the
// returned slice are writes to the buffer.
type Resources interface {
	Words(name string) ([]uint32, error)
	Texture(name string) (*Image, error)
	Sampler(name string) (gpucore.SamplerDesc, error)
}

// Kernel is a compiled reference kernel.
type Kernel interface {
	// Run executes groups[0]*groups[1]*groups[2] workgroups.
	Run(res Resources, groups [3]uint32) error
}

// KernelFunc adapts a function to Kernel.
type KernelFunc func(res Resources, groups [3]uint32) error

// Run calls f.
func (f KernelFunc) Run(res Resources, groups [3]uint32) error { return f(res, groups) }

// Factory builds a kernel from its pre-processor defines.
type Factory func(defines map[string]string) (Kernel, error)

// binder fetches bindings and keeps the first error.
type binder struct {
	res Resources
	err error
}

func (b *binder) words(name string) []uint32 {
	if b.err != nil {
		return nil
	}
	w, err := b.res.Words(name)
	if err != nil {
		b.err = err
	}
	return w
}

func (b *binder) texture(name string) *Image {
	if b.err != nil {
		return nil
	}
	t, err := b.res.Texture(name)
	if err != nil {
		b.err = err
	}
	return t
}

func (b *binder) sampler(name string) gpucore.SamplerDesc {
	if b.err != nil {
		return gpucore.SamplerDesc{}
	}
	s, err := b.res.Sampler(name)
	if err != nil {
		b.err = err
	}
	return s
}

func (b *binder) constants() frame.Constants {
	w := b.words("_GlobalCB")
	if b.err != nil {
		return frame.Constants{}
	}
	c, err := frame.Decode(w)
	if err != nil {
		b.err = err
	}
	return c
}

// forGroups calls fn with the linear index of every workgroup in order.
func forGroups(groups [3]uint32, fn func(group uint32)) {
	n := uint64(groups[0]) * uint64(groups[1]) * uint64(groups[2])
	for g := uint64(0); g < n; g++ {
		fn(uint32(g))
	}
}

func requireLen(name string, words []uint32, n uint64) error {
	if uint64(len(words)) < n {
		return fmt.Errorf("refkernels: %s has %d words, need %d: %w", name, len(words), n, gpucore.ErrOutOfRange)
	}
	return nil
}
