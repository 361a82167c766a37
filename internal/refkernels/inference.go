// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"fmt"
	"math"

	"github.com/gogpu/tsnc/gpucore"
)

// Output selects what an inference kernel writes per pixel.
type Output int

const (
	// OutputGBuffer writes ChannelCount raw network outputs to _OutputBufferRW.
	OutputGBuffer Output = iota

	// OutputMaterial shades the outputs and writes RGBA to _ColorBufferRW.
	OutputMaterial
)

// Inference evaluates the neural material for the pixels named by _TileBuffer.
type Inference struct {
	Dims   Dims
	Packed bool
	Output Output

	// Repacked reads one pixel entry per invocation instead of one tile
	// per workgroup.
	Repacked bool
}

type inferenceEnv struct {
	scene
	tiles    []uint32
	latent   [4]*Image
	uvOffset []uint32
	sampler  gpucore.SamplerDesc
	layers   [3]Layer
	out      []uint32
}

var latentNames = [4]string{"_LS0Texture", "_LS1Texture", "_LS2Texture", "_LS3Texture"}

// Run implements Kernel.
func (k *Inference) Run(res Resources, groups [3]uint32) error {
	b := &binder{res: res}
	env := inferenceEnv{scene: bindScene(b)}
	env.tiles = b.words("_TileBuffer")
	for i, name := range latentNames {
		env.latent[i] = b.texture(name)
	}
	env.uvOffset = b.words("_UVOffsetBuffer")
	env.sampler = b.sampler("bc1_linear_clamp_sampler")
	for l := range env.layers {
		w := b.words(fmt.Sprintf("_MLPWeight%dBuffer", l))
		if k.Packed {
			env.layers[l].Weights = PackedWords(w)
		} else {
			env.layers[l].Weights = F32Words(w)
		}
		env.layers[l].Bias = F32Words(b.words(fmt.Sprintf("_MLPBias%dBuffer", l)))
	}
	if k.Output == OutputMaterial {
		env.out = b.words("_ColorBufferRW")
	} else {
		env.out = b.words("_OutputBufferRW")
	}
	if b.err != nil {
		return b.err
	}
	if err := k.checkWeights(&env); err != nil {
		return err
	}

	forGroups(groups, func(group uint32) {
		if !k.Repacked {
			if group >= env.tiles[0] {
				return
			}
			tile := env.tiles[1+group]
			for lane := uint32(0); lane < WorkGroupSize; lane++ {
				k.evaluatePixel(&env, tile, lane)
			}
			return
		}
		for lane := uint32(0); lane < WorkGroupSize; lane++ {
			thread := group*WorkGroupSize + lane
			if thread >= env.tiles[0] {
				return
			}
			entry := env.tiles[1+thread]
			k.evaluatePixel(&env, entry>>5, entry&31)
		}
	})
	return nil
}

func (k *Inference) checkWeights(env *inferenceEnv) error {
	counts := k.Dims.WeightCounts()
	outs := k.Dims.Outputs()
	for l := range env.layers {
		n := uint64(counts[l]) * uint64(k.Dims.MLPCount)
		var words []uint32
		if k.Packed {
			words = env.layers[l].Weights.(PackedWords)
			n = (n + 1) / 2
		} else {
			words = env.layers[l].Weights.(F32Words)
		}
		if err := requireLen(fmt.Sprintf("_MLPWeight%dBuffer", l), words, n); err != nil {
			return err
		}
		bias := env.layers[l].Bias.(F32Words)
		if err := requireLen(fmt.Sprintf("_MLPBias%dBuffer", l), bias, uint64(outs[l])*uint64(k.Dims.MLPCount)); err != nil {
			return err
		}
	}
	return requireLen("_UVOffsetBuffer", env.uvOffset, 2*uint64(k.Dims.MLPCount))
}

func (k *Inference) evaluatePixel(env *inferenceEnv, tile, lane uint32) {
	x, y := TilePixel(tile, lane, env.c.TileCount)
	s := env.surface(x, y)
	if !s.Covered {
		return
	}
	out := EvaluateSurface(k.Dims, env.layers, env.latent, env.sampler, env.uvOffset, s)
	pixel := y*env.c.ScreenSize[0] + x

	if k.Output == OutputMaterial {
		color := Shade(&env.c, MaterialFromChannels(out), s.Normal, s.Position)
		base := pixel * 4
		env.out[base] = math.Float32bits(color[0])
		env.out[base+1] = math.Float32bits(color[1])
		env.out[base+2] = math.Float32bits(color[2])
		env.out[base+3] = math.Float32bits(1)
		return
	}
	base := pixel * k.Dims.ChannelCount
	for c := uint32(0); c < k.Dims.ChannelCount; c++ {
		env.out[base+c] = math.Float32bits(out[c])
	}
}

// EvaluateSurface samples the latent textures at the surface uv shifted by
// the network's uv offset and runs the surface's network.
func EvaluateSurface(d Dims, layers [3]Layer, latent [4]*Image, smp gpucore.SamplerDesc, uvOffset []uint32, s Surface) []float32 {
	n := s.Network
	u := s.UV[0] + math.Float32frombits(uvOffset[2*n])
	v := s.UV[1] + math.Float32frombits(uvOffset[2*n+1])

	x := make([]float32, d.Layer0In)
	for t, img := range latent {
		texel := img.Sample(smp, u, v, 0)
		copy(x[4*t:4*t+4], texel[:])
	}
	return Forward(d, layers, n, x)
}

// DeferredLighting shades the active tiles from a CHANNEL_COUNT-wide
// G-buffer into _ColorBufferRW.
type DeferredLighting struct {
	ChannelCount uint32
}

// Run implements Kernel.
func (k *DeferredLighting) Run(res Resources, groups [3]uint32) error {
	b := &binder{res: res}
	sc := bindScene(b)
	tiles := b.words("_TileBuffer")
	gbuf := b.words("_InferenceBuffer")
	color := b.words("_ColorBufferRW")
	if b.err != nil {
		return b.err
	}
	if k.ChannelCount < 6 {
		return fmt.Errorf("refkernels: lighting needs 6 channels, have %d", k.ChannelCount)
	}

	f := func(i uint32) float32 { return math.Float32frombits(gbuf[i]) }
	forGroups(groups, func(group uint32) {
		if group >= tiles[0] {
			return
		}
		tile := tiles[1+group]
		for lane := uint32(0); lane < WorkGroupSize; lane++ {
			x, y := TilePixel(tile, lane, sc.c.TileCount)
			s := sc.surface(x, y)
			if !s.Covered {
				continue
			}
			pixel := y*sc.c.ScreenSize[0] + x
			base := pixel * k.ChannelCount
			m := Material{
				Albedo:    Vec3{f(base), f(base + 1), f(base + 2)},
				Roughness: f(base + 3),
				Metalness: f(base + 4),
				Occlusion: f(base + 5),
			}
			c := Shade(&sc.c, m, s.Normal, s.Position)
			color[pixel*4] = math.Float32bits(c[0])
			color[pixel*4+1] = math.Float32bits(c[1])
			color[pixel*4+2] = math.Float32bits(c[2])
			color[pixel*4+3] = math.Float32bits(1)
		}
	})
	return nil
}

// ConvertGroupSize is the workgroup size of the fp16 converter.
const ConvertGroupSize = 64

// FP32ToFP16 packs ElementCount fp32 values from _InputBuffer into fp16
// pairs in _OutputBufferRW. An odd tail is padded with zero.
type FP32ToFP16 struct {
	ElementCount uint32
}

// Run implements Kernel.
func (k *FP32ToFP16) Run(res Resources, groups [3]uint32) error {
	b := &binder{res: res}
	in := b.words("_InputBuffer")
	out := b.words("_OutputBufferRW")
	if b.err != nil {
		return b.err
	}
	if err := requireLen("_InputBuffer", in, uint64(k.ElementCount)); err != nil {
		return err
	}
	if err := requireLen("_OutputBufferRW", out, (uint64(k.ElementCount)+1)/2); err != nil {
		return err
	}

	f := func(i uint32) float32 { return math.Float32frombits(in[i]) }
	rowWidth := groups[0] * ConvertGroupSize
	forGroups(groups, func(group uint32) {
		gx, gy := group%groups[0], group/groups[0]
		for lane := uint32(0); lane < ConvertGroupSize; lane++ {
			word := gx*ConvertGroupSize + lane + gy*rowWidth
			if 2*word >= k.ElementCount {
				continue
			}
			var hi float32
			if 2*word+1 < k.ElementCount {
				hi = f(2*word + 1)
			}
			out[word] = PackHalf2(f(2*word), hi)
		}
	})
	return nil
}
