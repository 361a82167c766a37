// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/gogpu/tsnc/shaders"
)

// LatentFeatures is the number of network inputs sampled from the four
// latent textures.
const LatentFeatures = 16

// Dims are the layer sizes of a three-layer network, as the inference
// kernels see them through their defines.
type Dims struct {
	MLPCount     uint32
	Layer0In     uint32
	Layer0Out    uint32
	Layer1Out    uint32
	Layer2Out    uint32
	ChannelCount uint32
}

// Validate checks the constraints the inference kernels rely on.
func (d Dims) Validate() error {
	switch {
	case d.MLPCount == 0:
		return fmt.Errorf("refkernels: network count is zero")
	case d.Layer0In < LatentFeatures:
		return fmt.Errorf("refkernels: layer 0 takes %d inputs, need at least %d", d.Layer0In, LatentFeatures)
	case d.Layer0Out == 0 || d.Layer1Out == 0 || d.Layer2Out == 0:
		return fmt.Errorf("refkernels: empty layer in %+v", d)
	case d.ChannelCount > d.Layer2Out:
		return fmt.Errorf("refkernels: %d channels exceed %d outputs", d.ChannelCount, d.Layer2Out)
	}
	return nil
}

// WeightCounts returns the per-network weight count of each layer.
func (d Dims) WeightCounts() [3]uint32 {
	return [3]uint32{d.Layer0Out * d.Layer0In, d.Layer1Out * d.Layer0Out, d.Layer2Out * d.Layer1Out}
}

// Outputs returns the per-network output count of each layer.
func (d Dims) Outputs() [3]uint32 {
	return [3]uint32{d.Layer0Out, d.Layer1Out, d.Layer2Out}
}

func dimsFrom(defines map[string]string) (Dims, error) {
	var d Dims
	var err error
	for _, f := range []struct {
		name string
		dst  *uint32
	}{
		{shaders.DefineMLPCount, &d.MLPCount},
		{shaders.DefineLayer0In, &d.Layer0In},
		{shaders.DefineLayer0Out, &d.Layer0Out},
		{shaders.DefineLayer1Out, &d.Layer1Out},
		{shaders.DefineLayer2Out, &d.Layer2Out},
		{shaders.DefineChannelCount, &d.ChannelCount},
	} {
		if *f.dst, err = defineUint(defines, f.name); err != nil {
			return d, err
		}
	}
	return d, d.Validate()
}

// Weights reads element i of a weight or bias array.
type Weights interface {
	At(i uint32) float32
}

// Float32s is a host-side weight array.
type Float32s []float32

// At implements Weights.
func (w Float32s) At(i uint32) float32 { return w[i] }

// F32Words is a buffer of fp32 values stored as raw bits.
type F32Words []uint32

// At implements Weights.
func (w F32Words) At(i uint32) float32 { return math.Float32frombits(w[i]) }

// PackedWords is a buffer of fp16 pairs, element 2k in the low half of word k.
type PackedWords []uint32

// At implements Weights.
func (w PackedWords) At(i uint32) float32 {
	half := uint16(w[i>>1] >> (16 * (i & 1)))
	return float16.Frombits(half).Float32()
}

// PackHalf2 packs two values like WGSL pack2x16float.
func PackHalf2(lo, hi float32) uint32 {
	return uint32(float16.Fromfloat32(lo).Bits()) | uint32(float16.Fromfloat32(hi).Bits())<<16
}

// Layer is one fully connected layer of every network: row-major
// weights [out][in] per network, followed by the next network's.
type Layer struct {
	Weights Weights
	Bias    Weights
}

// Forward evaluates network net on x. Layers 0 and 1 use ReLU; the last
// layer is linear. len(x) must be at least d.Layer0In.
func Forward(d Dims, layers [3]Layer, net uint32, x []float32) []float32 {
	ins := [3]uint32{d.Layer0In, d.Layer0Out, d.Layer1Out}
	outs := d.Outputs()
	for l := range layers {
		in, out := ins[l], outs[l]
		y := make([]float32, out)
		wBase := net * out * in
		for o := uint32(0); o < out; o++ {
			acc := layers[l].Bias.At(net*out + o)
			row := wBase + o*in
			for i := uint32(0); i < in; i++ {
				acc += layers[l].Weights.At(row+i) * x[i]
			}
			if l < 2 {
				acc = max(acc, 0)
			}
			y[o] = acc
		}
		x = y
	}
	return x
}
