package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/tsnc/gpucore"
)

// ConvertGroupSize is the workgroup size of the fp32 to fp16 kernel.
const ConvertGroupSize = 64

// ErrConverterNotReady is returned when packed weights are uploaded
// before the conversion kernels compiled.
var ErrConverterNotReady = errors.New("network: fp32 to fp16 kernel not compiled")

// GPUMLP holds the device buffers of a CPUMLP.
//
// Weight holds fp32 weights, WeightPacked the same weights as fp16 pairs
// (element 2k in the low half of word k) and Bias the fp32 biases. The
// packed buffers are only allocated for the packed numeric path.
type GPUMLP struct {
	Weight       [3]gpucore.Buffer
	WeightPacked [3]gpucore.Buffer
	Bias         [3]gpucore.Buffer

	counts [3]uint32
}

// Packed reports whether the packed weight buffers exist.
func (g *GPUMLP) Packed() bool { return g.WeightPacked[0].IsValid() }

// WeightCount returns the number of fp32 weights of layer l.
func (g *GPUMLP) WeightCount(l int) uint32 { return g.counts[l] }

// AllocateGPUMLP creates the buffers for cpu. packed adds the fp16 buffers.
func AllocateGPUMLP(dev gpucore.Device, cpu *CPUMLP, packed bool) (*GPUMLP, error) {
	if err := cpu.Validate(); err != nil {
		return nil, err
	}
	const usage = gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst | gpucore.BufferUsageCopySrc
	g := &GPUMLP{}
	create := func(label string, size uint64) (gpucore.Buffer, error) {
		b, err := dev.CreateBuffer(gpucore.BufferDesc{Label: label, Size: size, Stride: 4, Usage: usage})
		if err != nil {
			g.Release(dev)
			return gpucore.Buffer{}, fmt.Errorf("network: create %s: %w", label, err)
		}
		slogger().Debug("mlp buffer created", "label", label, "size", size)
		return b, nil
	}

	for l, layer := range cpu.Layers {
		n := uint64(len(layer.Weights))
		g.counts[l] = uint32(n)
		var err error
		if g.Weight[l], err = create(fmt.Sprintf("tsnc_mlp_weight%d", l), 4*n); err != nil {
			return nil, err
		}
		if g.Bias[l], err = create(fmt.Sprintf("tsnc_mlp_bias%d", l), 4*uint64(len(layer.Bias))); err != nil {
			return nil, err
		}
		if packed {
			if g.WeightPacked[l], err = create(fmt.Sprintf("tsnc_mlp_weight%d_packed", l), 4*((n+1)/2)); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Upload writes the fp32 weights and biases of cpu. For packed buffers it
// also records one conversion dispatch per layer into rec, using
// converters[l] compiled for that layer's weight count, followed by a
// barrier on the packed buffer. The caller submits rec.
func (g *GPUMLP) Upload(dev gpucore.Device, rec gpucore.Recorder, cpu *CPUMLP, converters [3]gpucore.Kernel) error {
	for l, layer := range cpu.Layers {
		if uint32(len(layer.Weights)) != g.counts[l] {
			return fmt.Errorf("network: layer %d has %d weights, buffers hold %d", l, len(layer.Weights), g.counts[l])
		}
		if err := dev.WriteBuffer(g.Weight[l], 0, floatBytes(layer.Weights)); err != nil {
			return fmt.Errorf("network: upload weights %d: %w", l, err)
		}
		if err := dev.WriteBuffer(g.Bias[l], 0, floatBytes(layer.Bias)); err != nil {
			return fmt.Errorf("network: upload bias %d: %w", l, err)
		}
	}
	if !g.Packed() {
		return nil
	}

	rec.BeginSection("Pack MLP weights")
	defer rec.EndSection()
	for l := range cpu.Layers {
		k := converters[l]
		if !k.IsValid() {
			return fmt.Errorf("%w: layer %d", ErrConverterNotReady, l)
		}
		groups := ConvertGroups(g.counts[l])
		rec.BindBuffer(k, "_InputBuffer", g.Weight[l])
		rec.BindBuffer(k, "_OutputBufferRW", g.WeightPacked[l])
		rec.Dispatch(k, groups[0], groups[1], groups[2])
		rec.BufferBarrier(g.WeightPacked[l])
	}
	return rec.Err()
}

// ConvertGroups returns the dispatch size that converts n fp32 values,
// one output word per invocation, split over x and y.
func ConvertGroups(n uint32) [3]uint32 {
	const maxGroups = 65535
	words := (n + 1) / 2
	groups := max((words+ConvertGroupSize-1)/ConvertGroupSize, 1)
	if groups <= maxGroups {
		return [3]uint32{groups, 1, 1}
	}
	return [3]uint32{maxGroups, (groups + maxGroups - 1) / maxGroups, 1}
}

// Release destroys every buffer.
func (g *GPUMLP) Release(dev gpucore.Device) {
	for l := range 3 {
		for _, b := range []*gpucore.Buffer{&g.Weight[l], &g.WeightPacked[l], &g.Bias[l]} {
			if b.IsValid() {
				dev.DestroyBuffer(*b)
			}
			*b = gpucore.Buffer{}
		}
	}
}

func floatBytes(v []float32) []byte {
	out := make([]byte, 0, len(v)*4)
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}
