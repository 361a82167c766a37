package classify

import (
	"errors"
	"fmt"

	"github.com/gogpu/tsnc/gpucore"
)

// Buffers holds the device-side tile lists of one classifier.
//
// The three tile lists hold a counter in word 0 followed by up to one tile
// index per tile. Usage holds one (uniform tiles, complex pixels) pair per
// network. Repacked holds a pixel count in word 0 followed by one
// tile<<5|lane entry per pixel.
type Buffers struct {
	Active   gpucore.Buffer
	Uniform  gpucore.Buffer
	Complex  gpucore.Buffer
	Usage    gpucore.Buffer
	Repacked gpucore.Buffer
	Indirect gpucore.Buffer
}

// BufferSizes returns the byte sizes of the buffers for a grid and
// network count, in field order.
func BufferSizes(grid TileGrid, numMLPs uint32) [6]uint64 {
	n := uint64(grid.Count())
	list := 4 * (1 + n)
	return [6]uint64{
		list,
		list,
		list,
		4 * 2 * uint64(numMLPs),
		4 * (1 + WorkGroupSize*n),
		IndirectArgsSize,
	}
}

func newBuffers(dev gpucore.Device, grid TileGrid, numMLPs uint32) (Buffers, error) {
	const (
		storage  = gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst
		indirect = storage | gpucore.BufferUsageIndirect
	)
	var b Buffers
	sizes := BufferSizes(grid, numMLPs)
	specs := [6]struct {
		label string
		usage gpucore.BufferUsage
		dst   *gpucore.Buffer
	}{
		{"tsnc_active_tiles", storage, &b.Active},
		{"tsnc_uniform_tiles", storage, &b.Uniform},
		{"tsnc_complex_tiles", storage, &b.Complex},
		{"tsnc_mlp_usage", storage, &b.Usage},
		{"tsnc_repacked_tiles", storage, &b.Repacked},
		{"tsnc_indirect_args", indirect, &b.Indirect},
	}

	for i, s := range specs {
		h, err := dev.CreateBuffer(gpucore.BufferDesc{Label: s.label, Size: sizes[i], Stride: 4, Usage: s.usage})
		if err != nil {
			b.release(dev)
			return Buffers{}, fmt.Errorf("classify: create %s: %w", s.label, err)
		}
		*s.dst = h
		slogger().Debug("tile buffer created", "label", s.label, "size", sizes[i])
	}
	return b, nil
}

func (b *Buffers) all() []*gpucore.Buffer {
	return []*gpucore.Buffer{&b.Active, &b.Uniform, &b.Complex, &b.Usage, &b.Repacked, &b.Indirect}
}

func (b *Buffers) release(dev gpucore.Device) {
	for _, h := range b.all() {
		if h.IsValid() {
			dev.DestroyBuffer(*h)
		}
		*h = gpucore.Buffer{}
	}
}

// ErrNoNetworks is returned when a classifier is created for zero networks.
var ErrNoNetworks = errors.New("classify: network count must be positive")
