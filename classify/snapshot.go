package classify

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gogpu/tsnc/gpucore"
)

// Snapshot is a host copy of the classification results of one frame.
type Snapshot struct {
	Active  []uint32
	Uniform []uint32
	Complex []uint32

	// Usage holds, per network, the number of uniform tiles charged to it
	// and the end of its segment in Repacked.
	Usage [][2]uint32

	// Repacked holds tile<<5|lane entries grouped by network.
	Repacked []uint32

	Args IndirectArgs
}

// Segment returns the range of Repacked that belongs to network k.
func (s *Snapshot) Segment(k uint32) (start, end uint32) {
	if k > 0 {
		start = s.Usage[k-1][1]
	}
	return start, s.Usage[k][1]
}

// RepackedEntry splits a repacked entry into its tile and lane.
func RepackedEntry(e uint32) (tile, lane uint32) { return e >> 5, e & (WorkGroupSize - 1) }

// ReadLists reads the tile buffers back after the classification has been
// submitted. It blocks until the device is idle.
func (c *TileClassifier) ReadLists(ctx context.Context) (*Snapshot, error) {
	read := func(b gpucore.Buffer, size uint64) ([]uint32, error) {
		raw := make([]byte, size)
		if err := c.dev.ReadBuffer(ctx, b, 0, raw); err != nil {
			return nil, fmt.Errorf("classify: read back: %w", err)
		}
		words := make([]uint32, size/4)
		for i := range words {
			words[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
		return words, nil
	}
	list := func(words []uint32) []uint32 {
		n := min(uint64(words[0]), uint64(len(words)-1))
		return words[1 : 1+n]
	}

	sizes := BufferSizes(c.grid, c.numMLPs)
	var s Snapshot
	bufs := c.buffers.all()
	words := make([][]uint32, len(bufs))
	for i, b := range bufs {
		var err error
		if words[i], err = read(*b, sizes[i]); err != nil {
			return nil, err
		}
	}
	s.Active = list(words[0])
	s.Uniform = list(words[1])
	s.Complex = list(words[2])
	s.Usage = make([][2]uint32, c.numMLPs)
	for k := range s.Usage {
		s.Usage[k] = [2]uint32{words[3][2*k], words[3][2*k+1]}
	}
	s.Repacked = list(words[4])

	raw := make([]byte, IndirectArgsSize)
	for i, w := range words[5] {
		binary.LittleEndian.PutUint32(raw[i*4:], w)
	}
	args, err := DecodeIndirectArgs(raw)
	if err != nil {
		return nil, err
	}
	s.Args = args
	return &s, nil
}
