// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"fmt"
	"strconv"

	"github.com/gogpu/tsnc/shaders"
)

// Reset clears the list counters and the MLP usage pairs.
func Reset(res Resources, groups [3]uint32) error {
	b := &binder{res: res}
	c := b.constants()
	active := b.words("_ActiveTileBufferRW")
	uniform := b.words("_UniformTileBufferRW")
	complexTiles := b.words("_ComplexTileBufferRW")
	usage := b.words("_MLPUsageBufferRW")
	if b.err != nil {
		return b.err
	}
	if err := requireLen("_MLPUsageBufferRW", usage, 2*uint64(c.MLPCount)); err != nil {
		return err
	}

	forGroups(groups, func(uint32) {
		active[0] = 0
		uniform[0] = 0
		complexTiles[0] = 0
		clear(usage[:2*c.MLPCount])
	})
	return nil
}

// FirstPass returns the first-pass classifier for policy.
// A nil policy means DominantCoversTile.
func FirstPass(policy TilePolicy) KernelFunc {
	if policy == nil {
		policy = DominantCoversTile{}
	}
	return func(res Resources, groups [3]uint32) error {
		b := &binder{res: res}
		sc := bindScene(b)
		active := b.words("_ActiveTileBufferRW")
		uniform := b.words("_UniformTileBufferRW")
		complexTiles := b.words("_ComplexTileBufferRW")
		usage := b.words("_MLPUsageBufferRW")
		if b.err != nil {
			return b.err
		}
		if sc.c.MLPCount == 0 {
			return fmt.Errorf("refkernels: first pass with zero networks")
		}
		if err := requireLen("_MLPUsageBufferRW", usage, 2*uint64(sc.c.MLPCount)); err != nil {
			return err
		}

		covered := make([]uint32, 0, WorkGroupSize)
		forGroups(groups, func(tile uint32) {
			covered = covered[:0]
			for lane := uint32(0); lane < WorkGroupSize; lane++ {
				if n := sc.pixelNetwork(TilePixel(tile, lane, sc.c.TileCount)); n != NoNetwork {
					covered = append(covered, n)
				}
			}

			if len(covered) > 0 {
				active[0]++
				active[active[0]] = tile
			}

			network, ok := uint32(0), true
			if len(covered) > 0 {
				network, ok = policy.Uniform(covered)
			}
			if ok {
				uniform[0]++
				uniform[uniform[0]] = tile
				usage[2*min(network, sc.c.MLPCount-1)]++
				return
			}

			complexTiles[0]++
			complexTiles[complexTiles[0]] = tile
			for _, n := range covered {
				usage[2*n+1]++
			}
		})
		return nil
	}
}

// ArgsOffsets are the word offsets of the four indirect argument groups.
type ArgsOffsets struct {
	ActiveTiles       uint32
	UniformInference  uint32
	SecondPass        uint32
	RepackedInference uint32
}

// Defines returns the pre-processor defines for o.
func (o ArgsOffsets) Defines() []string {
	return []string{
		fmt.Sprintf("%s=%d", shaders.DefineArgsActiveTiles, o.ActiveTiles),
		fmt.Sprintf("%s=%d", shaders.DefineArgsUniformInference, o.UniformInference),
		fmt.Sprintf("%s=%d", shaders.DefineArgsSecondPass, o.SecondPass),
		fmt.Sprintf("%s=%d", shaders.DefineArgsRepackedInference, o.RepackedInference),
	}
}

// SplitGroups spreads n workgroups over x and y so neither exceeds
// MaxGroupsPerDimension. The result always has y >= 1 and z == 1.
func SplitGroups(n uint32) [3]uint32 {
	return [3]uint32{
		min(n, MaxGroupsPerDimension),
		max((n+MaxGroupsPerDimension-1)/MaxGroupsPerDimension, 1),
		1,
	}
}

// PrepareIndirection returns the single-invocation kernel that turns the
// classification counts into indirect arguments at offsets.
func PrepareIndirection(offsets ArgsOffsets) KernelFunc {
	return func(res Resources, groups [3]uint32) error {
		b := &binder{res: res}
		c := b.constants()
		active := b.words("_ActiveTileBuffer")
		b.words("_UniformTileBuffer")
		complexTiles := b.words("_ComplexTileBuffer")
		usage := b.words("_MLPUsageBufferRW")
		args := b.words("_IndirectDispatchBufferRW")
		repacked := b.words("_IndexedTilesBufferRW")
		if b.err != nil {
			return b.err
		}
		last := max(offsets.ActiveTiles, offsets.UniformInference, offsets.SecondPass, offsets.RepackedInference)
		if err := requireLen("_IndirectDispatchBufferRW", args, uint64(last)+3); err != nil {
			return err
		}
		if err := requireLen("_MLPUsageBufferRW", usage, 2*uint64(c.MLPCount)); err != nil {
			return err
		}

		write := func(base, n uint32) {
			g := SplitGroups(n)
			copy(args[base:base+3], g[:])
		}
		forGroups(groups, func(uint32) {
			var uniformTiles, complexPixels uint32
			for k := uint32(0); k < c.MLPCount; k++ {
				uniformTiles += usage[2*k]
				pixels := usage[2*k+1]
				usage[2*k+1] = complexPixels
				complexPixels += pixels
			}
			write(offsets.ActiveTiles, active[0])
			write(offsets.UniformInference, uniformTiles)
			write(offsets.SecondPass, complexTiles[0])
			write(offsets.RepackedInference, (complexPixels+WorkGroupSize-1)/WorkGroupSize)
			repacked[0] = complexPixels
		})
		return nil
	}
}

// SecondPass repacks the covered pixels of complex tiles into per-network
// segments of the repacked list. Entries are tile<<5 | lane.
func SecondPass(res Resources, groups [3]uint32) error {
	b := &binder{res: res}
	sc := bindScene(b)
	complexTiles := b.words("_ComplexTileBuffer")
	usage := b.words("_MLPUsageBufferRW")
	repacked := b.words("_IndexedTilesBufferRW")
	if b.err != nil {
		return b.err
	}

	forGroups(groups, func(group uint32) {
		if group >= complexTiles[0] {
			return
		}
		tile := complexTiles[1+group]
		for lane := uint32(0); lane < WorkGroupSize; lane++ {
			n := sc.pixelNetwork(TilePixel(tile, lane, sc.c.TileCount))
			if n == NoNetwork {
				continue
			}
			slot := usage[2*n+1]
			usage[2*n+1]++
			repacked[1+slot] = tile<<5 | lane
		}
	})
	return nil
}

func defineUint(defines map[string]string, name string) (uint32, error) {
	v, ok := defines[name]
	if !ok {
		return 0, fmt.Errorf("refkernels: missing define %s", name)
	}
	n, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("refkernels: define %s=%q: %w", name, v, err)
	}
	return uint32(n), nil
}

func argsOffsetsFrom(defines map[string]string) (ArgsOffsets, error) {
	var o ArgsOffsets
	var err error
	for _, f := range []struct {
		name string
		dst  *uint32
	}{
		{shaders.DefineArgsActiveTiles, &o.ActiveTiles},
		{shaders.DefineArgsUniformInference, &o.UniformInference},
		{shaders.DefineArgsSecondPass, &o.SecondPass},
		{shaders.DefineArgsRepackedInference, &o.RepackedInference},
	} {
		if *f.dst, err = defineUint(defines, f.name); err != nil {
			return o, err
		}
	}
	return o, nil
}
