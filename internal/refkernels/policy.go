// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"fmt"
	"slices"
)

// TilePolicy decides whether a tile is uniform (one network serves every
// pixel) or complex (pixels are repacked per network).
//
// Uniform is called only for tiles with at least one covered pixel;
// networks holds the network of each covered pixel in lane order. Empty
// tiles are always uniform and charged to network 0. The returned network
// is charged with the uniform tile.
type TilePolicy interface {
	Uniform(networks []uint32) (network uint32, ok bool)
}

// DominantCoversTile is uniform exactly when every covered pixel uses the
// same network. It matches the WGSL first pass.
type DominantCoversTile struct{}

// Uniform implements TilePolicy.
func (DominantCoversTile) Uniform(networks []uint32) (uint32, bool) {
	first := networks[0]
	for _, n := range networks[1:] {
		if n != first {
			return 0, false
		}
	}
	return first, true
}

// DominantFraction treats a tile as uniform when its most frequent network
// covers at least the given fraction of the covered pixels. Ties go to the
// lower network id.
type DominantFraction float32

// Uniform implements TilePolicy.
func (f DominantFraction) Uniform(networks []uint32) (uint32, bool) {
	sorted := slices.Clone(networks)
	slices.Sort(sorted)

	best, bestCount := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestCount {
			best, bestCount = sorted[i], j-i
		}
		i = j
	}
	return best, float32(bestCount) >= float32(f)*float32(len(networks))
}

func (f DominantFraction) String() string { return fmt.Sprintf("DominantFraction(%g)", float32(f)) }
