// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

// TextureChannels is the number of G-buffer channels stored in the
// uncompressed material atlases.
const TextureChannels = 6

// TextureMaterial writes the G-buffer of the active tiles from two
// material atlases, _Texture0 (albedo, roughness) and _Texture1
// (metalness, occlusion). Network n owns an S×S block starting at row
// n*S, where S is the atlas width. Texels are point sampled with
// wrapping, and channels past TextureChannels are zeroed.
type TextureMaterial struct {
	ChannelCount uint32
}

// AtlasTexel returns the texel of network n's block that covers uv in a
// material atlas of width size.
func AtlasTexel(u, v float32, network, size uint32) (x, y uint32) {
	fx := u - math32.Floor(u)
	fy := v - math32.Floor(v)
	x = min(uint32(fx*float32(size)), size-1)
	y = min(uint32(fy*float32(size)), size-1)
	return x, network*size + y
}

// Run implements Kernel.
func (k *TextureMaterial) Run(res Resources, groups [3]uint32) error {
	b := &binder{res: res}
	sc := bindScene(b)
	tiles := b.words("_TileBuffer")
	tex0 := b.texture("_Texture0")
	tex1 := b.texture("_Texture1")
	out := b.words("_OutputBufferRW")
	if b.err != nil {
		return b.err
	}
	if k.ChannelCount < TextureChannels {
		return fmt.Errorf("refkernels: texture material needs %d channels, have %d", TextureChannels, k.ChannelCount)
	}
	if tex0.Width != tex1.Width || tex0.Height != tex1.Height {
		return fmt.Errorf("refkernels: material atlases differ: %dx%d and %dx%d", tex0.Width, tex0.Height, tex1.Width, tex1.Height)
	}
	pixels := uint64(sc.c.ScreenSize[0]) * uint64(sc.c.ScreenSize[1])
	if err := requireLen("_OutputBufferRW", out, pixels*uint64(k.ChannelCount)); err != nil {
		return err
	}

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
			tx, ty := AtlasTexel(s.UV[0], s.UV[1], s.Network, tex0.Width)
			t0 := tex0.Load(tx, ty, 0)
			t1 := tex1.Load(tx, ty, 0)
			ch := [TextureChannels]float32{t0[0], t0[1], t0[2], t0[3], t1[0], t1[1]}

			base := (y*sc.c.ScreenSize[0] + x) * k.ChannelCount
			for c := uint32(0); c < k.ChannelCount; c++ {
				var v float32
				if c < TextureChannels {
					v = ch[c]
				}
				out[base+c] = math.Float32bits(v)
			}
		}
	})
	return nil
}
