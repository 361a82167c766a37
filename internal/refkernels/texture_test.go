// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"testing"

	"github.com/gogpu/tsnc/frame"
	"github.com/gogpu/tsnc/gpucore"
)

func TestAtlasTexel(t *testing.T) {
	tests := []struct {
		u, v          float32
		network, size uint32
		x, y          uint32
	}{
		{0.5, 0.5, 0, 4, 2, 2},
		{0.5, 0.5, 2, 4, 2, 10},
		{0, 0, 1, 4, 0, 4},
		{1.25, -0.25, 0, 4, 1, 3},
		{0.999, 0.999, 0, 4, 3, 3},
	}
	for _, tt := range tests {
		x, y := AtlasTexel(tt.u, tt.v, tt.network, tt.size)
		if x != tt.x || y != tt.y {
			t.Errorf("AtlasTexel(%g, %g, %d, %d) = (%d, %d), want (%d, %d)",
				tt.u, tt.v, tt.network, tt.size, x, y, tt.x, tt.y)
		}
	}
}

// textureResources binds an 8x4 screen split into network 0 (left) and
// network 1 (right), with 2x4 atlases holding two 2x2 blocks.
func textureResources(t *testing.T) *mapResources {
	t.Helper()
	verts, indices := testMesh([]uint32{0, 1})
	vis := testVisibility(t, 8, 4, func(x, y uint32) uint32 {
		switch {
		case y == 3 && x == 0:
			return 0
		case x < 4:
			return 1
		default:
			return 2
		}
	})
	c := frame.Constants{ScreenSize: [2]uint32{8, 4}, TileCount: [2]uint32{1, 1}, MLPCount: 2}

	res := newResources()
	res.bufs["_GlobalCB"] = bytesToWords(c.Bytes())
	res.textures["_VisibilityBuffer"] = vis
	res.bufs["_VertexBuffer"] = verts
	res.bufs["_IndexBuffer"] = indices
	res.bufs["_TileBuffer"] = []uint32{1, 0}
	res.bufs["_OutputBufferRW"] = make([]uint32, 8*4*8)

	for i, name := range []string{"_Texture0", "_Texture1"} {
		img, err := NewImage(2, 4, 1, gpucore.TextureFormatRGBA8Unorm)
		if err != nil {
			t.Fatal(err)
		}
		// uv (0.5, 0.5) lands on texel (1, 1) of each block.
		copy(img.Mips[0][img.offset(1, 1, 0):], []byte{255, 0, byte(51 * (i + 1)), 102})
		copy(img.Mips[0][img.offset(1, 3, 0):], []byte{0, 255, 204, 153})
		res.textures[name] = img
	}
	return res
}

func TestTextureMaterialWritesGBuffer(t *testing.T) {
	res := textureResources(t)
	k := &TextureMaterial{ChannelCount: 8}
	if err := k.Run(res, [3]uint32{1, 1, 1}); err != nil {
		t.Fatal(err)
	}
	out := F32Words(res.bufs["_OutputBufferRW"])
	pixel := func(x, y uint32) uint32 { return (y*8 + x) * 8 }
	tests := []struct {
		x, y uint32
		want [8]float32
	}{
		{1, 0, [8]float32{1, 0, 0.2, 0.4, 1, 0, 0, 0}},
		{6, 2, [8]float32{0, 1, 0.8, 0.6, 0, 1, 0, 0}},
		{0, 3, [8]float32{}},
	}
	for _, tt := range tests {
		for c, w := range tt.want {
			if got := out.At(pixel(tt.x, tt.y) + uint32(c)); !near(got, w) {
				t.Errorf("pixel (%d,%d) channel %d = %g, want %g", tt.x, tt.y, c, got, w)
			}
		}
	}
}

func TestTextureMaterialErrors(t *testing.T) {
	res := textureResources(t)
	if err := (&TextureMaterial{ChannelCount: 4}).Run(res, [3]uint32{1, 1, 1}); err == nil {
		t.Error("4 channels accepted")
	}
	small, err := NewImage(2, 2, 1, gpucore.TextureFormatRGBA8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	res.textures["_Texture1"] = small
	if err := (&TextureMaterial{ChannelCount: 8}).Run(res, [3]uint32{1, 1, 1}); err == nil {
		t.Error("mismatched atlases accepted")
	}
}
