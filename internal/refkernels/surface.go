// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"math"

	"github.com/gogpu/tsnc/frame"
)

// Pixel and mesh layout constants shared with the WGSL kernels.
const (
	WorkGroupSize = 32
	TileWidth     = 8
	TileHeight    = 4

	// MaxGroupsPerDimension is the largest workgroup count of one dispatch axis.
	MaxGroupsPerDimension = 65535

	// VertexStride is the number of 32-bit words per vertex:
	// position, normal and uv as f32 followed by the network id.
	VertexStride = 9

	// NoNetwork marks pixels without geometry.
	NoNetwork = math.MaxUint32
)

// TilePixel returns the screen position of pixel lane of tile.
func TilePixel(tile, lane uint32, tileCount [2]uint32) (x, y uint32) {
	tx := tile % tileCount[0]
	ty := tile / tileCount[0]
	return tx*TileWidth + lane%TileWidth, ty*TileHeight + lane/TileWidth
}

// Surface is the interpolated geometry under one pixel.
type Surface struct {
	Covered  bool
	Network  uint32
	Position Vec3
	Normal   Vec3
	UV       [2]float32
}

// scene is the geometry bound to a dispatch.
type scene struct {
	c       frame.Constants
	vis     *Image
	verts   []uint32
	indices []uint32
}

func bindScene(b *binder) scene {
	return scene{
		c:       b.constants(),
		vis:     b.texture("_VisibilityBuffer"),
		verts:   b.words("_VertexBuffer"),
		indices: b.words("_IndexBuffer"),
	}
}

func (s *scene) vertexF32(v, offset uint32) float32 {
	return math.Float32frombits(s.verts[v*VertexStride+offset])
}

func (s *scene) vertexVec3(v, offset uint32) Vec3 {
	return Vec3{s.vertexF32(v, offset), s.vertexF32(v, offset+1), s.vertexF32(v, offset+2)}
}

func (s *scene) triangleNetwork(tri uint32) uint32 {
	v0 := s.indices[tri*3]
	id := s.verts[v0*VertexStride+8]
	if s.c.MLPCount == 0 {
		return 0
	}
	return min(id, s.c.MLPCount-1)
}

func (s *scene) offscreen(x, y uint32) bool {
	return x >= s.c.ScreenSize[0] || y >= s.c.ScreenSize[1]
}

func (s *scene) pixelNetwork(x, y uint32) uint32 {
	if s.offscreen(x, y) {
		return NoNetwork
	}
	vis := s.vis.LoadUint(x, y, 0)
	if vis[0] == 0 {
		return NoNetwork
	}
	return s.triangleNetwork(vis[0] - 1)
}

func (s *scene) surface(x, y uint32) Surface {
	var out Surface
	if s.offscreen(x, y) {
		return out
	}
	vis := s.vis.LoadUint(x, y, 0)
	if vis[0] == 0 {
		return out
	}
	tri := vis[0] - 1
	b1 := float32(vis[1]&0xffff) / 65535
	b2 := float32(vis[1]>>16) / 65535
	b0 := 1 - b1 - b2

	i0, i1, i2 := s.indices[tri*3], s.indices[tri*3+1], s.indices[tri*3+2]
	bary := func(offset uint32) Vec3 {
		return s.vertexVec3(i0, offset).Scale(b0).
			Add(s.vertexVec3(i1, offset).Scale(b1)).
			Add(s.vertexVec3(i2, offset).Scale(b2))
	}

	out.Covered = true
	out.Network = s.triangleNetwork(tri)
	out.Position = bary(0)
	n := bary(3)
	if n.Dot(n) > 0 {
		out.Normal = n.Normalize()
	} else {
		out.Normal = Vec3{0, 0, 1}
	}
	for i := uint32(0); i < 2; i++ {
		out.UV[i] = s.vertexF32(i0, 6+i)*b0 + s.vertexF32(i1, 6+i)*b1 + s.vertexF32(i2, 6+i)*b2
	}
	return out
}

// PackBarycentrics encodes b1 and b2 as the visibility texel's second word.
func PackBarycentrics(b1, b2 float32) uint32 {
	q := func(v float32) uint32 { return uint32(clamp01(v)*65535 + 0.5) }
	return q(b1) | q(b2)<<16
}
