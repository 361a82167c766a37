// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package refkernels

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chewxy/math32"

	"github.com/gogpu/tsnc/gpucore"
)

// Image is the CPU copy of a texture: tightly packed texels per mip level.
type Image struct {
	Width  uint32
	Height uint32
	Format gpucore.TextureFormat
	Mips   [][]byte
}

// NewImage allocates a zeroed image with mips levels.
func NewImage(width, height, mips uint32, format gpucore.TextureFormat) (*Image, error) {
	bpp := format.BytesPerTexel()
	if bpp == 0 {
		return nil, fmt.Errorf("refkernels: %w: %v", gpucore.ErrUnsupportedFormat, format)
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("refkernels: empty image %dx%d", width, height)
	}
	if mips == 0 {
		mips = 1
	}
	img := &Image{Width: width, Height: height, Format: format, Mips: make([][]byte, mips)}
	for m := range img.Mips {
		w, h := img.MipSize(uint32(m))
		img.Mips[m] = make([]byte, int(w)*int(h)*bpp)
	}
	return img, nil
}

// MipSize returns the dimensions of mip level m.
func (img *Image) MipSize(m uint32) (w, h uint32) {
	return max(img.Width>>m, 1), max(img.Height>>m, 1)
}

func (img *Image) offset(x, y, mip uint32) int {
	w, _ := img.MipSize(mip)
	return (int(y)*int(w) + int(x)) * img.Format.BytesPerTexel()
}

func (img *Image) inBounds(x, y, mip uint32) bool {
	if int(mip) >= len(img.Mips) {
		return false
	}
	w, h := img.MipSize(mip)
	return x < w && y < h
}

// LoadUint returns the integer channels of a texel, like textureLoad on a
// texture_2d<u32>. Out-of-bounds loads return zero.
func (img *Image) LoadUint(x, y, mip uint32) [4]uint32 {
	var out [4]uint32
	if !img.inBounds(x, y, mip) {
		return out
	}
	p := img.Mips[mip][img.offset(x, y, mip):]
	switch img.Format {
	case gpucore.TextureFormatRG32Uint:
		out = [4]uint32{binary.LittleEndian.Uint32(p), binary.LittleEndian.Uint32(p[4:]), 0, 1}
	case gpucore.TextureFormatRGBA8Unorm:
		out = [4]uint32{uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(p[3])}
	}
	return out
}

// Load returns the normalized channels of a texel. Missing channels read
// as 0 and alpha as 1. Out-of-bounds loads return zero.
func (img *Image) Load(x, y, mip uint32) [4]float32 {
	if !img.inBounds(x, y, mip) {
		return [4]float32{}
	}
	p := img.Mips[mip][img.offset(x, y, mip):]
	f := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:])) }
	switch img.Format {
	case gpucore.TextureFormatRGBA8Unorm:
		return [4]float32{float32(p[0]) / 255, float32(p[1]) / 255, float32(p[2]) / 255, float32(p[3]) / 255}
	case gpucore.TextureFormatR32Float:
		return [4]float32{f(0), 0, 0, 1}
	case gpucore.TextureFormatRGBA32Float:
		return [4]float32{f(0), f(1), f(2), f(3)}
	case gpucore.TextureFormatRG32Uint:
		return [4]float32{float32(binary.LittleEndian.Uint32(p)), float32(binary.LittleEndian.Uint32(p[4:])), 0, 1}
	}
	return [4]float32{}
}

// Sample filters the image at normalized coordinates (u, v) and level of
// detail lod, like textureSampleLevel. Anisotropic sampling at an explicit
// level reduces to bilinear filtering.
func (img *Image) Sample(s gpucore.SamplerDesc, u, v, lod float32) [4]float32 {
	lod = math32.Min(math32.Max(lod, s.MinLOD), math32.Max(s.MaxLOD, s.MinLOD))
	mip := uint32(math32.Max(math32.Floor(lod+0.5), 0))
	if last := uint32(len(img.Mips) - 1); mip > last {
		mip = last
	}
	w, h := img.MipSize(mip)

	if s.Filter == gpucore.FilterPoint {
		x := address(int(math32.Floor(u*float32(w))), w, s.Address)
		y := address(int(math32.Floor(v*float32(h))), h, s.Address)
		return img.Load(x, y, mip)
	}

	fx := u*float32(w) - 0.5
	fy := v*float32(h) - 0.5
	x0f, y0f := math32.Floor(fx), math32.Floor(fy)
	tx, ty := fx-x0f, fy-y0f
	x0, y0 := int(x0f), int(y0f)

	c00 := img.Load(address(x0, w, s.Address), address(y0, h, s.Address), mip)
	c10 := img.Load(address(x0+1, w, s.Address), address(y0, h, s.Address), mip)
	c01 := img.Load(address(x0, w, s.Address), address(y0+1, h, s.Address), mip)
	c11 := img.Load(address(x0+1, w, s.Address), address(y0+1, h, s.Address), mip)

	var out [4]float32
	for i := range out {
		top := c00[i]*(1-tx) + c10[i]*tx
		bottom := c01[i]*(1-tx) + c11[i]*tx
		out[i] = top*(1-ty) + bottom*ty
	}
	return out
}

func address(i int, n uint32, mode gpucore.AddressMode) uint32 {
	size := int(n)
	switch mode {
	case gpucore.AddressClamp:
		return uint32(min(max(i, 0), size-1))
	default:
		return uint32(((i % size) + size) % size)
	}
}
