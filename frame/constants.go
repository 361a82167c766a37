// Package frame defines the per-frame global constant block shared by every
// classification, inference and lighting kernel.
package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Size is the byte size of the encoded constant block.
// It matches the WGSL GlobalCB struct under uniform layout rules.
const Size = 224

// Constants mirrors the WGSL GlobalCB struct bound as _GlobalCB.
type Constants struct {
	ViewProj    [16]float32
	InvViewProj [16]float32

	// CameraPosition is xyz in world space; w is unused.
	CameraPosition [4]float32

	// SunDirection points towards the sun; w is the intensity.
	SunDirection [4]float32

	ScreenSize  [2]uint32
	TileCount   [2]uint32
	TextureSize [2]uint32

	FrameIndex      uint32
	MLPCount        uint32
	MeshNumVerts    uint32
	EnableFiltering uint32
	ChannelSet      uint32
	NumTextureLOD   uint32

	AnimationFactor float32
	AnimationTime   float32

	EnablePP uint32

	// PackedWeights is 1 when the packed fp16 numeric path is active.
	PackedWeights uint32
}

// Bytes serializes c in little-endian format.
func (c *Constants) Bytes() []byte {
	buf := make([]byte, Size)
	le := binary.LittleEndian
	f := func(off int, v float32) { le.PutUint32(buf[off:off+4], math.Float32bits(v)) }
	u := func(off int, v uint32) { le.PutUint32(buf[off:off+4], v) }

	for i, v := range c.ViewProj {
		f(i*4, v)
	}
	for i, v := range c.InvViewProj {
		f(64+i*4, v)
	}
	for i := range 4 {
		f(128+i*4, c.CameraPosition[i])
		f(144+i*4, c.SunDirection[i])
	}
	for i := range 2 {
		u(160+i*4, c.ScreenSize[i])
		u(168+i*4, c.TileCount[i])
		u(176+i*4, c.TextureSize[i])
	}
	u(184, c.FrameIndex)
	u(188, c.MLPCount)
	u(192, c.MeshNumVerts)
	u(196, c.EnableFiltering)
	u(200, c.ChannelSet)
	u(204, c.NumTextureLOD)
	f(208, c.AnimationFactor)
	f(212, c.AnimationTime)
	u(216, c.EnablePP)
	u(220, c.PackedWeights)
	return buf
}

// Decode reads a constant block from 32-bit words, as a kernel sees it.
func Decode(words []uint32) (Constants, error) {
	var c Constants
	if len(words) < Size/4 {
		return c, fmt.Errorf("frame: constant block has %d words, want %d", len(words), Size/4)
	}
	f := func(i int) float32 { return math.Float32frombits(words[i]) }

	for i := range 16 {
		c.ViewProj[i] = f(i)
		c.InvViewProj[i] = f(16 + i)
	}
	for i := range 4 {
		c.CameraPosition[i] = f(32 + i)
		c.SunDirection[i] = f(36 + i)
	}
	for i := range 2 {
		c.ScreenSize[i] = words[40+i]
		c.TileCount[i] = words[42+i]
		c.TextureSize[i] = words[44+i]
	}
	c.FrameIndex = words[46]
	c.MLPCount = words[47]
	c.MeshNumVerts = words[48]
	c.EnableFiltering = words[49]
	c.ChannelSet = words[50]
	c.NumTextureLOD = words[51]
	c.AnimationFactor = f(52)
	c.AnimationTime = f(53)
	c.EnablePP = words[54]
	c.PackedWeights = words[55]
	return c, nil
}

// Identity returns a column-major 4x4 identity matrix.
func Identity() [16]float32 {
	return [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}
