package frame

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestConstantsFieldOffsets(t *testing.T) {
	c := Constants{
		ScreenSize:      [2]uint32{1920, 1080},
		TileCount:       [2]uint32{240, 270},
		FrameIndex:      42,
		MLPCount:        3,
		AnimationFactor: 0.5,
		PackedWeights:   1,
	}
	c.SunDirection[3] = 2.5

	buf := c.Bytes()
	if len(buf) != Size {
		t.Fatalf("len(Bytes()) = %d, want %d", len(buf), Size)
	}

	le := binary.LittleEndian
	tests := []struct {
		name string
		off  int
		want uint32
	}{
		{"screen.x", 160, 1920},
		{"screen.y", 164, 1080},
		{"tiles.x", 168, 240},
		{"tiles.y", 172, 270},
		{"frame_index", 184, 42},
		{"mlp_count", 188, 3},
		{"animation_factor", 208, math.Float32bits(0.5)},
		{"sun.w", 156, math.Float32bits(2.5)},
		{"packed_weights", 220, 1},
	}
	for _, tt := range tests {
		if got := le.Uint32(buf[tt.off:]); got != tt.want {
			t.Errorf("%s at %d = %d, want %d", tt.name, tt.off, got, tt.want)
		}
	}
}

func TestDecodeReadsEncodedBlock(t *testing.T) {
	want := Constants{
		ViewProj:        Identity(),
		InvViewProj:     Identity(),
		CameraPosition:  [4]float32{1, 2, 3, 0},
		SunDirection:    [4]float32{0, 1, 0, 1},
		ScreenSize:      [2]uint32{64, 32},
		TileCount:       [2]uint32{8, 8},
		TextureSize:     [2]uint32{256, 256},
		FrameIndex:      7,
		MLPCount:        4,
		MeshNumVerts:    99,
		EnableFiltering: 1,
		ChannelSet:      2,
		NumTextureLOD:   9,
		AnimationFactor: 0.25,
		AnimationTime:   1.5,
		EnablePP:        1,
		PackedWeights:   1,
	}
	buf := want.Bytes()
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}

	got, err := Decode(words)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Errorf("Decode mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodeShortBlock(t *testing.T) {
	if _, err := Decode(make([]uint32, 10)); err == nil {
		t.Error("Decode of short block should fail")
	}
}
