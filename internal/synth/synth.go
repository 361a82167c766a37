// Package synth builds deterministic synthetic scenes and networks for
// tests and the demo renderer.
//
// A scene maps every pixel to one triangle (or background) through a
// visibility buffer. All triangles share the same vertex layout, so the
// interpolated uv of pixel (x, y) is ((x+0.5)/w, (y+0.5)/h) whatever
// triangle covers it.
package synth

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"math/rand/v2"

	"github.com/gogpu/tsnc/frame"
	"github.com/gogpu/tsnc/internal/refkernels"
)

// Background marks an uncovered pixel.
const Background = -1

// Scene is a visibility buffer plus the mesh it refers to.
type Scene struct {
	Width, Height uint32

	// Networks holds the network id of every triangle.
	Networks []uint32

	// Vertices and Indices are laid out as the kernels read them.
	Vertices []uint32
	Indices  []uint32

	// Visibility holds RG32Uint texels, row-major.
	Visibility []byte

	tri []int32
}

// NewScene builds a scene with one triangle per entry of networks;
// cover returns the triangle index under a pixel, or Background.
func NewScene(w, h uint32, networks []uint32, cover func(x, y uint32) int) *Scene {
	s := &Scene{
		Width:      w,
		Height:     h,
		Networks:   networks,
		Visibility: make([]byte, int(w*h)*8),
		tri:        make([]int32, w*h),
	}
	f := math.Float32bits
	corners := [3]struct{ px, py, u, v float32 }{
		{-1, -1, 0, 0},
		{3, -1, 2, 0},
		{-1, 3, 0, 2},
	}
	for t, n := range networks {
		tilt := float32(t%4) * 0.15
		for i, c := range corners {
			s.Vertices = append(s.Vertices,
				f(c.px), f(c.py), 0,
				f(tilt), f(-tilt), f(1),
				f(c.u), f(c.v),
				n)
			s.Indices = append(s.Indices, uint32(3*t+i))
		}
	}

	for y := range h {
		for x := range w {
			t := cover(x, y)
			s.tri[y*w+x] = int32(t)
			if t == Background {
				continue
			}
			b1 := (float32(x) + 0.5) / float32(w) / 2
			b2 := (float32(y) + 0.5) / float32(h) / 2
			off := (y*w + x) * 8
			binary.LittleEndian.PutUint32(s.Visibility[off:], uint32(t)+1)
			binary.LittleEndian.PutUint32(s.Visibility[off+4:], refkernels.PackBarycentrics(b1, b2))
		}
	}
	return s
}

// Triangle returns the triangle under (x, y), or Background.
func (s *Scene) Triangle(x, y uint32) int {
	return int(s.tri[y*s.Width+x])
}

// Network returns the network of pixel (x, y) clamped to numMLPs, and
// false for background pixels.
func (s *Scene) Network(x, y, numMLPs uint32) (uint32, bool) {
	t := s.Triangle(x, y)
	if t == Background {
		return 0, false
	}
	return min(s.Networks[t], numMLPs-1), true
}

// TileCount returns the tile grid covering the scene.
func (s *Scene) TileCount() [2]uint32 {
	return [2]uint32{
		(s.Width + refkernels.TileWidth - 1) / refkernels.TileWidth,
		(s.Height + refkernels.TileHeight - 1) / refkernels.TileHeight,
	}
}

// Constants returns the frame constants for rendering the scene with
// numMLPs networks: an identity camera looking down -z from z=2 and a
// sun from the upper right.
func (s *Scene) Constants(numMLPs uint32) frame.Constants {
	sun := [3]float32{0.3, 0.5, 0.8}
	l := float32(math.Sqrt(float64(sun[0]*sun[0] + sun[1]*sun[1] + sun[2]*sun[2])))
	return frame.Constants{
		ViewProj:       frame.Identity(),
		InvViewProj:    frame.Identity(),
		CameraPosition: [4]float32{0, 0, 2, 1},
		SunDirection:   [4]float32{sun[0] / l, sun[1] / l, sun[2] / l, 3},
		ScreenSize:     [2]uint32{s.Width, s.Height},
		TileCount:      s.TileCount(),
		MLPCount:       numMLPs,
		MeshNumVerts:   uint32(len(s.Vertices) / refkernels.VertexStride),
	}
}

// VertexBytes returns the vertex buffer contents.
func (s *Scene) VertexBytes() []byte { return wordBytes(s.Vertices) }

// IndexBytes returns the index buffer contents.
func (s *Scene) IndexBytes() []byte { return wordBytes(s.Indices) }

func wordBytes(words []uint32) []byte {
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

// Solid covers the whole screen with one triangle of the given network.
func Solid(w, h, network uint32) *Scene {
	return NewScene(w, h, []uint32{network}, func(x, y uint32) int { return 0 })
}

// Mosaic splits the screen into cell×cell squares, each assigned a random
// network or, with probability 1/8, left empty. Triangle i uses network i.
// A cell size that is not a multiple of the tile size yields complex tiles.
func Mosaic(w, h, numMLPs, cell uint32, seed uint64) *Scene {
	rng := newRand(seed)
	cols := (w + cell - 1) / cell
	rows := (h + cell - 1) / cell
	cells := make([]int, cols*rows)
	for i := range cells {
		if rng.IntN(8) == 0 {
			cells[i] = Background
			continue
		}
		cells[i] = rng.IntN(int(numMLPs))
	}
	networks := make([]uint32, numMLPs)
	for i := range networks {
		networks[i] = uint32(i)
	}
	return NewScene(w, h, networks, func(x, y uint32) int {
		return cells[(y/cell)*cols+x/cell]
	})
}

// Stripes assigns vertical stripes of the given width to networks in turn.
func Stripes(w, h, numMLPs, width uint32) *Scene {
	networks := make([]uint32, numMLPs)
	for i := range networks {
		networks[i] = uint32(i)
	}
	return NewScene(w, h, networks, func(x, y uint32) int {
		return int((x / width) % numMLPs)
	})
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Layers returns random weights and biases for numMLPs networks whose
// layer i maps sizes[i] inputs to sizes[i+1] outputs. Weights are
// row-major per network, scaled by 1/sqrt(inputs).
func Layers(numMLPs uint32, sizes [4]uint32, seed uint64) (weights, biases [3][]float32) {
	rng := newRand(seed)
	for l := range 3 {
		in, out := sizes[l], sizes[l+1]
		scale := float32(1 / math.Sqrt(float64(in)))
		weights[l] = make([]float32, numMLPs*in*out)
		for i := range weights[l] {
			weights[l][i] = (rng.Float32()*2 - 1) * scale
		}
		biases[l] = make([]float32, numMLPs*out)
		for i := range biases[l] {
			biases[l][i] = (rng.Float32()*2 - 1) * 0.1
		}
	}
	return weights, biases
}

// Latent returns four size×size latent textures of smooth noise.
func Latent(size uint32, seed uint64) [4]*image.NRGBA {
	rng := newRand(seed)
	var out [4]*image.NRGBA
	for t := range out {
		var phase, freq [4]float64
		for c := range 4 {
			phase[c] = rng.Float64() * 2 * math.Pi
			freq[c] = 1 + float64(rng.IntN(4))
		}
		img := image.NewNRGBA(image.Rect(0, 0, int(size), int(size)))
		for y := range int(size) {
			for x := range int(size) {
				u := float64(x) / float64(size)
				v := float64(y) / float64(size)
				var px [4]uint8
				for c := range 4 {
					s := math.Sin(2*math.Pi*freq[c]*u+phase[c]) * math.Cos(2*math.Pi*freq[c]*v-phase[c])
					px[c] = uint8(127.5 + 127.5*s)
				}
				img.SetNRGBA(x, y, color.NRGBA{px[0], px[1], px[2], px[3]})
			}
		}
		out[t] = img
	}
	return out
}

// UVOffsets returns one small random uv offset per network.
func UVOffsets(numMLPs uint32, seed uint64) [][2]float32 {
	rng := newRand(seed)
	out := make([][2]float32, numMLPs)
	for i := range out {
		out[i] = [2]float32{rng.Float32() * 0.25, rng.Float32() * 0.25}
	}
	return out
}
