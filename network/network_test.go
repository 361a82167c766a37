package network

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"golang.org/x/image/bmp"

	"github.com/gogpu/tsnc/backend/software"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/refkernels"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/internal/synth"
)

// testMLP returns numMLPs random networks with the given layer sizes.
func testMLP(numMLPs uint32, sizes [4]uint32, channels uint32) *CPUMLP {
	w, b := synth.Layers(numMLPs, sizes, 7)
	m := &CPUMLP{NumMLP: numMLPs, FinalChannelCount: channels, FinalBlockWidth: sizes[3]}
	for l := range m.Layers {
		m.Layers[l] = Layer{Width: sizes[l], Height: sizes[l+1], Weights: w[l], Bias: b[l]}
	}
	return m
}

func testModel(numMLPs uint32) *Model {
	return &Model{
		MLP:       testMLP(numMLPs, [4]uint32{16, 32, 16, 16}, 8),
		Latent:    synth.Latent(8, 3),
		UVOffsets: synth.UVOffsets(numMLPs, 5),
		NumSets:   1,
	}
}

func TestMLPBinaryRoundTrip(t *testing.T) {
	m := testMLP(2, [4]uint32{16, 20, 12, 9}, 6)
	raw, err := m.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var got CPUMLP
	if err := got.UnmarshalBinary(raw); err != nil {
		t.Fatal(err)
	}
	if got.NumMLP != 2 || got.FinalChannelCount != 6 || got.FinalBlockWidth != 9 {
		t.Errorf("header = %d/%d/%d", got.NumMLP, got.FinalChannelCount, got.FinalBlockWidth)
	}
	for l := range got.Layers {
		if got.Layers[l].Width != m.Layers[l].Width || got.Layers[l].Height != m.Layers[l].Height {
			t.Errorf("layer %d is %dx%d", l, got.Layers[l].Width, got.Layers[l].Height)
		}
	}

	tests := map[string][]byte{
		"empty":     nil,
		"truncated": raw[:len(raw)-4],
		"trailing":  append(bytes.Clone(raw), 0, 0, 0, 0),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			var m CPUMLP
			if err := m.UnmarshalBinary(data); !errors.Is(err, ErrFormat) {
				t.Errorf("UnmarshalBinary = %v, want ErrFormat", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *CPUMLP)
	}{
		{"no networks", func(m *CPUMLP) { m.NumMLP = 0 }},
		{"broken chain", func(m *CPUMLP) { m.Layers[1].Width++ }},
		{"short weights", func(m *CPUMLP) { m.Layers[2].Weights = m.Layers[2].Weights[1:] }},
		{"short bias", func(m *CPUMLP) { m.Layers[0].Bias = m.Layers[0].Bias[1:] }},
		{"too few inputs", func(m *CPUMLP) { m.Layers[0].Width = 8 }},
		{"too many channels", func(m *CPUMLP) { m.FinalChannelCount = 17 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testMLP(2, [4]uint32{16, 16, 16, 16}, 8)
			tt.mutate(m)
			if err := m.Validate(); !errors.Is(err, ErrFormat) {
				t.Errorf("Validate = %v, want ErrFormat", err)
			}
		})
	}
}

func TestAlignDimensionsKeepsOutputs(t *testing.T) {
	m := testMLP(3, [4]uint32{16, 20, 12, 9}, 6)
	in := make([]float32, 16)
	for i := range in {
		in[i] = float32(i)/16 - 0.5
	}
	var want [3][]float32
	for n := range uint32(3) {
		var err error
		if want[n], err = m.Evaluate(n, in); err != nil {
			t.Fatal(err)
		}
	}

	m.AlignDimensions()
	if err := m.Validate(); err != nil {
		t.Fatalf("aligned model invalid: %v", err)
	}
	shapes := [3][2]uint32{{16, 32}, {32, 16}, {16, 16}}
	for l, s := range shapes {
		if got := [2]uint32{m.Layers[l].Width, m.Layers[l].Height}; got != s {
			t.Errorf("layer %d = %v, want %v", l, got, s)
		}
	}
	for n := range uint32(3) {
		got, err := m.Evaluate(n, in)
		if err != nil {
			t.Fatal(err)
		}
		for c := range got {
			if math.Abs(float64(got[c]-want[n][c])) > 1e-5 {
				t.Errorf("network %d channel %d = %v, want %v", n, c, got[c], want[n][c])
			}
		}
	}
	if _, err := m.Evaluate(3, in); err == nil {
		t.Error("Evaluate accepted an out-of-range network")
	}
}

func TestConvertGroups(t *testing.T) {
	tests := []struct {
		n    uint32
		want [3]uint32
	}{
		{0, [3]uint32{1, 1, 1}},
		{1, [3]uint32{1, 1, 1}},
		{128, [3]uint32{1, 1, 1}},
		{129, [3]uint32{2, 1, 1}},
		{2 * 64 * 65535, [3]uint32{65535, 1, 1}},
		{2*64*65535 + 2, [3]uint32{65535, 2, 1}},
	}
	for _, tt := range tests {
		if got := ConvertGroups(tt.n); got != tt.want {
			t.Errorf("ConvertGroups(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestUpload(t *testing.T) {
	for _, packed := range []bool{false, true} {
		name := "fp32"
		if packed {
			name = "packed"
		}
		t.Run(name, func(t *testing.T) {
			dev := software.New()
			defer dev.Close()
			tsnc := New(dev, packed)
			m := testModel(2)
			if err := tsnc.SetModel(m); err != nil {
				t.Fatal(err)
			}
			if err := tsnc.ReloadShaders(shaderlib.NewLoader("")); err != nil {
				t.Fatal(err)
			}
			if err := tsnc.Upload(context.Background()); err != nil {
				t.Fatal(err)
			}
			g := tsnc.GPUNetwork()
			if g.Packed() != packed {
				t.Fatalf("Packed() = %v, want %v", g.Packed(), packed)
			}
			for l, layer := range m.MLP.Layers {
				raw := make([]byte, 4*len(layer.Weights))
				if err := dev.ReadBuffer(context.Background(), g.Weight[l], 0, raw); err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(raw, floatBytes(layer.Weights)) {
					t.Errorf("layer %d fp32 weights differ", l)
				}
				if !packed {
					continue
				}
				n := len(layer.Weights)
				words := make([]byte, 4*((n+1)/2))
				if err := dev.ReadBuffer(context.Background(), g.WeightPacked[l], 0, words); err != nil {
					t.Fatal(err)
				}
				for k := 0; 2*k < n; k++ {
					var hi float32
					if 2*k+1 < n {
						hi = layer.Weights[2*k+1]
					}
					want := refkernels.PackHalf2(layer.Weights[2*k], hi)
					got := uint32(words[4*k]) | uint32(words[4*k+1])<<8 | uint32(words[4*k+2])<<16 | uint32(words[4*k+3])<<24
					if got != want {
						t.Fatalf("layer %d word %d = %#x, want %#x", l, k, got, want)
					}
				}
			}
			for i, tex := range tsnc.LatentTextures() {
				if !tex.IsValid() {
					t.Errorf("latent texture %d not created", i)
				}
			}
			if w, h := tsnc.TextureSize(); w != 8 || h != 8 {
				t.Errorf("TextureSize = %dx%d", w, h)
			}
			if got := tsnc.MipLevels(); got != 4 {
				t.Errorf("MipLevels = %d, want 4", got)
			}

			tsnc.Release()
			if tsnc.Uploaded() {
				t.Error("Uploaded after Release")
			}
			if st := dev.Stats(); st.Buffers != 0 || st.Textures != 0 || st.Kernels != 0 {
				t.Errorf("resources left after Release: %+v", st)
			}
		})
	}
}

func TestUploadPackedWithoutConverter(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	tsnc := New(dev, true)
	if err := tsnc.SetModel(testModel(1)); err != nil {
		t.Fatal(err)
	}
	if err := tsnc.Upload(context.Background()); !errors.Is(err, ErrConverterNotReady) {
		t.Fatalf("Upload = %v, want ErrConverterNotReady", err)
	}
	if tsnc.Uploaded() {
		t.Error("failed upload left resources behind")
	}
}

func TestPackedFallsBackWithoutSupport(t *testing.T) {
	dev := software.New(software.WithPackedWeights(false))
	defer dev.Close()
	if New(dev, true).Packed() {
		t.Error("packed path chosen on a device without support")
	}
}

func TestNoModel(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	tsnc := New(dev, true)
	if err := tsnc.Upload(context.Background()); !errors.Is(err, ErrNoModel) {
		t.Errorf("Upload = %v", err)
	}
	if _, err := tsnc.ShaderDefines(); !errors.Is(err, ErrNoModel) {
		t.Errorf("ShaderDefines = %v", err)
	}
	if err := tsnc.ReloadShaders(shaderlib.NewLoader("")); !errors.Is(err, ErrNoModel) {
		t.Errorf("ReloadShaders = %v", err)
	}
}

func TestShaderDefines(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	tsnc := New(dev, false)
	m := testModel(3)
	m.NumSets = 2
	if err := tsnc.SetModel(m); err != nil {
		t.Fatal(err)
	}
	got, err := tsnc.ShaderDefines()
	if err != nil {
		t.Fatal(err)
	}
	defs, err := shaderlib.ParseDefines(got)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"MLP_COUNT": "3", "LAYER0_IN": "16", "LAYER0_OUT": "32", "LAYER1_OUT": "16",
		"LAYER2_OUT": "16", "CHANNEL_COUNT": "8", "NUM_SETS": "2",
	}
	for k, v := range want {
		if defs[k] != v {
			t.Errorf("%s = %q, want %q", k, defs[k], v)
		}
	}
}

func TestModelRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := testModel(2)
	m.NumSets = 3
	if err := SaveModel(dir, m); err != nil {
		t.Fatal(err)
	}
	got, err := LoadModel(os.DirFS(dir), 2)
	if err != nil {
		t.Fatal(err)
	}
	if got.NumSets != 2 {
		t.Errorf("NumSets = %d, want 2", got.NumSets)
	}
	if got.MLP.NumMLP != 2 || got.MLP.FinalChannelCount != 8 {
		t.Errorf("MLP = %d networks, %d channels", got.MLP.NumMLP, got.MLP.FinalChannelCount)
	}
	for i := range got.UVOffsets {
		if got.UVOffsets[i] != m.UVOffsets[i] {
			t.Errorf("uv offset %d = %v, want %v", i, got.UVOffsets[i], m.UVOffsets[i])
		}
	}
	for i := range got.Latent {
		if !bytes.Equal(got.Latent[i].Pix, m.Latent[i].Pix) {
			t.Errorf("latent texture %d differs", i)
		}
	}

	if _, err := LoadModel(os.DirFS(dir), 4); !errors.Is(err, ErrFormat) {
		t.Errorf("LoadModel with too many sets = %v, want ErrFormat", err)
	}
	if _, err := LoadModel(os.DirFS(filepath.Join(dir, "missing")), 0); err == nil {
		t.Error("LoadModel accepted a missing directory")
	}
}

func TestLoadModelBMP(t *testing.T) {
	m := testModel(1)
	raw, err := m.MLP.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	fsys := fstest.MapFS{
		"mlp.bin": {Data: raw},
		ManifestFile: {Data: []byte(`version = 1
mlp = "mlp.bin"
latent = ["a.bmp", "b.bmp", "c.bmp", "d.bmp"]
num_sets = 1
uv_offsets = [[0.5, 0.25]]
`)},
	}
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := range 2 {
		for x := range 4 {
			src.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	src.Set(1, 1, color.RGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.bmp", "b.bmp", "c.bmp", "d.bmp"} {
		fsys[name] = &fstest.MapFile{Data: buf.Bytes()}
	}

	got, err := LoadModel(fsys, 0)
	if err != nil {
		t.Fatal(err)
	}
	if w, h := got.TextureSize(); w != 4 || h != 2 {
		t.Errorf("TextureSize = %dx%d", w, h)
	}
	if c := got.Latent[2].NRGBAAt(1, 1); c != (color.NRGBA{10, 20, 30, 255}) {
		t.Errorf("texel = %v", c)
	}
	if got.UVOffsets[0] != [2]float32{0.5, 0.25} {
		t.Errorf("uv offset = %v", got.UVOffsets[0])
	}
}

func TestMipChain(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 3))
	chain := mipChain(img)
	want := []image.Point{{6, 3}, {3, 1}, {1, 1}}
	if len(chain) != len(want) {
		t.Fatalf("got %d levels, want %d", len(chain), len(want))
	}
	for i, p := range want {
		if got := chain[i].Bounds().Size(); got != p {
			t.Errorf("level %d = %v, want %v", i, got, p)
		}
	}
}

func TestBakeMaterial(t *testing.T) {
	m := testModel(2)
	mt, err := BakeMaterial(m, 4)
	if err != nil {
		t.Fatal(err)
	}
	if b := mt.Atlases[0].Bounds(); b.Dx() != 4 || b.Dy() != 8 {
		t.Fatalf("atlas bounds = %v, want 4x8", b)
	}

	var latent [4]*refkernels.Image
	for i, img := range m.Latent {
		ri, err := refkernels.NewImage(8, 8, 1, gpucore.TextureFormatRGBA8Unorm)
		if err != nil {
			t.Fatal(err)
		}
		copy(ri.Mips[0], img.Pix)
		latent[i] = ri
	}
	smp := gpucore.SamplerDesc{Filter: gpucore.FilterLinear, Address: gpucore.AddressWrap}
	for _, tc := range [][3]uint32{{0, 0, 0}, {1, 2, 3}, {1, 3, 1}} {
		net, x, y := tc[0], tc[1], tc[2]
		u := (float32(x)+0.5)/4 + m.UVOffsets[net][0]
		v := (float32(y)+0.5)/4 + m.UVOffsets[net][1]
		in := make([]float32, 16)
		for i, img := range latent {
			texel := img.Sample(smp, u, v, 0)
			copy(in[4*i:], texel[:])
		}
		want, err := m.MLP.Evaluate(net, in)
		if err != nil {
			t.Fatal(err)
		}
		got := mt.Texel(net, x, y)
		for c, g := range got {
			w := math.Min(math.Max(float64(want[c]), 0), 1)
			if math.Abs(float64(g)-w) > 0.5/255+1e-6 {
				t.Errorf("network %d texel (%d,%d) channel %d = %g, want %g", net, x, y, c, g, w)
			}
		}
	}
}

func TestBakeMaterialErrors(t *testing.T) {
	m := testModel(2)
	m.MLP = testMLP(2, [4]uint32{16, 32, 16, 16}, 4)
	if _, err := BakeMaterial(m, 4); !errors.Is(err, ErrFormat) {
		t.Errorf("4 output channels: %v, want ErrFormat", err)
	}
	m = testModel(2)
	m.UVOffsets = m.UVOffsets[:1]
	if _, err := BakeMaterial(m, 4); !errors.Is(err, ErrFormat) {
		t.Errorf("missing uv offset: %v, want ErrFormat", err)
	}
}
