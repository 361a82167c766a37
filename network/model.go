package network

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// ManifestFile is the name of the model manifest inside a model directory.
const ManifestFile = "manifest.toml"

// Manifest describes the files of a model directory.
type Manifest struct {
	Version int `toml:"version"`

	// MLP names the CPUMLP binary.
	MLP string `toml:"mlp"`

	// Latent names the four latent textures.
	Latent []string `toml:"latent"`

	// NumSets is the number of channel sets the networks were trained for.
	NumSets uint32 `toml:"num_sets"`

	// UVOffsets holds one (u, v) pair per network.
	UVOffsets [][]float32 `toml:"uv_offsets"`
}

// Model is a loaded compressed neural material.
type Model struct {
	MLP       *CPUMLP
	Latent    [4]*image.NRGBA
	UVOffsets [][2]float32
	NumSets   uint32
}

// TextureSize returns the size of the latent textures.
func (m *Model) TextureSize() (w, h uint32) {
	b := m.Latent[0].Bounds()
	return uint32(b.Dx()), uint32(b.Dy())
}

// Validate checks that the parts of m fit together.
func (m *Model) Validate() error {
	if m.MLP == nil {
		return fmt.Errorf("%w: no networks", ErrFormat)
	}
	if err := m.MLP.Validate(); err != nil {
		return err
	}
	for i, img := range m.Latent {
		if img == nil {
			return fmt.Errorf("%w: latent texture %d missing", ErrFormat, i)
		}
		if img.Bounds().Size() != m.Latent[0].Bounds().Size() {
			return fmt.Errorf("%w: latent texture %d is %v, texture 0 is %v",
				ErrFormat, i, img.Bounds().Size(), m.Latent[0].Bounds().Size())
		}
	}
	if uint32(len(m.UVOffsets)) != m.MLP.NumMLP {
		return fmt.Errorf("%w: %d uv offsets for %d networks", ErrFormat, len(m.UVOffsets), m.MLP.NumMLP)
	}
	if m.NumSets == 0 {
		return fmt.Errorf("%w: zero channel sets", ErrFormat)
	}
	return nil
}

// LoadModel reads a model directory from fsys. numSets limits the channel
// sets used; 0 uses all of them. The networks are aligned to multiples
// of 16 after loading.
func LoadModel(fsys fs.FS, numSets uint32) (*Model, error) {
	data, err := fs.ReadFile(fsys, ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	var man Manifest
	if err := toml.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("network: parse %s: %w", ManifestFile, err)
	}
	if len(man.Latent) != 4 {
		return nil, fmt.Errorf("%w: manifest lists %d latent textures, want 4", ErrFormat, len(man.Latent))
	}
	if numSets == 0 {
		numSets = man.NumSets
	}
	if numSets > man.NumSets {
		return nil, fmt.Errorf("%w: %d channel sets requested, model has %d", ErrFormat, numSets, man.NumSets)
	}

	m := &Model{MLP: new(CPUMLP), NumSets: numSets}
	raw, err := fs.ReadFile(fsys, man.MLP)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	if err := m.MLP.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("network: %s: %w", man.MLP, err)
	}
	m.MLP.AlignDimensions()

	for i, name := range man.Latent {
		if m.Latent[i], err = loadTexture(fsys, name); err != nil {
			return nil, err
		}
	}
	for i, uv := range man.UVOffsets {
		if len(uv) != 2 {
			return nil, fmt.Errorf("%w: uv offset %d has %d components", ErrFormat, i, len(uv))
		}
		m.UVOffsets = append(m.UVOffsets, [2]float32{uv[0], uv[1]})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	w, h := m.TextureSize()
	slogger().Info("model loaded", "networks", m.MLP.NumMLP, "channels", m.MLP.FinalChannelCount,
		"texture", fmt.Sprintf("%dx%d", w, h), "sets", numSets)
	return m, nil
}

func loadTexture(fsys fs.FS, name string) (*image.NRGBA, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	defer f.Close()

	var img image.Image
	switch path.Ext(name) {
	case ".png":
		img, err = png.Decode(f)
	case ".bmp":
		img, err = bmp.Decode(f)
	default:
		return nil, fmt.Errorf("%w: latent texture %s is neither PNG nor BMP", ErrFormat, name)
	}
	if err != nil {
		return nil, fmt.Errorf("network: decode %s: %w", name, err)
	}
	return toNRGBA(img), nil
}

// toNRGBA converts img to straight-alpha RGBA8 with its origin at (0, 0).
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// mipChain returns img followed by successively halved copies down to 1x1.
func mipChain(img *image.NRGBA) []*image.NRGBA {
	chain := []*image.NRGBA{img}
	for {
		prev := chain[len(chain)-1].Bounds()
		if prev.Dx() == 1 && prev.Dy() == 1 {
			return chain
		}
		next := image.NewNRGBA(image.Rect(0, 0, max(prev.Dx()/2, 1), max(prev.Dy()/2, 1)))
		draw.BiLinear.Scale(next, next.Bounds(), chain[len(chain)-1], prev, draw.Src, nil)
		chain = append(chain, next)
	}
}

// SaveModel writes m to dir in the format LoadModel reads, with PNG
// latent textures.
func SaveModel(dir string, m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	man := Manifest{Version: 1, MLP: "mlp.bin", NumSets: m.NumSets}
	for i, img := range m.Latent {
		name := fmt.Sprintf("ls%d.png", i)
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("network: encode %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("network: %w", err)
		}
		man.Latent = append(man.Latent, name)
	}
	for _, uv := range m.UVOffsets {
		man.UVOffsets = append(man.UVOffsets, []float32{uv[0], uv[1]})
	}

	raw, err := m.MLP.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, man.MLP), raw, 0o644); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	data, err := toml.Marshal(man)
	if err != nil {
		return fmt.Errorf("network: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	return nil
}
