package network

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/shaders"
)

// ErrNoModel is returned by operations that need a model before SetModel.
var ErrNoModel = errors.New("network: no model set")

// TSNC is a compressed neural material resident on a device: the latent
// textures, the per-network uv offsets and the MLP buffers.
//
// A TSNC is not safe for concurrent use.
type TSNC struct {
	dev    gpucore.Device
	packed bool

	model *Model

	latent     [4]gpucore.Texture
	uvOffsets  gpucore.Buffer
	gpu        *GPUMLP
	converters [3]*shaderlib.Slot
}

// New returns an empty TSNC for dev. packed selects the fp16 weight
// buffers; it is ignored when the device cannot run them.
func New(dev gpucore.Device, packed bool) *TSNC {
	if packed && !dev.Capabilities().PackedWeights {
		slogger().Warn("packed weights unsupported, using fp32", "device", dev.Name())
		packed = false
	}
	t := &TSNC{dev: dev, packed: packed}
	for l := range t.converters {
		t.converters[l] = shaderlib.NewSlot(shaders.ModuleFP32ToFP16, shaders.EntryMain)
	}
	return t
}

// Packed reports whether the packed weight buffers are used.
func (t *TSNC) Packed() bool { return t.packed }

// SetModel replaces the model. Device resources of the previous model
// are released; call ReloadShaders and Upload afterwards.
func (t *TSNC) SetModel(m *Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	t.releaseResources()
	for _, s := range t.converters {
		s.Release(t.dev)
	}
	t.model = m
	return nil
}

// Model returns the current model, or nil.
func (t *TSNC) Model() *Model { return t.model }

// ReloadShaders compiles the fp32 to fp16 kernel once per layer. It is a
// no-op for the fp32 path.
func (t *TSNC) ReloadShaders(l *shaderlib.Loader) error {
	if !t.packed {
		return nil
	}
	if t.model == nil {
		return ErrNoModel
	}
	var errs []error
	for i, s := range t.converters {
		n := len(t.model.MLP.Layers[i].Weights)
		defines := []string{fmt.Sprintf("%s=%d", shaders.DefineElementCount, n)}
		if err := s.Reload(t.dev, l, defines); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Upload creates the device resources of the model and fills them. It
// blocks until the packed weights, if any, have been converted.
func (t *TSNC) Upload(ctx context.Context) error {
	if t.model == nil {
		return ErrNoModel
	}
	t.releaseResources()
	if err := t.upload(ctx); err != nil {
		t.releaseResources()
		return err
	}
	slogger().Info("network uploaded", "networks", t.model.MLP.NumMLP, "packed", t.packed)
	return nil
}

func (t *TSNC) upload(ctx context.Context) error {
	m := t.model
	for i, img := range m.Latent {
		tex, err := t.uploadTexture(fmt.Sprintf("tsnc_latent%d", i), img)
		if err != nil {
			return err
		}
		t.latent[i] = tex
	}

	uv := make([]float32, 0, 2*len(m.UVOffsets))
	for _, o := range m.UVOffsets {
		uv = append(uv, o[0], o[1])
	}
	var err error
	t.uvOffsets, err = t.dev.CreateBuffer(gpucore.BufferDesc{
		Label:  "tsnc_uv_offsets",
		Size:   4 * uint64(len(uv)),
		Stride: 8,
		Usage:  gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("network: create uv offsets: %w", err)
	}
	if err := t.dev.WriteBuffer(t.uvOffsets, 0, floatBytes(uv)); err != nil {
		return fmt.Errorf("network: upload uv offsets: %w", err)
	}

	if t.gpu, err = AllocateGPUMLP(t.dev, m.MLP, t.packed); err != nil {
		return err
	}
	var converters [3]gpucore.Kernel
	for l, s := range t.converters {
		converters[l] = s.Kernel()
	}
	rec := t.dev.NewRecorder("tsnc upload")
	if err := t.gpu.Upload(t.dev, rec, m.MLP, converters); err != nil {
		return err
	}
	if t.packed {
		if err := t.dev.Submit(ctx, rec); err != nil {
			return fmt.Errorf("network: convert weights: %w", err)
		}
	}
	return nil
}

func (t *TSNC) uploadTexture(label string, img *image.NRGBA) (gpucore.Texture, error) {
	chain := mipChain(img)
	b := img.Bounds()
	tex, err := t.dev.CreateTexture(gpucore.TextureDesc{
		Label:     label,
		Width:     uint32(b.Dx()),
		Height:    uint32(b.Dy()),
		MipLevels: uint32(len(chain)),
		Format:    gpucore.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		return gpucore.Texture{}, fmt.Errorf("network: create %s: %w", label, err)
	}
	for mip, level := range chain {
		if err := t.dev.WriteTexture(tex, uint32(mip), tightPixels(level)); err != nil {
			t.dev.DestroyTexture(tex)
			return gpucore.Texture{}, fmt.Errorf("network: upload %s mip %d: %w", label, mip, err)
		}
	}
	slogger().Debug("latent texture uploaded", "label", label, "mips", len(chain))
	return tex, nil
}

// tightPixels returns the texels of img without row padding.
func tightPixels(img *image.NRGBA) []byte {
	b := img.Bounds()
	row := 4 * b.Dx()
	if img.Stride == row {
		return img.Pix[:row*b.Dy()]
	}
	out := make([]byte, 0, row*b.Dy())
	for y := range b.Dy() {
		start := y * img.Stride
		out = append(out, img.Pix[start:start+row]...)
	}
	return out
}

// GPUNetwork returns the MLP buffers, or nil before Upload.
func (t *TSNC) GPUNetwork() *GPUMLP { return t.gpu }

// UVOffsetBuffer returns the buffer of per-network (u, v) offsets.
func (t *TSNC) UVOffsetBuffer() gpucore.Buffer { return t.uvOffsets }

// LatentTextures returns the four latent textures.
func (t *TSNC) LatentTextures() [4]gpucore.Texture { return t.latent }

// Uploaded reports whether the device resources exist.
func (t *TSNC) Uploaded() bool { return t.gpu != nil }

// TextureSize returns the size of the latent textures, or 0x0 without a model.
func (t *TSNC) TextureSize() (w, h uint32) {
	if t.model == nil {
		return 0, 0
	}
	return t.model.TextureSize()
}

// MipLevels returns the number of latent texture mips.
func (t *TSNC) MipLevels() uint32 {
	if t.model == nil {
		return 0
	}
	return uint32(len(mipChain(t.model.Latent[0])))
}

// ShaderDefines returns the defines that size the inference kernels for
// the current model.
func (t *TSNC) ShaderDefines() ([]string, error) {
	if t.model == nil {
		return nil, ErrNoModel
	}
	m := t.model.MLP
	return []string{
		fmt.Sprintf("%s=%d", shaders.DefineMLPCount, m.NumMLP),
		fmt.Sprintf("%s=%d", shaders.DefineLayer0In, m.Layers[0].Width),
		fmt.Sprintf("%s=%d", shaders.DefineLayer0Out, m.Layers[0].Height),
		fmt.Sprintf("%s=%d", shaders.DefineLayer1Out, m.Layers[1].Height),
		fmt.Sprintf("%s=%d", shaders.DefineLayer2Out, m.Layers[2].Height),
		fmt.Sprintf("%s=%d", shaders.DefineChannelCount, m.FinalChannelCount),
		fmt.Sprintf("%s=%d", shaders.DefineNumSets, t.model.NumSets),
	}, nil
}

func (t *TSNC) releaseResources() {
	for i, tex := range t.latent {
		if tex.IsValid() {
			t.dev.DestroyTexture(tex)
		}
		t.latent[i] = gpucore.Texture{}
	}
	if t.uvOffsets.IsValid() {
		t.dev.DestroyBuffer(t.uvOffsets)
		t.uvOffsets = gpucore.Buffer{}
	}
	if t.gpu != nil {
		t.gpu.Release(t.dev)
		t.gpu = nil
	}
}

// Release destroys every device resource and compiled kernel.
func (t *TSNC) Release() {
	t.releaseResources()
	for _, s := range t.converters {
		s.Release(t.dev)
	}
}
