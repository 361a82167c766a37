package network

import (
	"fmt"
	"image"
	"image/color"

	"github.com/chewxy/math32"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/refkernels"
)

// MaterialTextures is a model decoded into uncompressed material atlases,
// the baseline the neural path is compared against. Network n owns the
// Size×Size block starting at row n*Size of both atlases.
type MaterialTextures struct {
	Size     uint32
	Networks uint32

	// Atlases holds albedo rgb and roughness in [0], metalness and
	// occlusion in the red and green channels of [1].
	Atlases [2]*image.NRGBA
}

// BakeMaterial evaluates every network of m over a size×size texel grid,
// sampling the latent textures bilinearly with wrapping at the network's
// uv offset. size 0 uses the latent texture width.
func BakeMaterial(m *Model, size uint32) (*MaterialTextures, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.MLP.FinalChannelCount < refkernels.TextureChannels {
		return nil, fmt.Errorf("%w: %d output channels, material textures need %d",
			ErrFormat, m.MLP.FinalChannelCount, refkernels.TextureChannels)
	}
	if size == 0 {
		size, _ = m.TextureSize()
	}

	var latent [4]*refkernels.Image
	for i, img := range m.Latent {
		b := img.Bounds()
		ri, err := refkernels.NewImage(uint32(b.Dx()), uint32(b.Dy()), 1, gpucore.TextureFormatRGBA8Unorm)
		if err != nil {
			return nil, err
		}
		copy(ri.Mips[0], tightPixels(img))
		latent[i] = ri
	}
	var layers [3]refkernels.Layer
	for i, l := range m.MLP.Layers {
		layers[i] = refkernels.Layer{Weights: refkernels.Float32s(l.Weights), Bias: refkernels.Float32s(l.Bias)}
	}
	smp := gpucore.SamplerDesc{Filter: gpucore.FilterLinear, Address: gpucore.AddressWrap}
	dims := m.MLP.dims()

	n := m.MLP.NumMLP
	out := &MaterialTextures{Size: size, Networks: n}
	for i := range out.Atlases {
		out.Atlases[i] = image.NewNRGBA(image.Rect(0, 0, int(size), int(size*n)))
	}
	quantize := func(v float32) uint8 {
		return uint8(math32.Floor(math32.Min(math32.Max(v, 0), 1)*255 + 0.5))
	}
	x := make([]float32, dims.Layer0In)
	for net := range n {
		off := m.UVOffsets[net]
		for ty := range size {
			for tx := range size {
				u := (float32(tx)+0.5)/float32(size) + off[0]
				v := (float32(ty)+0.5)/float32(size) + off[1]
				for t, img := range latent {
					texel := img.Sample(smp, u, v, 0)
					copy(x[4*t:4*t+4], texel[:])
				}
				y := refkernels.Forward(dims, layers, net, x)
				row := int(net*size + ty)
				out.Atlases[0].SetNRGBA(int(tx), row, color.NRGBA{quantize(y[0]), quantize(y[1]), quantize(y[2]), quantize(y[3])})
				out.Atlases[1].SetNRGBA(int(tx), row, color.NRGBA{quantize(y[4]), quantize(y[5]), 0, 255})
			}
		}
	}
	slogger().Debug("material baked", "networks", n, "size", size)
	return out, nil
}

// Texel returns the six material channels stored for network net at
// texel (x, y) of its block.
func (mt *MaterialTextures) Texel(net, x, y uint32) [refkernels.TextureChannels]float32 {
	row := int(net*mt.Size + y)
	a := mt.Atlases[0].NRGBAAt(int(x), row)
	b := mt.Atlases[1].NRGBAAt(int(x), row)
	f := func(v uint8) float32 { return float32(v) / 255 }
	return [refkernels.TextureChannels]float32{f(a.R), f(a.G), f(a.B), f(a.A), f(b.R), f(b.G)}
}

// Upload creates an RGBA8 texture per atlas on dev. On error nothing is
// left allocated.
func (mt *MaterialTextures) Upload(dev gpucore.Device) ([2]gpucore.Texture, error) {
	var out [2]gpucore.Texture
	for i, img := range mt.Atlases {
		b := img.Bounds()
		tex, err := dev.CreateTexture(gpucore.TextureDesc{
			Label:  fmt.Sprintf("tsnc_material%d", i),
			Width:  uint32(b.Dx()),
			Height: uint32(b.Dy()),
			Format: gpucore.TextureFormatRGBA8Unorm,
		})
		if err == nil {
			if err = dev.WriteTexture(tex, 0, tightPixels(img)); err != nil {
				dev.DestroyTexture(tex)
			}
		}
		if err != nil {
			for _, t := range out[:i] {
				dev.DestroyTexture(t)
			}
			return [2]gpucore.Texture{}, fmt.Errorf("network: upload material atlas %d: %w", i, err)
		}
		out[i] = tex
	}
	return out, nil
}
