package tsnc

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/chewxy/math32"

	"github.com/gogpu/tsnc/classify"
)

// Tile colors of the DebugTileInfo view.
var (
	tileInactive = color.NRGBA{32, 32, 32, 255}
	tileUniform  = color.NRGBA{40, 170, 70, 255}
	tileComplex  = color.NRGBA{200, 50, 40, 255}
)

// Image reads the last frame back: the tile view in Debug rendering mode
// with DebugTileInfo, the shaded color otherwise.
func (r *Renderer) Image(ctx context.Context) (*image.NRGBA, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.opts.rendering == Debug && r.opts.debug == DebugTileInfo {
		return r.TileInfo(ctx)
	}
	return r.ColorImage(ctx)
}

// ColorImage reads the color buffer and converts it to 8-bit sRGB.
func (r *Renderer) ColorImage(ctx context.Context) (*image.NRGBA, error) {
	raw := make([]byte, len(r.colorZero))
	if err := r.dev.ReadBuffer(ctx, r.color, 0, raw); err != nil {
		return nil, fmt.Errorf("tsnc: read color: %w", err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, int(r.width), int(r.height)))
	for i := 0; i < len(raw)/16; i++ {
		px := raw[16*i:]
		f := func(c int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(px[4*c:])) }
		img.Pix[4*i] = encodeSRGB(f(0))
		img.Pix[4*i+1] = encodeSRGB(f(1))
		img.Pix[4*i+2] = encodeSRGB(f(2))
		img.Pix[4*i+3] = uint8(math32.Floor(clamp01(f(3))*255 + 0.5))
	}
	return img, nil
}

// TileInfo reads the classification of the last frame back and colors
// each tile by its list.
func (r *Renderer) TileInfo(ctx context.Context) (*image.NRGBA, error) {
	if r.classifier == nil {
		return nil, ErrNoNetwork
	}
	s, err := r.classifier.ReadLists(ctx)
	if err != nil {
		return nil, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, int(r.width), int(r.height)))
	fill := func(tiles []uint32, c color.NRGBA) {
		for _, t := range tiles {
			x0, y0 := r.grid.Pixel(t, 0)
			for y := y0; y < min(y0+classify.TileHeight, r.height); y++ {
				for x := x0; x < min(x0+classify.TileWidth, r.width); x++ {
					img.SetNRGBA(int(x), int(y), c)
				}
			}
		}
	}
	all := make([]uint32, r.grid.Count())
	for i := range all {
		all[i] = uint32(i)
	}
	fill(all, tileInactive)
	active := make(map[uint32]bool, len(s.Active))
	for _, t := range s.Active {
		active[t] = true
	}
	var uniform []uint32
	for _, t := range s.Uniform {
		if active[t] {
			uniform = append(uniform, t)
		}
	}
	fill(uniform, tileUniform)
	fill(s.Complex, tileComplex)
	return img, nil
}

func clamp01(v float32) float32 { return math32.Min(math32.Max(v, 0), 1) }

func encodeSRGB(v float32) uint8 {
	v = clamp01(v)
	if v <= 0.0031308 {
		v *= 12.92
	} else {
		v = 1.055*math32.Pow(v, 1/2.4) - 0.055
	}
	return uint8(math32.Floor(v*255 + 0.5))
}
