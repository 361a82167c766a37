package tsnc

import (
	"errors"
	"fmt"

	"github.com/gogpu/tsnc/inference"
)

// RenderingMode selects how a frame is shaded.
type RenderingMode int

const (
	// MaterialPass evaluates and shades each pixel in the inference kernels.
	MaterialPass RenderingMode = iota

	// GBufferDeferred writes the network outputs to a G-buffer and shades
	// them in a deferred lighting pass.
	GBufferDeferred

	// Debug runs the classification only; see DebugMode.
	Debug
)

func (m RenderingMode) String() string {
	switch m {
	case MaterialPass:
		return "material"
	case GBufferDeferred:
		return "gbuffer"
	case Debug:
		return "debug"
	default:
		return fmt.Sprintf("RenderingMode(%d)", int(m))
	}
}

// TextureMode selects the material representation.
type TextureMode int

const (
	// Uncompressed reads the material from atlases baked out of the
	// network on the host.
	Uncompressed TextureMode = iota

	// BC6H is not implemented.
	BC6H

	// Neural evaluates the networks per pixel.
	Neural
)

func (m TextureMode) String() string {
	switch m {
	case Uncompressed:
		return "uncompressed"
	case BC6H:
		return "bc6h"
	case Neural:
		return "neural"
	default:
		return fmt.Sprintf("TextureMode(%d)", int(m))
	}
}

// DebugMode selects the debug view produced by Renderer.Image.
type DebugMode int

const (
	DebugNone DebugMode = iota

	// DebugTileInfo colors tiles by classification: uniform green,
	// complex red, inactive dark gray.
	DebugTileInfo
)

func (m DebugMode) String() string {
	switch m {
	case DebugNone:
		return "none"
	case DebugTileInfo:
		return "tileinfo"
	default:
		return fmt.Sprintf("DebugMode(%d)", int(m))
	}
}

// ParseRenderingMode parses the String form of a RenderingMode.
func ParseRenderingMode(s string) (RenderingMode, error) {
	for m := MaterialPass; m <= Debug; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("tsnc: unknown rendering mode %q", s)
}

// ParseTextureMode parses the String form of a TextureMode.
func ParseTextureMode(s string) (TextureMode, error) {
	for m := Uncompressed; m <= Neural; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("tsnc: unknown texture mode %q", s)
}

// ParseFilteringMode parses the String form of an inference.FilteringMode.
func ParseFilteringMode(s string) (inference.FilteringMode, error) {
	for m := inference.FilteringNearest; m <= inference.FilteringAnisotropic; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("tsnc: unknown filtering mode %q", s)
}

// Errors returned by the Renderer.
var (
	// ErrUnsupportedTextureMode is returned for BC6H, and for Uncompressed
	// with MaterialPass rendering.
	ErrUnsupportedTextureMode = errors.New("tsnc: texture mode not supported")

	// ErrNoNetwork is returned by Frame before a network is set.
	ErrNoNetwork = errors.New("tsnc: no network set")

	// ErrFrameInput is returned for frame inputs that do not match the renderer.
	ErrFrameInput = errors.New("tsnc: invalid frame input")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("tsnc: renderer closed")
)
