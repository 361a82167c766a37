package tsnc

import (
	"log/slog"

	"github.com/gogpu/tsnc/inference"
)

// Option configures a Renderer during creation.
//
// Example:
//
//	r, err := tsnc.NewRenderer(dev, 1280, 720,
//	    tsnc.WithRenderingMode(tsnc.GBufferDeferred),
//	    tsnc.WithNumericPath(inference.NumericPacked))
type Option func(*options)

type options struct {
	rendering RenderingMode
	texture   TextureMode
	debug     DebugMode
	filtering inference.FilteringMode
	numeric   inference.NumericPath
	shaderDir string
	hotReload bool
	logger    *slog.Logger
}

func defaultOptions() options {
	return options{
		rendering: MaterialPass,
		texture:   Neural,
		filtering: inference.FilteringLinear,
		numeric:   inference.NumericPacked,
	}
}

// WithRenderingMode selects material, deferred or debug rendering.
// Default MaterialPass.
func WithRenderingMode(m RenderingMode) Option {
	return func(o *options) { o.rendering = m }
}

// WithTextureMode selects the material representation. Default Neural.
// Uncompressed needs GBufferDeferred or Debug rendering; BC6H is rejected
// by NewRenderer.
func WithTextureMode(m TextureMode) Option {
	return func(o *options) { o.texture = m }
}

// WithDebugMode selects the view Image returns in Debug rendering mode.
func WithDebugMode(m DebugMode) Option {
	return func(o *options) { o.debug = m }
}

// WithFilteringMode selects the latent texture sampler. Default linear.
func WithFilteringMode(m inference.FilteringMode) Option {
	return func(o *options) { o.filtering = m }
}

// WithNumericPath requests fp32 or packed fp16 weights. The packed path
// falls back to fp32 on devices without support. Default packed.
func WithNumericPath(p inference.NumericPath) Option {
	return func(o *options) { o.numeric = p }
}

// WithShaderDir loads kernel sources from dir before the embedded ones.
func WithShaderDir(dir string) Option {
	return func(o *options) { o.shaderDir = dir }
}

// WithHotReload recompiles the kernels when a file below the shader
// directory changes. It requires WithShaderDir.
func WithHotReload(enabled bool) Option {
	return func(o *options) { o.hotReload = enabled }
}

// WithLogger calls SetLogger with l before the renderer is created.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
