package inference

import (
	"errors"

	"github.com/gogpu/tsnc/classify"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/shaders"
)

// Section names of the G-buffer passes that do not run the network.
const (
	SectionLighting = "Deferred Lighting"
	SectionTextures = "Texture evaluation"
)

// GBufferSize returns the byte size of a G-buffer holding channels floats
// per pixel.
func GBufferSize(width, height, channels uint32) uint64 {
	return 4 * uint64(width) * uint64(height) * uint64(channels)
}

// ColorBufferSize returns the byte size of an RGBA32F color buffer.
func ColorBufferSize(width, height uint32) uint64 {
	return 16 * uint64(width) * uint64(height)
}

// LightingInputs are the inputs of the deferred lighting pass.
type LightingInputs struct {
	Scene
	Tiles TileLists

	// GBuffer is the output of Evaluate.
	GBuffer gpucore.Buffer

	// Color receives RGBA32F per pixel. Pixels outside the active tiles
	// are left untouched.
	Color gpucore.Buffer
}

// TextureInputs are the inputs of the uncompressed texture path.
type TextureInputs struct {
	Scene
	Tiles TileLists

	// Atlases are the material atlases produced by network.BakeMaterial.
	Atlases [2]gpucore.Texture

	// Output receives the G-buffer.
	Output gpucore.Buffer
}

// GBufferRenderer evaluates the network outputs into a G-buffer and
// lights them in a deferred pass over the active tiles.
type GBufferRenderer struct {
	dev      gpucore.Device
	paths    paths
	lighting *shaderlib.Slot
	textures *shaderlib.Slot
}

// NewGBufferRenderer returns a renderer with no kernels compiled.
func NewGBufferRenderer(dev gpucore.Device, numeric NumericPath) *GBufferRenderer {
	return &GBufferRenderer{
		dev:      dev,
		paths:    newPaths(shaders.ModuleGBufferInference, "_OutputBufferRW", numeric),
		lighting: shaderlib.NewSlot(shaders.ModuleDeferredLighting, shaders.EntryMain),
		textures: shaderlib.NewSlot(shaders.ModuleTextureMaterial, shaders.EntryMain),
	}
}

// NumericPath returns the weight format the renderer was built for.
func (r *GBufferRenderer) NumericPath() NumericPath { return r.paths.numeric }

// ReloadKernels recompiles the inference and lighting kernels for the
// network described by networkDefines. Kernels that fail keep their
// previous version.
func (r *GBufferRenderer) ReloadKernels(l *shaderlib.Loader, networkDefines []string) error {
	return errors.Join(
		r.paths.reload(r.dev, l, networkDefines),
		r.lighting.Reload(r.dev, l, networkDefines),
	)
}

// ReloadTextureKernel compiles the uncompressed texture kernel. Only
// CHANNEL_COUNT is read from networkDefines.
func (r *GBufferRenderer) ReloadTextureKernel(l *shaderlib.Loader, networkDefines []string) error {
	return r.textures.Reload(r.dev, l, networkDefines)
}

// Ready reports whether every kernel is compiled.
func (r *GBufferRenderer) Ready() bool { return r.paths.ready() && r.lighting.Ready() }

// Evaluate records the uniform and repacked inference dispatches.
func (r *GBufferRenderer) Evaluate(rec gpucore.Recorder, in EvalInputs) error {
	return r.paths.evaluate(rec, &in)
}

// EvaluateTextures records the G-buffer fill from material atlases over
// the active tiles. It replaces Evaluate when materials are stored
// uncompressed; an unset kernel records nothing.
func (r *GBufferRenderer) EvaluateTextures(rec gpucore.Recorder, in TextureInputs) error {
	k := r.textures.Kernel()
	if !k.IsValid() {
		slogger().Warn("texture evaluation skipped, kernel not compiled")
		return nil
	}
	rec.BeginSection(SectionTextures)
	defer rec.EndSection()

	bindScene(rec, k, &in.Scene)
	rec.BindBuffer(k, "_TileBuffer", in.Tiles.ActiveTiles())
	rec.BindTexture(k, "_Texture0", in.Atlases[0])
	rec.BindTexture(k, "_Texture1", in.Atlases[1])
	rec.BindBuffer(k, "_OutputBufferRW", in.Output)
	rec.DispatchIndirect(k, in.Tiles.IndirectArgs(), classify.OffsetActiveTiles)
	rec.BufferBarrier(in.Output)
	return rec.Err()
}

// Lighting records the deferred lighting dispatch over the active tiles.
func (r *GBufferRenderer) Lighting(rec gpucore.Recorder, in LightingInputs) error {
	k := r.lighting.Kernel()
	if !k.IsValid() {
		slogger().Warn("lighting skipped, kernel not compiled")
		return nil
	}
	rec.BeginSection(SectionLighting)
	defer rec.EndSection()

	bindScene(rec, k, &in.Scene)
	rec.BindBuffer(k, "_TileBuffer", in.Tiles.ActiveTiles())
	rec.BindBuffer(k, "_InferenceBuffer", in.GBuffer)
	rec.BindBuffer(k, "_ColorBufferRW", in.Color)
	rec.DispatchIndirect(k, in.Tiles.IndirectArgs(), classify.OffsetActiveTiles)
	rec.BufferBarrier(in.Color)
	return rec.Err()
}

// Release destroys the kernels.
func (r *GBufferRenderer) Release() {
	r.paths.release(r.dev)
	r.lighting.Release(r.dev)
	r.textures.Release(r.dev)
}
