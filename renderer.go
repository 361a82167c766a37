package tsnc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/tsnc/classify"
	"github.com/gogpu/tsnc/frame"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/inference"
	"github.com/gogpu/tsnc/internal/refkernels"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/network"
)

// FrameInput is the per-frame scene data.
type FrameInput struct {
	// Constants carries the camera, sun and animation state. The renderer
	// overwrites the screen, tile, network and texture fields.
	Constants frame.Constants

	// Visibility holds width*height RG32Uint texels: triangle index + 1
	// (0 for background) and two unorm16 barycentrics.
	Visibility []byte

	// Vertices holds 9 words per vertex: position, normal, uv and the
	// network id. Indices holds three u32 per triangle.
	Vertices []byte
	Indices  []byte
}

type meshBuffer struct {
	buf  gpucore.Buffer
	size uint64
}

// Renderer records and submits one frame at a time: classification,
// neural inference and lighting.
//
// A Renderer is not safe for concurrent use.
type Renderer struct {
	dev           gpucore.Device
	opts          options
	width, height uint32
	grid          classify.TileGrid
	numeric       inference.NumericPath
	loader        *shaderlib.Loader

	samplers   *inference.Samplers
	gbufferR   *inference.GBufferRenderer
	materialR  *inference.MaterialRenderer
	classifier *classify.TileClassifier

	network     *network.TSNC
	ownsNetwork bool

	constants  gpucore.Buffer
	visibility gpucore.Texture
	vertices   meshBuffer
	indices    meshBuffer
	color      gpucore.Buffer
	gbuffer    gpucore.Buffer
	atlases    [2]gpucore.Texture
	colorZero  []byte

	frameIndex uint32
	closed     bool

	reloadPending atomic.Bool
	stopWatch     context.CancelFunc
	watchDone     sync.WaitGroup
}

// NewRenderer creates a renderer for a width×height screen on dev. The
// classification and lighting resources are allocated here; network
// dependent resources are created by SetNetwork.
func NewRenderer(dev gpucore.Device, width, height uint32, opts ...Option) (*Renderer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		SetLogger(o.logger)
	}
	switch {
	case o.texture != Neural && o.texture != Uncompressed:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTextureMode, o.texture)
	case o.texture == Uncompressed && o.rendering == MaterialPass:
		return nil, fmt.Errorf("%w: %s with %s rendering", ErrUnsupportedTextureMode, o.texture, o.rendering)
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: screen %dx%d", ErrFrameInput, width, height)
	}

	r := &Renderer{
		dev:     dev,
		opts:    o,
		width:   width,
		height:  height,
		grid:    classify.GridForScreen(width, height),
		numeric: inference.ResolveNumericPath(dev.Capabilities(), o.numeric),
		loader:  shaderlib.NewLoader(o.shaderDir),
	}
	trackDevice(dev)
	if err := r.init(); err != nil {
		r.Close()
		return nil, err
	}
	slogger().Info("renderer created", "device", dev.Name(), "size", fmt.Sprintf("%dx%d", width, height),
		"tiles", r.grid.String(), "mode", o.rendering, "numeric", r.numeric)
	return r, nil
}

func (r *Renderer) init() error {
	var err error
	if r.samplers, err = inference.NewSamplers(r.dev); err != nil {
		return err
	}
	r.gbufferR = inference.NewGBufferRenderer(r.dev, r.numeric)
	r.materialR = inference.NewMaterialRenderer(r.dev, r.numeric)

	if r.constants, err = r.createBuffer("tsnc_constants", frame.Size, gpucore.BufferUsageUniform); err != nil {
		return err
	}
	if r.color, err = r.createBuffer("tsnc_color", inference.ColorBufferSize(r.width, r.height),
		gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc); err != nil {
		return err
	}
	r.colorZero = make([]byte, inference.ColorBufferSize(r.width, r.height))
	r.visibility, err = r.dev.CreateTexture(gpucore.TextureDesc{
		Label:  "tsnc_visibility",
		Width:  r.width,
		Height: r.height,
		Format: gpucore.TextureFormatRG32Uint,
	})
	if err != nil {
		return fmt.Errorf("tsnc: create visibility: %w", err)
	}

	if r.opts.hotReload {
		if r.opts.shaderDir == "" {
			return errors.New("tsnc: hot reload needs a shader directory")
		}
		if err := r.watch(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) createBuffer(label string, size uint64, usage gpucore.BufferUsage) (gpucore.Buffer, error) {
	b, err := r.dev.CreateBuffer(gpucore.BufferDesc{Label: label, Size: size, Usage: usage | gpucore.BufferUsageCopyDst})
	if err != nil {
		return gpucore.Buffer{}, fmt.Errorf("tsnc: create %s: %w", label, err)
	}
	return b, nil
}

func (r *Renderer) watch() error {
	w, err := shaderlib.NewWatcher(r.opts.shaderDir, shaderlib.DefaultDebounce)
	if err != nil {
		return fmt.Errorf("tsnc: watch shaders: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.stopWatch = func() {
		cancel()
		w.Close()
	}
	r.watchDone.Add(1)
	go func() {
		defer r.watchDone.Done()
		err := w.Run(ctx, func(paths []string) {
			slogger().Info("shader change detected", "files", len(paths))
			r.reloadPending.Store(true)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slogger().Warn("shader watcher stopped", "err", err)
		}
	}()
	return nil
}

// SetModel uploads m and makes it the active network. The previous
// network is released if the renderer created it.
func (r *Renderer) SetModel(ctx context.Context, m *network.Model) error {
	if r.closed {
		return ErrClosed
	}
	t := network.New(r.dev, r.numeric == inference.NumericPacked)
	if err := t.SetModel(m); err != nil {
		return err
	}
	if err := t.ReloadShaders(r.loader); err != nil {
		t.Release()
		return err
	}
	if err := t.Upload(ctx); err != nil {
		t.Release()
		return err
	}
	if err := r.SetNetwork(t); err != nil {
		t.Release()
		return err
	}
	r.ownsNetwork = true
	return nil
}

// SetNetwork makes an uploaded network the active one. The caller keeps
// ownership of t. On error the previous network stays active with all of
// its resources.
func (r *Renderer) SetNetwork(t *network.TSNC) error {
	if r.closed {
		return ErrClosed
	}
	if !t.Uploaded() {
		return fmt.Errorf("%w: network not uploaded", ErrFrameInput)
	}
	if t.Packed() != (r.numeric == inference.NumericPacked) {
		return fmt.Errorf("%w: renderer %s, network packed=%v", inference.ErrNumericPath, r.numeric, t.Packed())
	}
	m := t.Model().MLP

	var atlases [2]gpucore.Texture
	if r.opts.texture == Uncompressed {
		mt, err := network.BakeMaterial(t.Model(), 0)
		if err != nil {
			return err
		}
		if atlases, err = mt.Upload(r.dev); err != nil {
			return err
		}
	}
	classifier := r.classifier
	if classifier == nil || classifier.NumMLPs() != m.NumMLP {
		c, err := classify.New(r.dev, r.grid, m.NumMLP)
		if err != nil {
			r.destroyTextures(atlases)
			return err
		}
		classifier = c
	}
	size := inference.GBufferSize(r.width, r.height, m.FinalChannelCount)
	gbuffer, err := r.createBuffer("tsnc_gbuffer", size, gpucore.BufferUsageStorage|gpucore.BufferUsageCopySrc)
	if err != nil {
		if classifier != r.classifier {
			classifier.Release()
		}
		r.destroyTextures(atlases)
		return err
	}

	if classifier != r.classifier {
		if r.classifier != nil {
			r.classifier.Release()
		}
		r.classifier = classifier
	}
	if r.gbuffer.IsValid() {
		r.dev.DestroyBuffer(r.gbuffer)
	}
	r.gbuffer = gbuffer
	r.destroyTextures(r.atlases)
	r.atlases = atlases

	if r.ownsNetwork && r.network != nil && r.network != t {
		r.network.Release()
	}
	r.network, r.ownsNetwork = t, false
	if err := r.ReloadShaders(); err != nil {
		slogger().Warn("kernels failed to compile for new network", "err", err)
	}
	return nil
}

func (r *Renderer) destroyTextures(ts [2]gpucore.Texture) {
	for _, t := range ts {
		if t.IsValid() {
			r.dev.DestroyTexture(t)
		}
	}
}

// Network returns the active network, or nil.
func (r *Renderer) Network() *network.TSNC { return r.network }

// ReloadShaders recompiles every kernel. Kernels that fail keep their
// previous version; the joined compile errors are returned.
func (r *Renderer) ReloadShaders() error {
	if r.closed {
		return ErrClosed
	}
	if r.classifier == nil {
		return ErrNoNetwork
	}
	defines, err := r.network.ShaderDefines()
	if err != nil {
		return err
	}
	errs := []error{r.classifier.ReloadKernels(r.loader)}
	switch r.opts.rendering {
	case GBufferDeferred:
		errs = append(errs, r.gbufferR.ReloadKernels(r.loader, defines))
		if r.opts.texture == Uncompressed {
			errs = append(errs, r.gbufferR.ReloadTextureKernel(r.loader, defines))
		}
	case MaterialPass:
		errs = append(errs, r.materialR.ReloadKernels(r.loader, defines))
	}
	return errors.Join(errs...)
}

// Frame uploads in, records classification, inference and lighting, and
// submits them. It blocks until the device has finished. After a failed
// or cancelled frame the next Frame starts from a clean state.
func (r *Renderer) Frame(ctx context.Context, in FrameInput) error {
	if r.closed {
		return ErrClosed
	}
	if r.network == nil {
		return ErrNoNetwork
	}
	if r.reloadPending.Swap(false) {
		if err := r.ReloadShaders(); err != nil {
			slogger().Warn("shader reload failed", "err", err)
		}
	}
	if err := r.upload(&in); err != nil {
		return err
	}

	rec := r.dev.NewRecorder(fmt.Sprintf("frame %d", r.frameIndex))
	defer r.classifier.EndFrame()
	if err := r.record(rec); err != nil {
		return err
	}
	if err := r.dev.Submit(ctx, rec); err != nil {
		return fmt.Errorf("tsnc: frame %d: %w", r.frameIndex, err)
	}
	r.frameIndex++
	return nil
}

func (r *Renderer) upload(in *FrameInput) error {
	texels := uint64(r.width) * uint64(r.height)
	if uint64(len(in.Visibility)) != texels*8 {
		return fmt.Errorf("%w: visibility has %d bytes, want %d", ErrFrameInput, len(in.Visibility), texels*8)
	}
	if len(in.Vertices) == 0 || len(in.Vertices)%(4*refkernels.VertexStride) != 0 {
		return fmt.Errorf("%w: %d vertex bytes", ErrFrameInput, len(in.Vertices))
	}
	if len(in.Indices) == 0 || len(in.Indices)%12 != 0 {
		return fmt.Errorf("%w: %d index bytes", ErrFrameInput, len(in.Indices))
	}

	c := in.Constants
	w, h := r.network.TextureSize()
	c.ScreenSize = [2]uint32{r.width, r.height}
	c.TileCount = [2]uint32{r.grid.X, r.grid.Y}
	c.TextureSize = [2]uint32{w, h}
	c.FrameIndex = r.frameIndex
	c.MLPCount = r.classifier.NumMLPs()
	c.MeshNumVerts = uint32(len(in.Vertices) / (4 * refkernels.VertexStride))
	c.NumTextureLOD = r.network.MipLevels()
	c.EnableFiltering = 0
	if r.opts.filtering != inference.FilteringNearest {
		c.EnableFiltering = 1
	}
	c.PackedWeights = 0
	if r.numeric == inference.NumericPacked {
		c.PackedWeights = 1
	}

	if err := r.dev.WriteBuffer(r.constants, 0, c.Bytes()); err != nil {
		return fmt.Errorf("tsnc: upload constants: %w", err)
	}
	if err := r.dev.WriteTexture(r.visibility, 0, in.Visibility); err != nil {
		return fmt.Errorf("tsnc: upload visibility: %w", err)
	}
	if err := r.fit(&r.vertices, "tsnc_vertices", in.Vertices); err != nil {
		return err
	}
	if err := r.fit(&r.indices, "tsnc_indices", in.Indices); err != nil {
		return err
	}
	if err := r.dev.WriteBuffer(r.color, 0, r.colorZero); err != nil {
		return fmt.Errorf("tsnc: clear color: %w", err)
	}
	return nil
}

// fit writes data to *b, recreating the buffer when the size changed.
func (r *Renderer) fit(b *meshBuffer, label string, data []byte) error {
	if b.buf.IsValid() && b.size != uint64(len(data)) {
		r.dev.DestroyBuffer(b.buf)
		*b = meshBuffer{}
	}
	if !b.buf.IsValid() {
		buf, err := r.createBuffer(label, uint64(len(data)), gpucore.BufferUsageStorage)
		if err != nil {
			return err
		}
		*b = meshBuffer{buf: buf, size: uint64(len(data))}
		slogger().Debug("mesh buffer created", "label", label, "size", b.size)
	}
	if err := r.dev.WriteBuffer(b.buf, 0, data); err != nil {
		return fmt.Errorf("tsnc: upload %s: %w", label, err)
	}
	return nil
}

func (r *Renderer) record(rec gpucore.Recorder) error {
	if err := r.classifier.Classify(rec, r.constants, r.visibility, r.vertices.buf, r.indices.buf); err != nil {
		return err
	}
	scene := inference.Scene{Constants: r.constants, Visibility: r.visibility, Vertices: r.vertices.buf, Indices: r.indices.buf}
	in := inference.EvalInputs{
		Scene:   scene,
		Network: r.network,
		Tiles:   r.classifier,
		Sampler: r.samplers.Sampler(r.opts.filtering),
	}
	switch r.opts.rendering {
	case MaterialPass:
		in.Output = r.color
		return r.materialR.Evaluate(rec, in)
	case GBufferDeferred:
		in.Output = r.gbuffer
		var err error
		if r.opts.texture == Uncompressed {
			err = r.gbufferR.EvaluateTextures(rec, inference.TextureInputs{
				Scene: scene, Tiles: r.classifier, Atlases: r.atlases, Output: r.gbuffer,
			})
		} else {
			err = r.gbufferR.Evaluate(rec, in)
		}
		if err != nil {
			return err
		}
		return r.gbufferR.Lighting(rec, inference.LightingInputs{
			Scene: scene, Tiles: r.classifier, GBuffer: r.gbuffer, Color: r.color,
		})
	}
	return nil
}

// Output returns the RGBA32F color buffer.
func (r *Renderer) Output() gpucore.Buffer { return r.color }

// GBuffer returns the G-buffer, valid once a network is set.
func (r *Renderer) GBuffer() gpucore.Buffer { return r.gbuffer }

// Classifier returns the tile classifier, or nil before a network is set.
func (r *Renderer) Classifier() *classify.TileClassifier { return r.classifier }

// Size returns the screen size.
func (r *Renderer) Size() (width, height uint32) { return r.width, r.height }

// NumericPath returns the resolved weight format.
func (r *Renderer) NumericPath() inference.NumericPath { return r.numeric }

// FrameIndex returns the number of submitted frames.
func (r *Renderer) FrameIndex() uint32 { return r.frameIndex }

// Close stops hot reload and releases every resource the renderer
// created. The device stays open.
func (r *Renderer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.stopWatch != nil {
		r.stopWatch()
		r.watchDone.Wait()
	}
	if r.ownsNetwork && r.network != nil {
		r.network.Release()
	}
	r.network = nil
	if r.classifier != nil {
		r.classifier.Release()
	}
	if r.gbufferR != nil {
		r.gbufferR.Release()
	}
	if r.materialR != nil {
		r.materialR.Release()
	}
	if r.samplers != nil {
		r.samplers.Release()
	}
	for _, b := range []gpucore.Buffer{r.constants, r.vertices.buf, r.indices.buf, r.color, r.gbuffer} {
		if b.IsValid() {
			r.dev.DestroyBuffer(b)
		}
	}
	if r.visibility.IsValid() {
		r.dev.DestroyTexture(r.visibility)
	}
	r.destroyTextures(r.atlases)
	untrackDevice(r.dev)
	return nil
}
