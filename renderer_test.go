package tsnc

import (
	"context"
	"errors"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/tsnc/backend/software"
	"github.com/gogpu/tsnc/classify"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/inference"
	"github.com/gogpu/tsnc/internal/synth"
	"github.com/gogpu/tsnc/network"
)

const testMLPs = 3

func testModel() *network.Model { return testModelN(testMLPs) }

func testModelN(numMLPs uint32) *network.Model {
	sizes := [4]uint32{16, 32, 16, 16}
	w, b := synth.Layers(numMLPs, sizes, 21)
	mlp := &network.CPUMLP{NumMLP: numMLPs, FinalChannelCount: 8, FinalBlockWidth: 16}
	for l := range mlp.Layers {
		mlp.Layers[l] = network.Layer{Width: sizes[l], Height: sizes[l+1], Weights: w[l], Bias: b[l]}
	}
	return &network.Model{
		MLP:       mlp,
		Latent:    synth.Latent(16, 4),
		UVOffsets: synth.UVOffsets(numMLPs, 6),
		NumSets:   1,
	}
}

func frameInput(s *synth.Scene) FrameInput {
	return FrameInput{
		Constants:  s.Constants(testMLPs),
		Visibility: s.Visibility,
		Vertices:   s.VertexBytes(),
		Indices:    s.IndexBytes(),
	}
}

func newTestRenderer(t *testing.T, dev *software.Device, w, h uint32, opts ...Option) *Renderer {
	t.Helper()
	r, err := NewRenderer(dev, w, h, opts...)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	if err := r.SetModel(context.Background(), testModel()); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	return r
}

func TestNewRendererErrors(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	tests := []struct {
		name string
		w, h uint32
		opts []Option
		want error
	}{
		{"uncompressed", 8, 8, []Option{WithTextureMode(Uncompressed)}, ErrUnsupportedTextureMode},
		{"bc6h", 8, 8, []Option{WithTextureMode(BC6H)}, ErrUnsupportedTextureMode},
		{"empty screen", 0, 8, nil, ErrFrameInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRenderer(dev, tt.w, tt.h, tt.opts...); !errors.Is(err, tt.want) {
				t.Errorf("NewRenderer = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := NewRenderer(dev, 8, 8, WithHotReload(true)); err == nil {
		t.Error("hot reload without a shader directory accepted")
	}
}

func TestFrameBeforeNetwork(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	r, err := NewRenderer(dev, 16, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.Frame(context.Background(), frameInput(synth.Solid(16, 8, 0))); !errors.Is(err, ErrNoNetwork) {
		t.Errorf("Frame = %v, want ErrNoNetwork", err)
	}
	if err := r.ReloadShaders(); !errors.Is(err, ErrNoNetwork) {
		t.Errorf("ReloadShaders = %v, want ErrNoNetwork", err)
	}
}

func TestFrameShadesCoveredPixels(t *testing.T) {
	modes := []RenderingMode{MaterialPass, GBufferDeferred}
	paths := []inference.NumericPath{inference.NumericStandard, inference.NumericPacked}
	for _, mode := range modes {
		for _, path := range paths {
			t.Run(mode.String()+"/"+path.String(), func(t *testing.T) {
				dev := software.New()
				t.Cleanup(func() { dev.Close() })
				scene := synth.Mosaic(32, 16, testMLPs, 3, 12)
				r := newTestRenderer(t, dev, 32, 16, WithRenderingMode(mode), WithNumericPath(path))

				for range 2 {
					if err := r.Frame(context.Background(), frameInput(scene)); err != nil {
						t.Fatalf("Frame: %v", err)
					}
				}
				if r.FrameIndex() != 2 {
					t.Errorf("FrameIndex = %d, want 2", r.FrameIndex())
				}
				img, err := r.Image(context.Background())
				if err != nil {
					t.Fatal(err)
				}
				for y := range scene.Height {
					for x := range scene.Width {
						_, covered := scene.Network(x, y, testMLPs)
						a := img.NRGBAAt(int(x), int(y)).A
						if covered != (a == 255) {
							t.Fatalf("pixel (%d,%d): covered %v, alpha %d", x, y, covered, a)
						}
					}
				}
			})
		}
	}
}

func TestTileInfo(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	// Tile 0 single-network, tile 1 mixed, tiles 2 and 3 empty.
	scene := synth.NewScene(16, 8, []uint32{0, 1}, func(x, y uint32) int {
		switch {
		case y >= 4:
			return synth.Background
		case x < 8:
			return 0
		default:
			return int(x % 2)
		}
	})
	r := newTestRenderer(t, dev, 16, 8, WithRenderingMode(Debug), WithDebugMode(DebugTileInfo))
	if err := r.Frame(context.Background(), frameInput(scene)); err != nil {
		t.Fatal(err)
	}
	img, err := r.Image(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		x, y int
		want color.NRGBA
	}{
		{0, 0, tileUniform},
		{7, 3, tileUniform},
		{8, 0, tileComplex},
		{15, 3, tileComplex},
		{0, 4, tileInactive},
		{15, 7, tileInactive},
	}
	for _, tt := range tests {
		if got := img.NRGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestFrameInputValidation(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	r := newTestRenderer(t, dev, 16, 8)
	scene := synth.Solid(16, 8, 1)

	tests := map[string]func(in *FrameInput){
		"short visibility": func(in *FrameInput) { in.Visibility = in.Visibility[8:] },
		"no vertices":      func(in *FrameInput) { in.Vertices = nil },
		"partial vertex":   func(in *FrameInput) { in.Vertices = in.Vertices[4:] },
		"partial triangle": func(in *FrameInput) { in.Indices = in.Indices[4:] },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := frameInput(scene)
			mutate(&in)
			if err := r.Frame(context.Background(), in); !errors.Is(err, ErrFrameInput) {
				t.Errorf("Frame = %v, want ErrFrameInput", err)
			}
		})
	}
}

func TestMeshBuffersFollowInput(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	r := newTestRenderer(t, dev, 16, 8)
	for _, scene := range []*synth.Scene{synth.Solid(16, 8, 0), synth.Stripes(16, 8, testMLPs, 2), synth.Solid(16, 8, 2)} {
		if err := r.Frame(context.Background(), frameInput(scene)); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := r.vertices.size, uint64(len(synth.Solid(16, 8, 2).VertexBytes())); got != want {
		t.Errorf("vertex buffer size = %d, want %d", got, want)
	}
}

func TestCloseReleasesResources(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	r, err := NewRenderer(dev, 16, 8, WithRenderingMode(GBufferDeferred))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetModel(context.Background(), testModel()); err != nil {
		t.Fatal(err)
	}
	if err := r.Frame(context.Background(), frameInput(synth.Solid(16, 8, 0))); err != nil {
		t.Fatal(err)
	}
	r.Close()
	if st := dev.Stats(); st != (software.Stats{}) {
		t.Errorf("resources left after Close: %+v", st)
	}
	if err := r.Frame(context.Background(), frameInput(synth.Solid(16, 8, 0))); !errors.Is(err, ErrClosed) {
		t.Errorf("Frame after Close = %v, want ErrClosed", err)
	}
}

func TestSetNetworkNumericMismatch(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	r, err := NewRenderer(dev, 16, 8, WithNumericPath(inference.NumericPacked))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	tsnc := network.New(dev, false)
	defer tsnc.Release()
	if err := tsnc.SetModel(testModel()); err != nil {
		t.Fatal(err)
	}
	if err := tsnc.Upload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.SetNetwork(tsnc); !errors.Is(err, inference.ErrNumericPath) {
		t.Errorf("SetNetwork = %v, want ErrNumericPath", err)
	}
}

// recordingHandler keeps every record it handles.
type recordingHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) has(msg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

func TestSetLoggerPropagates(t *testing.T) {
	h := &recordingHandler{}
	t.Cleanup(func() { SetLogger(nil) })

	dev := software.New(software.WithPackedWeights(false))
	defer dev.Close()
	r, err := NewRenderer(dev, 16, 8, WithLogger(slog.New(h)), WithNumericPath(inference.NumericPacked))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.SetModel(context.Background(), testModel()); err != nil {
		t.Fatal(err)
	}

	for _, msg := range []string{
		"renderer created",
		"packed weights unsupported, falling back",
		"network uploaded",
		"kernel compiled",
	} {
		if !h.has(msg) {
			t.Errorf("no %q record", msg)
		}
	}
	if Logger().Handler() != h {
		t.Error("Logger() does not return the configured logger")
	}
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	dev := software.New()
	defer dev.Close()
	r := newTestRenderer(t, dev, 16, 8, WithShaderDir(dir), WithHotReload(true))

	if err := os.WriteFile(filepath.Join(dir, "touch.wgsl"), []byte("// changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !r.reloadPending.Load() {
		if time.Now().After(deadline) {
			t.Fatal("shader change not detected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := r.Frame(context.Background(), frameInput(synth.Solid(16, 8, 0))); err != nil {
		t.Fatal(err)
	}
	if r.reloadPending.Load() {
		t.Error("reload still pending after Frame")
	}
}

func TestParseModes(t *testing.T) {
	for _, m := range []RenderingMode{MaterialPass, GBufferDeferred, Debug} {
		if got, err := ParseRenderingMode(m.String()); err != nil || got != m {
			t.Errorf("ParseRenderingMode(%q) = %v, %v", m, got, err)
		}
	}
	for _, m := range []inference.FilteringMode{inference.FilteringNearest, inference.FilteringLinear, inference.FilteringAnisotropic} {
		if got, err := ParseFilteringMode(m.String()); err != nil || got != m {
			t.Errorf("ParseFilteringMode(%q) = %v, %v", m, got, err)
		}
	}
	for _, m := range []TextureMode{Uncompressed, BC6H, Neural} {
		if got, err := ParseTextureMode(m.String()); err != nil || got != m {
			t.Errorf("ParseTextureMode(%q) = %v, %v", m, got, err)
		}
	}
	if _, err := ParseTextureMode("bc1"); err == nil {
		t.Error("ParseTextureMode accepted an unknown mode")
	}
	if _, err := ParseRenderingMode("wireframe"); err == nil {
		t.Error("ParseRenderingMode accepted an unknown mode")
	}
}

func TestCancelledFrameDoesNotWedgeRenderer(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	r := newTestRenderer(t, dev, 16, 8)
	scene := synth.Stripes(16, 8, testMLPs, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Frame(ctx, frameInput(scene)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Frame with cancelled context = %v, want context.Canceled", err)
	}
	if got := r.Classifier().Stage(); got != classify.StageIdle {
		t.Errorf("stage after failed frame = %v, want Idle", got)
	}
	if got := r.FrameIndex(); got != 0 {
		t.Errorf("FrameIndex = %d after failed frame, want 0", got)
	}
	if err := r.Frame(context.Background(), frameInput(scene)); err != nil {
		t.Fatalf("Frame after cancelled frame: %v", err)
	}
	if got := r.FrameIndex(); got != 1 {
		t.Errorf("FrameIndex = %d, want 1", got)
	}
}

// failingDevice fails buffer creation for one label.
type failingDevice struct {
	*software.Device
	failLabel string
}

func (d *failingDevice) CreateBuffer(desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	if desc.Label == d.failLabel {
		return gpucore.Buffer{}, errors.New("out of memory")
	}
	return d.Device.CreateBuffer(desc)
}

func TestSetModelFailureKeepsPreviousNetwork(t *testing.T) {
	sw := software.New()
	defer sw.Close()
	dev := &failingDevice{Device: sw}
	r, err := NewRenderer(dev, 16, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.SetModel(context.Background(), testModel()); err != nil {
		t.Fatal(err)
	}
	gbuffer := r.GBuffer()

	dev.failLabel = "tsnc_gbuffer"
	if err := r.SetModel(context.Background(), testModelN(5)); err == nil {
		t.Fatal("SetModel succeeded with failing G-buffer allocation")
	}
	dev.failLabel = ""

	if got := r.Network().Model().MLP.NumMLP; got != testMLPs {
		t.Errorf("network NumMLP = %d, want %d", got, testMLPs)
	}
	if got := r.Classifier().NumMLPs(); got != testMLPs {
		t.Errorf("classifier NumMLPs = %d, want %d", got, testMLPs)
	}
	if r.GBuffer() != gbuffer || !r.GBuffer().IsValid() {
		t.Error("G-buffer replaced by failed SetModel")
	}
	if err := r.Frame(context.Background(), frameInput(synth.Stripes(16, 8, testMLPs, 2))); err != nil {
		t.Fatalf("Frame after failed SetModel: %v", err)
	}
}

func TestUncompressedDeferred(t *testing.T) {
	dev := software.New()
	defer dev.Close()
	r := newTestRenderer(t, dev, 16, 8,
		WithRenderingMode(GBufferDeferred), WithTextureMode(Uncompressed))
	scene := synth.Mosaic(16, 8, testMLPs, 2, 9)
	if err := r.Frame(context.Background(), frameInput(scene)); err != nil {
		t.Fatal(err)
	}
	img, err := r.Image(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for y := range scene.Height {
		for x := range scene.Width {
			_, covered := scene.Network(x, y, testMLPs)
			a := img.NRGBAAt(int(x), int(y)).A
			if covered != (a == 255) {
				t.Fatalf("pixel (%d,%d): covered %v, alpha %d", x, y, covered, a)
			}
		}
	}

	// A second model rebakes the atlases in place.
	if err := r.SetModel(context.Background(), testModelN(testMLPs)); err != nil {
		t.Fatal(err)
	}
	if err := r.Frame(context.Background(), frameInput(scene)); err != nil {
		t.Fatal(err)
	}
}
