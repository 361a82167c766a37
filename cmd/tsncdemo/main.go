// Command tsncdemo renders a synthetic or loaded neural-material scene
// and writes the result as PNG.
//
// Usage:
//
//	tsncdemo [-config demo.toml] [-backend software] [-mode gbuffer] [-output tsnc.png]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/image/draw"

	"github.com/gogpu/tsnc"
	"github.com/gogpu/tsnc/backend"
	_ "github.com/gogpu/tsnc/backend/software"
	_ "github.com/gogpu/tsnc/backend/wgpu"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/inference"
	"github.com/gogpu/tsnc/internal/synth"
	"github.com/gogpu/tsnc/network"
)

// Layer sizes of the synthetic networks: 16 latent inputs, 8 outputs.
var synthSizes = [4]uint32{16, 32, 32, 16}

const synthChannels = 8

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "tsncdemo:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseArgs(args)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	tsnc.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mode, err := tsnc.ParseRenderingMode(cfg.Mode)
	if err != nil {
		return err
	}
	filter, err := tsnc.ParseFilteringMode(cfg.Filter)
	if err != nil {
		return err
	}
	texture, err := tsnc.ParseTextureMode(cfg.Texture)
	if err != nil {
		return err
	}
	numeric := inference.NumericPacked
	if cfg.Numeric == inference.NumericStandard.String() {
		numeric = inference.NumericStandard
	}

	dev, err := openDevice(cfg.Backend)
	if err != nil {
		return err
	}
	defer dev.Close()

	model, err := loadOrBuildModel(cfg)
	if err != nil {
		return err
	}
	if cfg.Export != "" {
		if err := network.SaveModel(cfg.Export, model); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		logger.Info("model exported", "dir", cfg.Export)
	}

	scene, err := buildScene(cfg, model.MLP.NumMLP)
	if err != nil {
		return err
	}

	opts := []tsnc.Option{
		tsnc.WithRenderingMode(mode),
		tsnc.WithFilteringMode(filter),
		tsnc.WithTextureMode(texture),
		tsnc.WithNumericPath(numeric),
	}
	if cfg.TileInfo != "" && mode == tsnc.Debug {
		opts = append(opts, tsnc.WithDebugMode(tsnc.DebugTileInfo))
	}
	if cfg.ShaderDir != "" {
		opts = append(opts, tsnc.WithShaderDir(cfg.ShaderDir), tsnc.WithHotReload(true))
	}
	r, err := tsnc.NewRenderer(dev, cfg.Width, cfg.Height, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.SetModel(ctx, model); err != nil {
		return err
	}

	in := tsnc.FrameInput{
		Constants:  scene.Constants(model.MLP.NumMLP),
		Visibility: scene.Visibility,
		Vertices:   scene.VertexBytes(),
		Indices:    scene.IndexBytes(),
	}
	for i := range max(cfg.Frames, 1) {
		if err := r.Frame(ctx, in); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	logger.Info("rendered", "frames", r.FrameIndex(), "device", dev.Name(), "mode", mode, "numeric", r.NumericPath())

	if mode != tsnc.Debug {
		img, err := r.ColorImage(ctx)
		if err != nil {
			return err
		}
		if err := writePNG(cfg.Output, img, cfg.Scale); err != nil {
			return err
		}
	}
	if cfg.TileInfo != "" {
		img, err := r.TileInfo(ctx)
		if err != nil {
			return err
		}
		if err := writePNG(cfg.TileInfo, img, cfg.Scale); err != nil {
			return err
		}
	}
	return nil
}

func openDevice(name string) (gpucore.Device, error) {
	if name == "" || name == "auto" {
		return backend.Default()
	}
	return backend.Open(name)
}

// loadOrBuildModel loads cfg.Model or generates a synthetic model.
func loadOrBuildModel(cfg config) (*network.Model, error) {
	if cfg.Model != "" {
		return network.LoadModel(os.DirFS(cfg.Model), 0)
	}
	n := max(cfg.Networks, 1)
	w, b := synth.Layers(n, synthSizes, cfg.Seed)
	mlp := &network.CPUMLP{NumMLP: n, FinalChannelCount: synthChannels, FinalBlockWidth: synthSizes[3]}
	for l := range mlp.Layers {
		mlp.Layers[l] = network.Layer{Width: synthSizes[l], Height: synthSizes[l+1], Weights: w[l], Bias: b[l]}
	}
	m := &network.Model{
		MLP:       mlp,
		Latent:    synth.Latent(64, cfg.Seed+1),
		UVOffsets: synth.UVOffsets(n, cfg.Seed+2),
		NumSets:   1,
	}
	return m, m.Validate()
}

func buildScene(cfg config, numMLPs uint32) (*synth.Scene, error) {
	switch cfg.Scene {
	case "mosaic":
		return synth.Mosaic(cfg.Width, cfg.Height, numMLPs, 13, cfg.Seed), nil
	case "stripes":
		return synth.Stripes(cfg.Width, cfg.Height, numMLPs, 24), nil
	case "solid":
		return synth.Solid(cfg.Width, cfg.Height, 0), nil
	default:
		return nil, fmt.Errorf("unknown scene %q", cfg.Scene)
	}
}

// writePNG encodes img to path, upscaled by an integer factor.
func writePNG(path string, img *image.NRGBA, scale int) error {
	var out image.Image = img
	if scale > 1 {
		b := img.Bounds()
		dst := image.NewNRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		out = dst
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
