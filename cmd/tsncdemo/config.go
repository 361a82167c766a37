package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// config holds every demo setting. A TOML file given with -config sets
// the defaults; flags on the command line win.
type config struct {
	Backend   string `toml:"backend"`
	Width     uint32 `toml:"width"`
	Height    uint32 `toml:"height"`
	Mode      string `toml:"mode"`
	Filter    string `toml:"filter"`
	Texture   string `toml:"texture"`
	Numeric   string `toml:"numeric"`
	Scene     string `toml:"scene"`
	Networks  uint32 `toml:"networks"`
	Seed      uint64 `toml:"seed"`
	Frames    int    `toml:"frames"`
	Model     string `toml:"model"`
	Export    string `toml:"export"`
	Output    string `toml:"output"`
	TileInfo  string `toml:"tileinfo"`
	Scale     int    `toml:"scale"`
	ShaderDir string `toml:"shaders"`
	Verbose   bool   `toml:"verbose"`
}

func defaultConfig() config {
	return config{
		Backend:  "auto",
		Width:    256,
		Height:   144,
		Mode:     "gbuffer",
		Filter:   "linear",
		Texture:  "neural",
		Numeric:  "packed",
		Scene:    "mosaic",
		Networks: 4,
		Seed:     1,
		Frames:   1,
		Output:   "tsnc.png",
		Scale:    1,
	}
}

func (c *config) flags(fs *flag.FlagSet) {
	fs.StringVar(&c.Backend, "backend", c.Backend, "device backend: auto, software or wgpu")
	fs.Func("width", "screen width", uintFlag(&c.Width))
	fs.Func("height", "screen height", uintFlag(&c.Height))
	fs.StringVar(&c.Mode, "mode", c.Mode, "rendering mode: material, gbuffer or debug")
	fs.StringVar(&c.Filter, "filter", c.Filter, "latent filtering: nearest, linear or anisotropic")
	fs.StringVar(&c.Texture, "texture", c.Texture, "material textures: neural or uncompressed")
	fs.StringVar(&c.Numeric, "numeric", c.Numeric, "weight format: standard or packed")
	fs.StringVar(&c.Scene, "scene", c.Scene, "synthetic scene: mosaic, stripes or solid")
	fs.Func("networks", "number of synthetic networks", uintFlag(&c.Networks))
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "synthetic data seed")
	fs.IntVar(&c.Frames, "frames", c.Frames, "frames to render")
	fs.StringVar(&c.Model, "model", c.Model, "model directory (default: synthetic)")
	fs.StringVar(&c.Export, "export", c.Export, "write the synthetic model to this directory")
	fs.StringVar(&c.Output, "output", c.Output, "shaded output PNG")
	fs.StringVar(&c.TileInfo, "tileinfo", c.TileInfo, "optional tile classification PNG")
	fs.IntVar(&c.Scale, "scale", c.Scale, "output upscale factor")
	fs.StringVar(&c.ShaderDir, "shaders", c.ShaderDir, "shader override directory")
	fs.BoolVar(&c.Verbose, "v", c.Verbose, "debug logging")
}

func uintFlag(dst *uint32) func(string) error {
	return func(s string) error {
		var v uint32
		if _, err := fmt.Sscan(s, &v); err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

// loadConfig reads the TOML file at path over the defaults.
func loadConfig(path string) (config, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// parseArgs resolves the configuration: defaults, then the -config
// file, then the remaining flags.
func parseArgs(args []string) (config, error) {
	pre := flag.NewFlagSet("tsncdemo", flag.ContinueOnError)
	path := pre.String("config", "", "TOML configuration file")
	scratch := defaultConfig()
	scratch.flags(pre)
	if err := pre.Parse(args); err != nil {
		return config{}, err
	}

	c, err := loadConfig(*path)
	if err != nil {
		return config{}, err
	}
	fs := flag.NewFlagSet("tsncdemo", flag.ContinueOnError)
	fs.String("config", "", "TOML configuration file")
	c.flags(fs)
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	return c, nil
}
