package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseArgs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "demo.toml")
	data := "backend = \"software\"\nwidth = 64\nmode = \"material\"\nframes = 3\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		args  []string
		check func(config) bool
	}{
		{"defaults", nil, func(c config) bool { return c.Backend == "auto" && c.Width == 256 && c.Frames == 1 }},
		{"texture", []string{"-texture", "uncompressed"}, func(c config) bool { return c.Texture == "uncompressed" && c.Mode == "gbuffer" }},
		{"file", []string{"-config", path}, func(c config) bool {
			return c.Backend == "software" && c.Width == 64 && c.Height == 144 && c.Mode == "material" && c.Frames == 3
		}},
		{"flag wins", []string{"-config", path, "-width", "32", "-frames", "2"}, func(c config) bool {
			return c.Width == 32 && c.Frames == 2 && c.Mode == "material"
		}},
		{"flag before config", []string{"-mode", "debug", "-config=" + path}, func(c config) bool {
			return c.Mode == "debug" && c.Width == 64
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseArgs(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if !tt.check(c) {
				t.Errorf("parseArgs(%v) = %+v", tt.args, c)
			}
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	if _, err := parseArgs([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Error("missing config file accepted")
	}
	if _, err := parseArgs([]string{"-width", "wide"}); err == nil {
		t.Error("bad width accepted")
	}
}

func TestRunSoftware(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")
	export := filepath.Join(dir, "model")
	args := []string{
		"-backend", "software", "-width", "32", "-height", "16",
		"-networks", "2", "-output", out, "-export", export, "-scale", "2",
	}
	if err := run(args); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Error(err)
	}
	if _, err := os.Stat(filepath.Join(export, "manifest.toml")); err != nil {
		t.Error(err)
	}

	// The exported model renders again.
	tiles := filepath.Join(dir, "tiles.png")
	if err := run([]string{"-backend", "software", "-width", "32", "-height", "16", "-model", export, "-mode", "debug", "-tileinfo", tiles}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(tiles); err != nil {
		t.Error(err)
	}

	if err := run([]string{"-backend", "software", "-width", "32", "-height", "16", "-model", export, "-texture", "uncompressed", "-output", out}); err != nil {
		t.Fatal(err)
	}
}
