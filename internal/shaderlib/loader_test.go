package shaderlib

import (
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/gogpu/tsnc/shaders"
)

func TestLoaderOverrideShadowsEmbedded(t *testing.T) {
	override := fstest.MapFS{
		"common/shading.wgsl": {Data: []byte("const AMBIENT: f32 = 0.5;\nfn shade_override() {}\n")},
	}
	l := NewLoaderFS(override, shaders.FS)

	src, err := l.ReadFile("common/shading.wgsl")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src, "shade_override") {
		t.Errorf("override layer not used:\n%s", src)
	}

	// Files missing from the override fall through to the embedded layer.
	src, err = l.ReadFile("common/globals.wgsl")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src, "struct GlobalCB") {
		t.Error("embedded layer not consulted")
	}
}

func TestLoaderMissingFile(t *testing.T) {
	l := NewLoaderFS(fstest.MapFS{})
	_, err := l.ReadFile("nope.wgsl")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestLoaderKernel(t *testing.T) {
	fsys := fstest.MapFS{
		"lib.wgsl": {Data: []byte("const N: u32 = 4u;\n")},
		"k.wgsl": {Data: []byte(`#include "lib.wgsl"
@group(0) @binding(0) var<storage, read_write> _Out: array<u32>;
#ifdef TWICE
@compute @workgroup_size(N, 2)
#else
@compute @workgroup_size(N)
#endif
fn main() {}
`)},
	}
	l := NewLoaderFS(fsys)

	desc, err := l.Kernel("k", "main", []string{"TWICE", "SCALE=3"})
	if err != nil {
		t.Fatalf("Kernel: %v", err)
	}
	if desc.Module != "k" || desc.EntryPoint != "main" {
		t.Errorf("desc = %+v", desc)
	}
	if !strings.HasPrefix(desc.Source, "const SCALE = 3;\n") {
		t.Errorf("value define not emitted first:\n%s", desc.Source)
	}
	mod, err := Reflect(desc.Source)
	if err != nil {
		t.Fatal(err)
	}
	if ep, _ := mod.Entry("main"); ep.WorkgroupSize != [3]uint32{4, 2, 1} {
		t.Errorf("workgroup size = %v", ep.WorkgroupSize)
	}

	if _, err := l.Kernel("k", "other", nil); !errors.Is(err, ErrNoEntryPoint) {
		t.Errorf("missing entry err = %v, want ErrNoEntryPoint", err)
	}
	if _, err := l.Kernel("absent", "main", nil); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing module err = %v, want fs.ErrNotExist", err)
	}
}

func TestLoaderDefinesAreCopied(t *testing.T) {
	defines := []string{"MLP_COUNT=1", "LAYER0_IN=16", "LAYER0_OUT=16", "LAYER1_OUT=16", "LAYER2_OUT=16", "CHANNEL_COUNT=8"}
	desc, err := NewLoader("").Kernel(shaders.ModuleGBufferInference, shaders.EntryMain, defines)
	if err != nil {
		t.Fatal(err)
	}
	defines[0] = "MLP_COUNT=9"
	if desc.Defines[0] != "MLP_COUNT=1" {
		t.Error("KernelDesc.Defines aliases the caller's slice")
	}
}
