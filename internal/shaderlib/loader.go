package shaderlib

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/shaders"
)

// ErrNoEntryPoint is returned when a module lacks the requested @compute function.
var ErrNoEntryPoint = errors.New("shaderlib: entry point not found")

// Loader reads kernel sources from a stack of file systems. Earlier layers
// shadow later ones, so an override directory can replace single files of
// the embedded library.
type Loader struct {
	layers []fs.FS
}

// NewLoader returns a loader over the embedded shaders, optionally
// shadowed by the files in overrideDir.
func NewLoader(overrideDir string) *Loader {
	if overrideDir == "" {
		return NewLoaderFS(shaders.FS)
	}
	return NewLoaderFS(os.DirFS(overrideDir), shaders.FS)
}

// NewLoaderFS returns a loader over the given layers, highest priority first.
func NewLoaderFS(layers ...fs.FS) *Loader {
	return &Loader{layers: layers}
}

// ReadFile returns the first layer's copy of name.
func (l *Loader) ReadFile(name string) (string, error) {
	for _, layer := range l.layers {
		data, err := fs.ReadFile(layer, name)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("shaderlib: read %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("shaderlib: read %s: %w", name, fs.ErrNotExist)
}

// Kernel loads module, expands it with defines and checks that entry exists.
func (l *Loader) Kernel(module, entry string, defines []string) (gpucore.KernelDesc, error) {
	src, err := l.ReadFile(module + ".wgsl")
	if err != nil {
		return gpucore.KernelDesc{}, err
	}
	out, err := Preprocess(src, defines, l.ReadFile)
	if err != nil {
		return gpucore.KernelDesc{}, err
	}
	mod, err := Reflect(out)
	if err != nil {
		return gpucore.KernelDesc{}, err
	}
	if _, ok := mod.Entry(entry); !ok {
		return gpucore.KernelDesc{}, fmt.Errorf("%w: %s in %s", ErrNoEntryPoint, entry, module)
	}
	return gpucore.KernelDesc{
		Module:     module,
		Source:     out,
		EntryPoint: entry,
		Defines:    slices.Clone(defines),
	}, nil
}
