package inference

import (
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/shaders"
)

// MaterialRenderer evaluates the network and shades in the same kernel,
// writing RGBA32F straight into the color buffer.
type MaterialRenderer struct {
	dev   gpucore.Device
	paths paths
}

// NewMaterialRenderer returns a renderer with no kernels compiled.
func NewMaterialRenderer(dev gpucore.Device, numeric NumericPath) *MaterialRenderer {
	return &MaterialRenderer{
		dev:   dev,
		paths: newPaths(shaders.ModuleMaterialInference, "_ColorBufferRW", numeric),
	}
}

// NumericPath returns the weight format the renderer was built for.
func (r *MaterialRenderer) NumericPath() NumericPath { return r.paths.numeric }

// ReloadKernels recompiles both paths for the network described by
// networkDefines.
func (r *MaterialRenderer) ReloadKernels(l *shaderlib.Loader, networkDefines []string) error {
	return r.paths.reload(r.dev, l, networkDefines)
}

// Ready reports whether both paths are compiled.
func (r *MaterialRenderer) Ready() bool { return r.paths.ready() }

// Evaluate records the uniform and repacked shading dispatches into in.Output.
func (r *MaterialRenderer) Evaluate(rec gpucore.Recorder, in EvalInputs) error {
	return r.paths.evaluate(rec, &in)
}

// Release destroys the kernels.
func (r *MaterialRenderer) Release() { r.paths.release(r.dev) }
