package inference

import (
	"fmt"

	"github.com/gogpu/tsnc/classify"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/network"
	"github.com/gogpu/tsnc/shaders"
)

// Network is the device side of a neural material.
type Network interface {
	GPUNetwork() *network.GPUMLP
	UVOffsetBuffer() gpucore.Buffer
	LatentTextures() [4]gpucore.Texture
}

// TileLists are the classification results the inference dispatches read.
type TileLists interface {
	ActiveTiles() gpucore.Buffer
	UniformTiles() gpucore.Buffer
	RepackedTiles() gpucore.Buffer
	IndirectArgs() gpucore.Buffer
}

// Scene is the per-frame geometry shared by every pass.
type Scene struct {
	Constants  gpucore.Buffer
	Visibility gpucore.Texture
	Vertices   gpucore.Buffer
	Indices    gpucore.Buffer
}

// EvalInputs are the inputs of one inference evaluation.
type EvalInputs struct {
	Scene
	Network Network
	Tiles   TileLists
	Sampler gpucore.Sampler

	// Output receives the results: the G-buffer for GBufferRenderer,
	// RGBA32F color for MaterialRenderer.
	Output gpucore.Buffer
}

// Section names of the two inference paths.
const (
	SectionUniform  = "Uniform inference"
	SectionRepacked = "Repacked inference"
)

// paths holds the uniform and repacked kernels of one inference module.
type paths struct {
	uniform  *shaderlib.Slot
	repacked *shaderlib.Slot
	numeric  NumericPath
	output   string
}

func newPaths(module, output string, numeric NumericPath) paths {
	return paths{
		uniform:  shaderlib.NewSlot(module, shaders.EntryMain),
		repacked: shaderlib.NewSlot(module, shaders.EntryMainRepacked),
		numeric:  numeric,
		output:   output,
	}
}

func (p *paths) reload(dev gpucore.Device, l *shaderlib.Loader, networkDefines []string) error {
	defines := networkDefines
	if p.numeric == NumericPacked {
		defines = append([]string{shaders.DefinePackedWeights}, networkDefines...)
	}
	return shaderlib.ReloadAll(dev, l, defines, p.uniform, p.repacked)
}

func (p *paths) evaluate(rec gpucore.Recorder, in *EvalInputs) error {
	g := in.Network.GPUNetwork()
	if g == nil {
		return fmt.Errorf("inference: network not uploaded")
	}
	if g.Packed() != (p.numeric == NumericPacked) {
		return fmt.Errorf("%w: renderer %s, network packed=%v", ErrNumericPath, p.numeric, g.Packed())
	}
	p.partialInference(rec, p.uniform.Kernel(), SectionUniform, in, in.Tiles.UniformTiles(), classify.OffsetUniformInference)
	p.partialInference(rec, p.repacked.Kernel(), SectionRepacked, in, in.Tiles.RepackedTiles(), classify.OffsetRepackedInference)
	return rec.Err()
}

// partialInference records one indirect inference dispatch over tiles,
// followed by a barrier on the output. An unset kernel records nothing.
func (p *paths) partialInference(rec gpucore.Recorder, k gpucore.Kernel, section string, in *EvalInputs, tiles gpucore.Buffer, offset uint64) {
	if !k.IsValid() {
		slogger().Warn("inference path skipped, kernel not compiled", "path", section)
		return
	}
	rec.BeginSection(section)
	defer rec.EndSection()

	bindScene(rec, k, &in.Scene)
	rec.BindBuffer(k, "_TileBuffer", tiles)
	for i, tex := range in.Network.LatentTextures() {
		rec.BindTexture(k, fmt.Sprintf("_LS%dTexture", i), tex)
	}
	rec.BindBuffer(k, "_UVOffsetBuffer", in.Network.UVOffsetBuffer())
	rec.BindSampler(k, "bc1_linear_clamp_sampler", in.Sampler)

	g := in.Network.GPUNetwork()
	weights := g.Weight
	if p.numeric == NumericPacked {
		weights = g.WeightPacked
	}
	for l := range 3 {
		rec.BindBuffer(k, fmt.Sprintf("_MLPWeight%dBuffer", l), weights[l])
		rec.BindBuffer(k, fmt.Sprintf("_MLPBias%dBuffer", l), g.Bias[l])
	}
	rec.BindBuffer(k, p.output, in.Output)

	rec.DispatchIndirect(k, in.Tiles.IndirectArgs(), offset)
	rec.BufferBarrier(in.Output)
}

func (p *paths) ready() bool { return p.uniform.Ready() && p.repacked.Ready() }

func (p *paths) release(dev gpucore.Device) {
	p.uniform.Release(dev)
	p.repacked.Release(dev)
}

func bindScene(rec gpucore.Recorder, k gpucore.Kernel, s *Scene) {
	rec.BindBuffer(k, "_GlobalCB", s.Constants)
	rec.BindTexture(k, "_VisibilityBuffer", s.Visibility)
	rec.BindBuffer(k, "_VertexBuffer", s.Vertices)
	rec.BindBuffer(k, "_IndexBuffer", s.Indices)
}
