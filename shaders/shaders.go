// Package shaders embeds the WGSL sources of every compute kernel.
//
// Kernel files live under one directory per pipeline stage and pull shared
// declarations from common/ with #include. Sources are expanded by
// internal/shaderlib before compilation.
package shaders

import "embed"

// FS holds the WGSL sources, rooted at this directory.
//
//go:embed classification/*.wgsl inference/*.wgsl lighting/*.wgsl network/*.wgsl common/*.wgsl
var FS embed.FS

// Kernel modules. Each names a file "<module>.wgsl" in FS.
const (
	ModuleReset              = "classification/reset"
	ModuleFirstPass          = "classification/first_pass"
	ModulePrepareIndirection = "classification/prepare_indirection"
	ModuleSecondPass         = "classification/second_pass"
	ModuleGBufferInference   = "inference/gbuffer"
	ModuleMaterialInference  = "inference/material"
	ModuleTextureMaterial    = "inference/texture"
	ModuleDeferredLighting   = "lighting/deferred"
	ModuleFP32ToFP16         = "network/fp32_to_fp16"
)

// Entry points.
const (
	EntryMain         = "main"
	EntryMainRepacked = "main_repacked"
)

// Defines understood by the kernels.
const (
	// DefinePackedWeights selects fp16x2 weight buffers in inference kernels.
	DefinePackedWeights = "PACKED_WEIGHTS"

	// Word offsets of the indirect argument groups, set by the classifier.
	DefineArgsActiveTiles       = "ARGS_ACTIVE_TILES"
	DefineArgsUniformInference  = "ARGS_UNIFORM_INFERENCE"
	DefineArgsSecondPass        = "ARGS_SECOND_PASS"
	DefineArgsRepackedInference = "ARGS_REPACKED_INFERENCE"

	// Network dimensions, set from the loaded model.
	DefineMLPCount     = "MLP_COUNT"
	DefineLayer0In     = "LAYER0_IN"
	DefineLayer0Out    = "LAYER0_OUT"
	DefineLayer1Out    = "LAYER1_OUT"
	DefineLayer2Out    = "LAYER2_OUT"
	DefineChannelCount = "CHANNEL_COUNT"
	DefineNumSets      = "NUM_SETS"

	// DefineElementCount is the fp32 input length of the fp16 converter.
	DefineElementCount = "ELEMENT_COUNT"
)
