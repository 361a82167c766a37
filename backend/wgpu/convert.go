package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
)

// bufferUsage maps gpucore usage flags to gputypes. Host transfers go
// through copies, so CopySrc and CopyDst are always set.
func bufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	out := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if u.Has(gpucore.BufferUsageUniform) {
		out |= gputypes.BufferUsageUniform
	}
	if u.Has(gpucore.BufferUsageStorage) {
		out |= gputypes.BufferUsageStorage
	}
	if u.Has(gpucore.BufferUsageIndirect) {
		out |= gputypes.BufferUsageIndirect
	}
	return out
}

func textureFormat(f gpucore.TextureFormat) (gputypes.TextureFormat, bool) {
	switch f {
	case gpucore.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm, true
	case gpucore.TextureFormatRG32Uint:
		return gputypes.TextureFormatRG32Uint, true
	case gpucore.TextureFormatR32Float:
		return gputypes.TextureFormatR32Float, true
	case gpucore.TextureFormatRGBA32Float:
		return gputypes.TextureFormatRGBA32Float, true
	default:
		return 0, false
	}
}

// samplerDescriptor maps a SamplerDesc. Point samplers also use nearest
// mip selection; the kernels pick the level explicitly.
func samplerDescriptor(desc gpucore.SamplerDesc) *hal.SamplerDescriptor {
	address := gputypes.AddressModeRepeat
	if desc.Address == gpucore.AddressClamp {
		address = gputypes.AddressModeClampToEdge
	}
	filter := gputypes.FilterModeLinear
	if desc.Filter == gpucore.FilterPoint {
		filter = gputypes.FilterModeNearest
	}
	return &hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: address,
		AddressModeV: address,
		AddressModeW: address,
		MagFilter:    filter,
		MinFilter:    filter,
		MipmapFilter: filter,
	}
}

// layoutEntry derives the bind group layout entry of a reflected binding.
func layoutEntry(b shaderlib.Binding) (gputypes.BindGroupLayoutEntry, error) {
	e := gputypes.BindGroupLayoutEntry{
		Binding:    b.Binding,
		Visibility: gputypes.ShaderStageCompute,
	}
	switch b.Type {
	case gpucore.BindingTypeUniformBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case gpucore.BindingTypeReadOnlyStorageBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
	case gpucore.BindingTypeStorageBuffer:
		e.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case gpucore.BindingTypeSampler:
		e.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	case gpucore.BindingTypeSampledTexture:
		sample := gputypes.TextureSampleTypeFloat
		switch b.TexelType() {
		case "u32":
			sample = gputypes.TextureSampleTypeUint
		case "i32":
			sample = gputypes.TextureSampleTypeSint
		}
		e.Texture = &gputypes.TextureBindingLayout{
			SampleType:    sample,
			ViewDimension: gputypes.TextureViewDimension2D,
		}
	default:
		return e, fmt.Errorf("%s: %s bindings are not supported", b.Name, b.WGSLType)
	}
	return e, nil
}

// groupLayouts returns the layout entries of every bind group from 0 to
// the highest group used. Unused groups get empty layouts.
func groupLayouts(mod *shaderlib.Module) ([][]gputypes.BindGroupLayoutEntry, error) {
	var groups [][]gputypes.BindGroupLayoutEntry
	for _, b := range mod.Bindings {
		e, err := layoutEntry(b)
		if err != nil {
			return nil, err
		}
		for uint32(len(groups)) <= b.Group {
			groups = append(groups, nil)
		}
		groups[b.Group] = append(groups[b.Group], e)
	}
	return groups, nil
}
