package gpucore

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageCopySrc indicates the buffer can be read back or copied from.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be written by the host.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7

	// BufferUsageIndirect indicates the buffer can hold indirect dispatch arguments.
	BufferUsageIndirect BufferUsage = 1 << 8
)

// Has reports whether all flags in f are set.
func (u BufferUsage) Has(f BufferUsage) bool { return u&f == f }

// BufferDesc describes a buffer.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes. It must be a non-zero multiple of 4.
	Size uint64

	// Stride is the element size in bytes for structured access.
	// Informational; 0 means raw words.
	Stride uint32

	// Usage declares how the buffer will be used.
	Usage BufferUsage
}

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	// Latent space textures use this format.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatRG32Uint is two 32-bit unsigned integer channels.
	// Visibility buffers use this format.
	TextureFormatRG32Uint

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float

	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float
)

// BytesPerTexel returns the size of one texel, or 0 for unknown formats.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case TextureFormatRGBA8Unorm, TextureFormatR32Float:
		return 4
	case TextureFormatRG32Uint:
		return 8
	case TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// String returns the format name.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8Unorm:
		return "RGBA8Unorm"
	case TextureFormatRG32Uint:
		return "RG32Uint"
	case TextureFormatR32Float:
		return "R32Float"
	case TextureFormatRGBA32Float:
		return "RGBA32Float"
	default:
		return "Unknown"
	}
}

// TextureDesc describes a 2D texture.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	// Width and Height are the dimensions of mip level 0.
	Width  uint32
	Height uint32

	// MipLevels is the number of mip levels. 0 is treated as 1.
	MipLevels uint32

	// Format is the texel format.
	Format TextureFormat
}

// FilterMode selects texture filtering for a sampler.
type FilterMode uint8

// Filter modes.
const (
	FilterPoint FilterMode = iota
	FilterLinear
	FilterAnisotropic
)

// AddressMode selects how out-of-range coordinates are resolved.
type AddressMode uint8

// Address modes.
const (
	AddressWrap AddressMode = iota
	AddressClamp
)

// SamplerDesc describes a sampler.
type SamplerDesc struct {
	Label         string
	Filter        FilterMode
	Address       AddressMode
	MaxAnisotropy uint16
	MinLOD        float32
	MaxLOD        float32
}

// BindingType specifies the type of a shader binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeReadOnlyStorageBuffer is a read-only storage buffer binding.
	BindingTypeReadOnlyStorageBuffer

	// BindingTypeSampler is a texture sampler binding.
	BindingTypeSampler

	// BindingTypeSampledTexture is a sampled texture binding.
	BindingTypeSampledTexture

	// BindingTypeStorageTexture is a storage texture binding.
	BindingTypeStorageTexture
)

// IsBuffer reports whether the binding takes a buffer.
func (t BindingType) IsBuffer() bool {
	return t == BindingTypeUniformBuffer || t == BindingTypeStorageBuffer || t == BindingTypeReadOnlyStorageBuffer
}

// Writable reports whether a kernel may write through the binding.
func (t BindingType) Writable() bool {
	return t == BindingTypeStorageBuffer || t == BindingTypeStorageTexture
}

// KernelDesc describes a compute kernel to compile.
type KernelDesc struct {
	// Module names the shader source, e.g. "classification/first_pass".
	Module string

	// Source is pre-processed WGSL.
	Source string

	// EntryPoint is the name of the @compute function.
	EntryPoint string

	// Defines are the pre-processor defines Source was expanded with.
	// Backends that evaluate kernels natively read dimensions from them.
	Defines []string
}

// Label returns "module:entry" for logs and debug labels.
func (d KernelDesc) Label() string { return d.Module + ":" + d.EntryPoint }

// DispatchArgs is one indirect dispatch argument group.
// The memory layout matches what dispatchWorkgroupsIndirect reads.
type DispatchArgs struct {
	X uint32
	Y uint32
	Z uint32
}

// Size returns the size of the argument group in bytes.
func (DispatchArgs) Size() uint64 { return 12 }

// Groups returns the total number of workgroups.
func (a DispatchArgs) Groups() uint64 {
	return uint64(a.X) * uint64(a.Y) * uint64(a.Z)
}

// Threads returns the number of invocations for a workgroup of groupSize threads.
func (a DispatchArgs) Threads(groupSize uint32) uint64 {
	return a.Groups() * uint64(groupSize)
}
