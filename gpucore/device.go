package gpucore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by all backends.
var (
	// ErrInvalidHandle is returned when a handle is zero, stale, or unknown.
	ErrInvalidHandle = errors.New("gpucore: invalid or stale handle")

	// ErrUnknownBinding is returned when a kernel declares no binding with the given name.
	ErrUnknownBinding = errors.New("gpucore: unknown binding name")

	// ErrBindingType is returned when a resource of the wrong kind is bound to a name.
	ErrBindingType = errors.New("gpucore: resource does not match binding type")

	// ErrUnboundResource is returned when a dispatch runs with a declared binding left unbound.
	ErrUnboundResource = errors.New("gpucore: binding not bound before dispatch")

	// ErrOffsetNotAligned is returned when an indirect offset or a host
	// transfer is not 4-byte aligned.
	ErrOffsetNotAligned = errors.New("gpucore: offset or size not 4-byte aligned")

	// ErrNotIndirect is returned when the indirect args buffer lacks BufferUsageIndirect.
	ErrNotIndirect = errors.New("gpucore: buffer is not indirect-capable")

	// ErrOutOfRange is returned for reads or writes past the end of a resource.
	ErrOutOfRange = errors.New("gpucore: access out of range")

	// ErrBufferSize is returned for zero or misaligned buffer sizes.
	ErrBufferSize = errors.New("gpucore: buffer size must be a non-zero multiple of 4")

	// ErrUnsupportedFormat is returned for texture formats a backend cannot hold.
	ErrUnsupportedFormat = errors.New("gpucore: unsupported texture format")

	// ErrCompileFailed is wrapped by every CompileError.
	ErrCompileFailed = errors.New("gpucore: kernel compilation failed")

	// ErrSectionMismatch is returned when EndSection has no matching BeginSection.
	ErrSectionMismatch = errors.New("gpucore: unbalanced section")

	// ErrClosed is returned by a device after Close.
	ErrClosed = errors.New("gpucore: device closed")
)

// Capabilities describes optional device features resolved at startup.
type Capabilities struct {
	// PackedWeights reports support for the packed fp16 weight path.
	PackedWeights bool

	// MaxWorkgroupsPerDimension bounds each dispatch dimension.
	MaxWorkgroupsPerDimension uint32
}

// Device creates resources, compiles kernels and executes recorded work.
//
// Resource creation and Submit are safe for concurrent use.
// A Recorder is owned by one goroutine.
type Device interface {
	// Name identifies the backend, e.g. "software" or "wgpu/vulkan".
	Name() string

	// Capabilities reports optional features.
	Capabilities() Capabilities

	CreateBuffer(desc BufferDesc) (Buffer, error)
	DestroyBuffer(b Buffer)

	// WriteBuffer copies data into b at offset. It is a host upload and
	// happens before any later submitted work.
	WriteBuffer(b Buffer, offset uint64, data []byte) error

	// ReadBuffer copies b into dst starting at offset. It blocks until
	// previously submitted work has completed.
	ReadBuffer(ctx context.Context, b Buffer, offset uint64, dst []byte) error

	CreateTexture(desc TextureDesc) (Texture, error)
	DestroyTexture(t Texture)

	// WriteTexture uploads tightly packed texels for one mip level.
	WriteTexture(t Texture, mip uint32, data []byte) error

	CreateSampler(desc SamplerDesc) (Sampler, error)
	DestroySampler(s Sampler)

	// CompileKernel compiles desc. It never panics; failures are reported
	// through the returned result.
	CompileKernel(desc KernelDesc) CompileResult
	DestroyKernel(k Kernel)

	// NewRecorder starts an empty command recording.
	NewRecorder(label string) Recorder

	// Submit executes r and waits for completion. The recorder must not
	// be reused afterwards.
	Submit(ctx context.Context, r Recorder) error

	// Close releases every resource still owned by the device.
	Close() error
}

// Recorder records compute work for later submission.
//
// Bindings are set per kernel, by the WGSL variable name, and stay in
// effect for later dispatches of that kernel within the same recorder.
type Recorder interface {
	BeginSection(name string)
	EndSection()

	BindBuffer(k Kernel, name string, b Buffer)
	BindTexture(k Kernel, name string, t Texture)
	BindSampler(k Kernel, name string, s Sampler)

	// Dispatch runs k with x*y*z workgroups.
	Dispatch(k Kernel, x, y, z uint32)

	// DispatchIndirect runs k with the DispatchArgs stored in args at
	// byte offset. The arguments are read when the command executes.
	DispatchIndirect(k Kernel, args Buffer, offset uint64)

	// BufferBarrier makes all earlier writes to b visible to later commands.
	BufferBarrier(b Buffer)

	// TextureBarrier makes all earlier writes to t visible to later commands.
	TextureBarrier(t Texture)

	// Err returns the first recording error.
	Err() error
}

// Diagnostic is one compiler message.
type Diagnostic struct {
	// Line is 1-based; 0 means the message is not tied to a line.
	Line    int
	Message string
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("line %d: %s", d.Line, d.Message)
	}
	return d.Message
}

// Diagnostics is a list of compiler messages.
type Diagnostics []Diagnostic

func (ds Diagnostics) String() string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

// CompileError reports a failed compilation.
type CompileError struct {
	Label       string
	Diagnostics Diagnostics
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("gpucore: compile %s: %s", e.Label, e.Diagnostics)
}

// Unwrap lets errors.Is match ErrCompileFailed.
func (e *CompileError) Unwrap() error { return ErrCompileFailed }

// CompileResult is either Ok with a kernel or Err with diagnostics.
type CompileResult struct {
	kernel Kernel
	err    *CompileError
}

// Compiled returns an Ok result.
func Compiled(k Kernel) CompileResult { return CompileResult{kernel: k} }

// Failed returns an Err result for the kernel labelled label.
func Failed(label string, diags ...Diagnostic) CompileResult {
	if len(diags) == 0 {
		diags = Diagnostics{{Message: "unknown error"}}
	}
	return CompileResult{err: &CompileError{Label: label, Diagnostics: diags}}
}

// OK reports whether compilation succeeded.
func (r CompileResult) OK() bool { return r.err == nil && r.kernel.IsValid() }

// Kernel returns the compiled kernel and whether the result is Ok.
func (r CompileResult) Kernel() (Kernel, bool) { return r.kernel, r.OK() }

// Diagnostics returns the compiler messages of an Err result.
func (r CompileResult) Diagnostics() Diagnostics {
	if r.err == nil {
		return nil
	}
	return r.err.Diagnostics
}

// Err returns nil for Ok results and a *CompileError otherwise.
func (r CompileResult) Err() error {
	if r.err != nil {
		return r.err
	}
	if !r.kernel.IsValid() {
		return &CompileError{Diagnostics: Diagnostics{{Message: "no kernel produced"}}}
	}
	return nil
}
