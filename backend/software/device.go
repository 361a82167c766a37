// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/tsnc/backend"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/refkernels"
	"github.com/gogpu/tsnc/internal/shaderlib"
)

// Name is the backend name reported by Device.Name.
const Name = "software"

// maxGroups is the per-dimension dispatch limit, matching WebGPU's default.
const maxGroups = 65535

// Errors returned by the software backend.
var (
	// ErrHazard is returned by Submit when a dispatch touches a resource
	// written by an earlier dispatch without a barrier in between.
	ErrHazard = errors.New("software: missing barrier")

	// ErrKernelFault is returned when a kernel faults during execution,
	// e.g. on an out-of-bounds buffer access.
	ErrKernelFault = errors.New("software: kernel fault")

	// ErrForeignRecorder is returned when Submit gets a recorder created
	// by another device.
	ErrForeignRecorder = errors.New("software: recorder belongs to another device")
)

func init() {
	backend.Register(Name, func() (gpucore.Device, error) { return New(), nil })
}

type buffer struct {
	desc  gpucore.BufferDesc
	words []uint32
}

type kernel struct {
	desc      gpucore.KernelDesc
	module    *shaderlib.Module
	groupSize [3]uint32
	impl      refkernels.Kernel
}

// Device is a CPU implementation of gpucore.Device.
type Device struct {
	opts     options
	registry map[refkernels.Key]refkernels.Factory

	mu       sync.Mutex
	buffers  gpucore.Arena[gpucore.BufferKind, *buffer]
	textures gpucore.Arena[gpucore.TextureKind, *refkernels.Image]
	samplers gpucore.Arena[gpucore.SamplerKind, gpucore.SamplerDesc]
	kernels  gpucore.Arena[gpucore.KernelKind, *kernel]
	closed   bool
}

var _ gpucore.Device = (*Device)(nil)

// New creates a software device.
func New(opts ...Option) *Device {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	registry := refkernels.Builtin(o.policy)
	for k, f := range o.kernels {
		registry[k] = f
	}
	return &Device{opts: o, registry: registry}
}

// Name implements gpucore.Device.
func (d *Device) Name() string { return Name }

// Capabilities implements gpucore.Device.
func (d *Device) Capabilities() gpucore.Capabilities {
	return gpucore.Capabilities{
		PackedWeights:             d.opts.packedWeights,
		MaxWorkgroupsPerDimension: maxGroups,
	}
}

// CreateBuffer implements gpucore.Device. The contents start zeroed.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	if desc.Size == 0 || desc.Size%4 != 0 {
		return gpucore.Buffer{}, fmt.Errorf("software: buffer %q size %d: %w", desc.Label, desc.Size, gpucore.ErrBufferSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.Buffer{}, gpucore.ErrClosed
	}
	h := d.buffers.Insert(&buffer{desc: desc, words: make([]uint32, desc.Size/4)})
	slogger().Debug("buffer created", "label", desc.Label, "size", desc.Size, "handle", h.String())
	return h, nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(b gpucore.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers.Remove(b)
}

func (d *Device) hostRange(b gpucore.Buffer, offset uint64, n int) ([]uint32, error) {
	if d.closed {
		return nil, gpucore.ErrClosed
	}
	buf, ok := d.buffers.Get(b)
	if !ok {
		return nil, fmt.Errorf("software: %v: %w", b, gpucore.ErrInvalidHandle)
	}
	if offset%4 != 0 || n%4 != 0 {
		return nil, fmt.Errorf("software: %s transfer at %d of %d bytes: %w", buf.desc.Label, offset, n, gpucore.ErrOffsetNotAligned)
	}
	if offset+uint64(n) > buf.desc.Size {
		return nil, fmt.Errorf("software: %s transfer [%d, %d) exceeds %d bytes: %w",
			buf.desc.Label, offset, offset+uint64(n), buf.desc.Size, gpucore.ErrOutOfRange)
	}
	return buf.words[offset/4 : offset/4+uint64(n/4)], nil
}

// WriteBuffer implements gpucore.Device. offset and len(data) must be
// multiples of 4.
func (d *Device) WriteBuffer(b gpucore.Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	words, err := d.hostRange(b, offset, len(data))
	if err != nil {
		return err
	}
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return nil
}

// ReadBuffer implements gpucore.Device. Submit is synchronous, so the
// contents are always up to date.
func (d *Device) ReadBuffer(ctx context.Context, b gpucore.Buffer, offset uint64, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	words, err := d.hostRange(b, offset, len(dst))
	if err != nil {
		return err
	}
	for i, w := range words {
		binary.LittleEndian.PutUint32(dst[i*4:], w)
	}
	return nil
}

// CreateTexture implements gpucore.Device.
func (d *Device) CreateTexture(desc gpucore.TextureDesc) (gpucore.Texture, error) {
	img, err := refkernels.NewImage(desc.Width, desc.Height, desc.MipLevels, desc.Format)
	if err != nil {
		return gpucore.Texture{}, fmt.Errorf("software: texture %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.Texture{}, gpucore.ErrClosed
	}
	return d.textures.Insert(img), nil
}

// DestroyTexture implements gpucore.Device.
func (d *Device) DestroyTexture(t gpucore.Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.textures.Remove(t)
}

// WriteTexture implements gpucore.Device. data must hold exactly one mip level.
func (d *Device) WriteTexture(t gpucore.Texture, mip uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrClosed
	}
	img, ok := d.textures.Get(t)
	if !ok {
		return fmt.Errorf("software: %v: %w", t, gpucore.ErrInvalidHandle)
	}
	if int(mip) >= len(img.Mips) {
		return fmt.Errorf("software: mip %d of %d: %w", mip, len(img.Mips), gpucore.ErrOutOfRange)
	}
	if len(data) != len(img.Mips[mip]) {
		return fmt.Errorf("software: mip %d needs %d bytes, got %d: %w", mip, len(img.Mips[mip]), len(data), gpucore.ErrOutOfRange)
	}
	copy(img.Mips[mip], data)
	return nil
}

// CreateSampler implements gpucore.Device.
func (d *Device) CreateSampler(desc gpucore.SamplerDesc) (gpucore.Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.Sampler{}, gpucore.ErrClosed
	}
	return d.samplers.Insert(desc), nil
}

// DestroySampler implements gpucore.Device.
func (d *Device) DestroySampler(s gpucore.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.samplers.Remove(s)
}

// CompileKernel implements gpucore.Device.
func (d *Device) CompileKernel(desc gpucore.KernelDesc) gpucore.CompileResult {
	label := desc.Label()
	mod, err := shaderlib.Reflect(desc.Source)
	if err != nil {
		return gpucore.Failed(label, gpucore.Diagnostic{Message: err.Error()})
	}
	entry, ok := mod.Entry(desc.EntryPoint)
	if !ok {
		return gpucore.Failed(label, gpucore.Diagnostic{Message: "no @compute entry point " + desc.EntryPoint})
	}
	factory, ok := d.registry[refkernels.Key{Module: desc.Module, Entry: desc.EntryPoint}]
	if !ok {
		return gpucore.Failed(label, gpucore.Diagnostic{Message: "no reference kernel registered"})
	}
	defines, err := shaderlib.ParseDefines(desc.Defines)
	if err != nil {
		return gpucore.Failed(label, gpucore.Diagnostic{Message: err.Error()})
	}
	impl, err := factory(defines)
	if err != nil {
		return gpucore.Failed(label, gpucore.Diagnostic{Message: err.Error()})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.Failed(label, gpucore.Diagnostic{Message: gpucore.ErrClosed.Error()})
	}
	h := d.kernels.Insert(&kernel{desc: desc, module: mod, groupSize: entry.WorkgroupSize, impl: impl})
	slogger().Debug("kernel compiled", "kernel", label, "bindings", len(mod.Bindings), "handle", h.String())
	return gpucore.Compiled(h)
}

// DestroyKernel implements gpucore.Device.
func (d *Device) DestroyKernel(k gpucore.Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels.Remove(k)
}

// NewRecorder implements gpucore.Device.
func (d *Device) NewRecorder(label string) gpucore.Recorder {
	return &Recorder{dev: d, label: label}
}

// Close implements gpucore.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	slogger().Debug("device closed",
		"buffers", d.buffers.Len(), "textures", d.textures.Len(),
		"samplers", d.samplers.Len(), "kernels", d.kernels.Len())
	d.buffers = gpucore.Arena[gpucore.BufferKind, *buffer]{}
	d.textures = gpucore.Arena[gpucore.TextureKind, *refkernels.Image]{}
	d.samplers = gpucore.Arena[gpucore.SamplerKind, gpucore.SamplerDesc]{}
	d.kernels = gpucore.Arena[gpucore.KernelKind, *kernel]{}
	return nil
}

// Stats reports the number of live resources.
type Stats struct {
	Buffers, Textures, Samplers, Kernels int
}

// Stats returns the live resource counts, for leak checks in tests.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{d.buffers.Len(), d.textures.Len(), d.samplers.Len(), d.kernels.Len()}
}

// SetLogger sets the logger of the software backend package.
func (d *Device) SetLogger(l *slog.Logger) { SetLogger(l) }
