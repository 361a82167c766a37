package wgpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/tsnc/backend"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/internal/spirv"
)

// fenceTimeout bounds a submission when the context has no deadline.
const fenceTimeout = 5 * time.Second

// Errors returned by the wgpu backend.
var (
	// ErrNoAdapter is returned by Open when no usable adapter exists.
	ErrNoAdapter = errors.New("wgpu: no GPU adapter")

	// ErrTimeout is returned when a submission does not complete in time.
	ErrTimeout = errors.New("wgpu: GPU timeout")

	// ErrForeignRecorder is returned when Submit gets a recorder created
	// by another device.
	ErrForeignRecorder = errors.New("wgpu: recorder belongs to another device")

	// ErrProvider is returned when a device provider does not expose HAL objects.
	ErrProvider = errors.New("wgpu: provider does not expose HAL device and queue")
)

func init() {
	backend.Register(backend.BackendWGPU, func() (gpucore.Device, error) { return Open() })
}

type buffer struct {
	raw  hal.Buffer
	desc gpucore.BufferDesc
}

type texture struct {
	raw  hal.Texture
	view hal.TextureView
	desc gpucore.TextureDesc
}

type sampler struct {
	raw  hal.Sampler
	desc gpucore.SamplerDesc
}

type kernel struct {
	desc     gpucore.KernelDesc
	module   *shaderlib.Module
	shader   hal.ShaderModule
	groups   []hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

// Device is a gpucore.Device backed by a HAL device and queue.
type Device struct {
	name     string
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	owned    bool
	limits   gputypes.Limits
	modules  *spirv.Cache

	// submitMu serializes queue submissions and readbacks.
	submitMu sync.Mutex

	mu       sync.Mutex
	buffers  gpucore.Arena[gpucore.BufferKind, *buffer]
	textures gpucore.Arena[gpucore.TextureKind, *texture]
	samplers gpucore.Arena[gpucore.SamplerKind, *sampler]
	kernels  gpucore.Arena[gpucore.KernelKind, *kernel]
	closed   bool
}

var _ gpucore.Device = (*Device)(nil)

// Open creates a standalone Vulkan device, preferring a discrete GPU.
func Open() (*Device, error) {
	vk, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoAdapter)
	}
	instance, err := vk.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	selected := pickAdapter(adapters)
	if selected == nil {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	limits := gputypes.DefaultLimits()
	open, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open %s: %w", selected.Info.Name, err)
	}
	d := newDevice("wgpu/vulkan: "+selected.Info.Name, open.Device, open.Queue, limits)
	d.instance = instance
	d.owned = true
	slogger().Info("device opened", "adapter", selected.Info.Name, "type", selected.Info.DeviceType)
	return d, nil
}

// pickAdapter prefers a discrete GPU, then an integrated one, then any.
func pickAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	if len(adapters) == 0 {
		return nil
	}
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}

// NewFromHAL wraps an existing HAL device and queue. Close releases the
// resources created through the Device but leaves dev open.
func NewFromHAL(dev hal.Device, queue hal.Queue) *Device {
	return newDevice("wgpu/hal", dev, queue, gputypes.DefaultLimits())
}

// NewFromProvider shares the device of a gpucontext provider, e.g. a
// gogpu window. The provider must also expose HalDevice and HalQueue.
func NewFromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, ErrProvider
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, ErrProvider
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, ErrProvider
	}
	d := newDevice("wgpu/shared", dev, queue, gputypes.DefaultLimits())
	slogger().Debug("using shared device")
	return d, nil
}

func newDevice(name string, dev hal.Device, queue hal.Queue, limits gputypes.Limits) *Device {
	return &Device{
		name:    name,
		device:  dev,
		queue:   queue,
		limits:  limits,
		modules: spirv.NewCache(0, nil),
	}
}

// Name implements gpucore.Device.
func (d *Device) Name() string { return d.name }

// Capabilities implements gpucore.Device. The packed path only needs
// unpack2x16float, which is core WGSL.
func (d *Device) Capabilities() gpucore.Capabilities {
	return gpucore.Capabilities{
		PackedWeights:             true,
		MaxWorkgroupsPerDimension: d.limits.MaxComputeWorkgroupsPerDimension,
	}
}

// SetLogger sets the logger of the wgpu backend package.
func (d *Device) SetLogger(l *slog.Logger) { SetLogger(l) }

// SPIRVStats reports the compiled module cache statistics.
func (d *Device) SPIRVStats() spirv.Stats { return d.modules.Stats() }

// CreateBuffer implements gpucore.Device. Every buffer can be written and
// read by the host; the contents start zeroed.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.Buffer, error) {
	if desc.Size == 0 || desc.Size%4 != 0 {
		return gpucore.Buffer{}, fmt.Errorf("wgpu: buffer %q size %d: %w", desc.Label, desc.Size, gpucore.ErrBufferSize)
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return gpucore.Buffer{}, gpucore.ErrClosed
	}

	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.Buffer{}, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}
	d.queue.WriteBuffer(raw, 0, make([]byte, desc.Size))

	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.buffers.Insert(&buffer{raw: raw, desc: desc})
	slogger().Debug("buffer created", "label", desc.Label, "size", desc.Size, "handle", h.String())
	return h, nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(b gpucore.Buffer) {
	d.mu.Lock()
	buf, ok := d.buffers.Remove(b)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBuffer(buf.raw)
	}
}

func (d *Device) hostBuffer(b gpucore.Buffer, offset uint64, n int) (*buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, gpucore.ErrClosed
	}
	buf, ok := d.buffers.Get(b)
	if !ok {
		return nil, fmt.Errorf("wgpu: %v: %w", b, gpucore.ErrInvalidHandle)
	}
	if offset%4 != 0 || n%4 != 0 {
		return nil, fmt.Errorf("wgpu: %s transfer at %d of %d bytes: %w", buf.desc.Label, offset, n, gpucore.ErrOffsetNotAligned)
	}
	if offset+uint64(n) > buf.desc.Size {
		return nil, fmt.Errorf("wgpu: %s transfer [%d, %d) exceeds %d bytes: %w",
			buf.desc.Label, offset, offset+uint64(n), buf.desc.Size, gpucore.ErrOutOfRange)
	}
	return buf, nil
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(b gpucore.Buffer, offset uint64, data []byte) error {
	buf, err := d.hostBuffer(b, offset, len(data))
	if err != nil || len(data) == 0 {
		return err
	}
	d.queue.WriteBuffer(buf.raw, offset, data)
	return nil
}

// ReadBuffer implements gpucore.Device. It copies the range to a staging
// buffer and maps it after the copy completes.
func (d *Device) ReadBuffer(ctx context.Context, b gpucore.Buffer, offset uint64, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := d.hostBuffer(b, offset, len(dst))
	if err != nil || len(dst) == 0 {
		return err
	}

	size := uint64(len(dst))
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: buf.desc.Label + "_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "tsnc_readback"})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("tsnc_readback"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(buf.raw, staging, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	if err := d.submitAndWait(ctx, cmdBuf); err != nil {
		return err
	}
	if err := d.queue.ReadBuffer(staging, 0, dst); err != nil {
		return fmt.Errorf("wgpu: readback %s: %w", buf.desc.Label, err)
	}
	return nil
}

// CreateTexture implements gpucore.Device.
func (d *Device) CreateTexture(desc gpucore.TextureDesc) (gpucore.Texture, error) {
	format, ok := textureFormat(desc.Format)
	if !ok {
		return gpucore.Texture{}, fmt.Errorf("wgpu: texture %q format %s: %w", desc.Label, desc.Format, gpucore.ErrUnsupportedFormat)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return gpucore.Texture{}, fmt.Errorf("wgpu: texture %q is %dx%d: %w", desc.Label, desc.Width, desc.Height, gpucore.ErrOutOfRange)
	}
	mips := max(desc.MipLevels, 1)

	raw, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: mips,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return gpucore.Texture{}, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err)
	}
	view, err := d.device.CreateTextureView(raw, &hal.TextureViewDescriptor{
		Label:         desc.Label + "_view",
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: mips,
	})
	if err != nil {
		d.device.DestroyTexture(raw)
		return gpucore.Texture{}, fmt.Errorf("wgpu: create view of %q: %w", desc.Label, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.device.DestroyTextureView(view)
		d.device.DestroyTexture(raw)
		return gpucore.Texture{}, gpucore.ErrClosed
	}
	desc.MipLevels = mips
	return d.textures.Insert(&texture{raw: raw, view: view, desc: desc}), nil
}

// DestroyTexture implements gpucore.Device.
func (d *Device) DestroyTexture(t gpucore.Texture) {
	d.mu.Lock()
	tex, ok := d.textures.Remove(t)
	d.mu.Unlock()
	if ok {
		d.device.DestroyTextureView(tex.view)
		d.device.DestroyTexture(tex.raw)
	}
}

// WriteTexture implements gpucore.Device. data must hold exactly one mip level.
func (d *Device) WriteTexture(t gpucore.Texture, mip uint32, data []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return gpucore.ErrClosed
	}
	tex, ok := d.textures.Get(t)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("wgpu: %v: %w", t, gpucore.ErrInvalidHandle)
	}
	if mip >= tex.desc.MipLevels {
		return fmt.Errorf("wgpu: mip %d of %d: %w", mip, tex.desc.MipLevels, gpucore.ErrOutOfRange)
	}
	w, h := max(tex.desc.Width>>mip, 1), max(tex.desc.Height>>mip, 1)
	bpt := uint32(tex.desc.Format.BytesPerTexel())
	if want := int(w * h * bpt); len(data) != want {
		return fmt.Errorf("wgpu: mip %d needs %d bytes, got %d: %w", mip, want, len(data), gpucore.ErrOutOfRange)
	}
	d.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: tex.raw, MipLevel: mip},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: w * bpt, RowsPerImage: h},
		&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)
	return nil
}

// CreateSampler implements gpucore.Device.
func (d *Device) CreateSampler(desc gpucore.SamplerDesc) (gpucore.Sampler, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return gpucore.Sampler{}, gpucore.ErrClosed
	}
	raw, err := d.device.CreateSampler(samplerDescriptor(desc))
	if err != nil {
		return gpucore.Sampler{}, fmt.Errorf("wgpu: create sampler %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.samplers.Insert(&sampler{raw: raw, desc: desc}), nil
}

// DestroySampler implements gpucore.Device.
func (d *Device) DestroySampler(s gpucore.Sampler) {
	d.mu.Lock()
	smp, ok := d.samplers.Remove(s)
	d.mu.Unlock()
	if ok {
		d.device.DestroySampler(smp.raw)
	}
}

// NewRecorder implements gpucore.Device.
func (d *Device) NewRecorder(label string) gpucore.Recorder {
	return &Recorder{dev: d, label: label}
}

// Close implements gpucore.Device. A device from Open is destroyed with
// its instance; a wrapped device is left open.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	buffers, textures, samplers, kernels := d.buffers, d.textures, d.samplers, d.kernels
	d.buffers = gpucore.Arena[gpucore.BufferKind, *buffer]{}
	d.textures = gpucore.Arena[gpucore.TextureKind, *texture]{}
	d.samplers = gpucore.Arena[gpucore.SamplerKind, *sampler]{}
	d.kernels = gpucore.Arena[gpucore.KernelKind, *kernel]{}
	d.mu.Unlock()

	slogger().Debug("device closed",
		"buffers", buffers.Len(), "textures", textures.Len(),
		"samplers", samplers.Len(), "kernels", kernels.Len())
	for _, k := range kernels.All() {
		d.destroyKernel(k)
	}
	for _, s := range samplers.All() {
		d.device.DestroySampler(s.raw)
	}
	for _, t := range textures.All() {
		d.device.DestroyTextureView(t.view)
		d.device.DestroyTexture(t.raw)
	}
	for _, b := range buffers.All() {
		d.device.DestroyBuffer(b.raw)
	}
	d.modules.Clear()

	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	return nil
}

// submitAndWait submits cmdBuf and waits for it on a fresh fence. The
// caller holds submitMu.
func (d *Device) submitAndWait(ctx context.Context, cmdBuf hal.CommandBuffer) error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	timeout := fenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	ok, err := d.device.Wait(fence, 1, timeout)
	if err != nil {
		return fmt.Errorf("wgpu: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return nil
}
