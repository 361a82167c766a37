package wgpu

import (
	"context"
	"fmt"
	"maps"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
)

type commandKind int

const (
	cmdDispatch commandKind = iota
	cmdDispatchIndirect
	cmdBufferBarrier
	cmdTextureBarrier
)

// resource is one bound buffer, texture or sampler.
type resource struct {
	buffer  gpucore.Buffer
	texture gpucore.Texture
	sampler gpucore.Sampler
}

type command struct {
	kind     commandKind
	section  string
	kernel   gpucore.Kernel
	bindings map[string]resource
	groups   [3]uint32
	buffer   gpucore.Buffer
	texture  gpucore.Texture
	offset   uint64
}

// Recorder is the gpucore.Recorder of a wgpu Device. Commands are
// validated when recorded and encoded by Submit.
type Recorder struct {
	dev   *Device
	label string

	cmds     []command
	sections []string
	bound    map[gpucore.Kernel]map[string]resource
	err      error
}

var _ gpucore.Recorder = (*Recorder)(nil)

// Err implements gpucore.Recorder.
func (r *Recorder) Err() error { return r.err }

func (r *Recorder) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("wgpu: recorder %q: %w", r.label, err)
		slogger().Warn("recording error", "recorder", r.label, "err", err)
	}
}

func (r *Recorder) section() string {
	if len(r.sections) == 0 {
		return r.label
	}
	return r.sections[len(r.sections)-1]
}

// BeginSection implements gpucore.Recorder. Sections label the compute
// passes recorded inside them.
func (r *Recorder) BeginSection(name string) {
	if r.err == nil {
		r.sections = append(r.sections, name)
	}
}

// EndSection implements gpucore.Recorder.
func (r *Recorder) EndSection() {
	if r.err != nil {
		return
	}
	if len(r.sections) == 0 {
		r.fail(gpucore.ErrSectionMismatch)
		return
	}
	r.sections = r.sections[:len(r.sections)-1]
}

func (r *Recorder) binding(k gpucore.Kernel, name string) (shaderlib.Binding, bool) {
	r.dev.mu.Lock()
	kern, ok := r.dev.kernels.Get(k)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("kernel %v: %w", k, gpucore.ErrInvalidHandle))
		return shaderlib.Binding{}, false
	}
	b, ok := kern.module.Binding(name)
	if !ok {
		r.fail(fmt.Errorf("%s: %q: %w", kern.desc.Label(), name, gpucore.ErrUnknownBinding))
		return shaderlib.Binding{}, false
	}
	return b, true
}

func (r *Recorder) bind(k gpucore.Kernel, name string, res resource) {
	if r.bound == nil {
		r.bound = map[gpucore.Kernel]map[string]resource{}
	}
	if r.bound[k] == nil {
		r.bound[k] = map[string]resource{}
	}
	r.bound[k][name] = res
}

// BindBuffer implements gpucore.Recorder.
func (r *Recorder) BindBuffer(k gpucore.Kernel, name string, b gpucore.Buffer) {
	if r.err != nil {
		return
	}
	bind, ok := r.binding(k, name)
	if !ok {
		return
	}
	if !bind.Type.IsBuffer() {
		r.fail(fmt.Errorf("%q is not a buffer binding: %w", name, gpucore.ErrBindingType))
		return
	}
	r.dev.mu.Lock()
	buf, ok := r.dev.buffers.Get(b)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("buffer %v for %q: %w", b, name, gpucore.ErrInvalidHandle))
		return
	}
	want := gpucore.BufferUsageStorage
	if bind.Type == gpucore.BindingTypeUniformBuffer {
		want = gpucore.BufferUsageUniform
	}
	if !buf.desc.Usage.Has(want) {
		r.fail(fmt.Errorf("buffer %q bound to %q lacks usage %#x: %w", buf.desc.Label, name, want, gpucore.ErrBindingType))
		return
	}
	r.bind(k, name, resource{buffer: b})
}

// BindTexture implements gpucore.Recorder.
func (r *Recorder) BindTexture(k gpucore.Kernel, name string, t gpucore.Texture) {
	if r.err != nil {
		return
	}
	bind, ok := r.binding(k, name)
	if !ok {
		return
	}
	if bind.Type != gpucore.BindingTypeSampledTexture {
		r.fail(fmt.Errorf("%q is not a sampled texture binding: %w", name, gpucore.ErrBindingType))
		return
	}
	r.dev.mu.Lock()
	tex, ok := r.dev.textures.Get(t)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("texture %v for %q: %w", t, name, gpucore.ErrInvalidHandle))
		return
	}
	if (bind.TexelType() == "u32") != (tex.desc.Format == gpucore.TextureFormatRG32Uint) {
		r.fail(fmt.Errorf("%s texture bound to %q (%s): %w", tex.desc.Format, name, bind.WGSLType, gpucore.ErrBindingType))
		return
	}
	r.bind(k, name, resource{texture: t})
}

// BindSampler implements gpucore.Recorder.
func (r *Recorder) BindSampler(k gpucore.Kernel, name string, s gpucore.Sampler) {
	if r.err != nil {
		return
	}
	bind, ok := r.binding(k, name)
	if !ok {
		return
	}
	if bind.Type != gpucore.BindingTypeSampler {
		r.fail(fmt.Errorf("%q is not a sampler binding: %w", name, gpucore.ErrBindingType))
		return
	}
	r.dev.mu.Lock()
	_, ok = r.dev.samplers.Get(s)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("sampler %v for %q: %w", s, name, gpucore.ErrInvalidHandle))
		return
	}
	r.bind(k, name, resource{sampler: s})
}

// snapshot returns the bindings of k, or false when one is missing.
func (r *Recorder) snapshot(k gpucore.Kernel) (map[string]resource, bool) {
	r.dev.mu.Lock()
	kern, ok := r.dev.kernels.Get(k)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("dispatch of kernel %v: %w", k, gpucore.ErrInvalidHandle))
		return nil, false
	}
	for _, b := range kern.module.Bindings {
		if _, ok := r.bound[k][b.Name]; !ok {
			r.fail(fmt.Errorf("%s: %q: %w", kern.desc.Label(), b.Name, gpucore.ErrUnboundResource))
			return nil, false
		}
	}
	return maps.Clone(r.bound[k]), true
}

// Dispatch implements gpucore.Recorder.
func (r *Recorder) Dispatch(k gpucore.Kernel, x, y, z uint32) {
	if r.err != nil {
		return
	}
	bindings, ok := r.snapshot(k)
	if !ok {
		return
	}
	limit := r.dev.Capabilities().MaxWorkgroupsPerDimension
	if x > limit || y > limit || z > limit {
		r.fail(fmt.Errorf("dispatch (%d, %d, %d) exceeds %d groups per dimension: %w", x, y, z, limit, gpucore.ErrOutOfRange))
		return
	}
	r.cmds = append(r.cmds, command{kind: cmdDispatch, section: r.section(), kernel: k, bindings: bindings, groups: [3]uint32{x, y, z}})
}

// DispatchIndirect implements gpucore.Recorder.
func (r *Recorder) DispatchIndirect(k gpucore.Kernel, args gpucore.Buffer, offset uint64) {
	if r.err != nil {
		return
	}
	bindings, ok := r.snapshot(k)
	if !ok {
		return
	}
	if offset%4 != 0 {
		r.fail(fmt.Errorf("indirect offset %d: %w", offset, gpucore.ErrOffsetNotAligned))
		return
	}
	r.dev.mu.Lock()
	buf, ok := r.dev.buffers.Get(args)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("indirect args %v: %w", args, gpucore.ErrInvalidHandle))
		return
	}
	if !buf.desc.Usage.Has(gpucore.BufferUsageIndirect) {
		r.fail(fmt.Errorf("indirect args %q: %w", buf.desc.Label, gpucore.ErrNotIndirect))
		return
	}
	if end := offset + (gpucore.DispatchArgs{}).Size(); end > buf.desc.Size {
		r.fail(fmt.Errorf("indirect args at %d past %q (%d bytes): %w", offset, buf.desc.Label, buf.desc.Size, gpucore.ErrOutOfRange))
		return
	}
	r.cmds = append(r.cmds, command{kind: cmdDispatchIndirect, section: r.section(), kernel: k, bindings: bindings, buffer: args, offset: offset})
}

// BufferBarrier implements gpucore.Recorder.
func (r *Recorder) BufferBarrier(b gpucore.Buffer) {
	if r.err != nil {
		return
	}
	r.dev.mu.Lock()
	_, ok := r.dev.buffers.Get(b)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("barrier on %v: %w", b, gpucore.ErrInvalidHandle))
		return
	}
	r.cmds = append(r.cmds, command{kind: cmdBufferBarrier, buffer: b})
}

// TextureBarrier implements gpucore.Recorder.
func (r *Recorder) TextureBarrier(t gpucore.Texture) {
	if r.err != nil {
		return
	}
	r.dev.mu.Lock()
	_, ok := r.dev.textures.Get(t)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("barrier on %v: %w", t, gpucore.ErrInvalidHandle))
		return
	}
	r.cmds = append(r.cmds, command{kind: cmdTextureBarrier, texture: t})
}

// Submit implements gpucore.Device.
func (d *Device) Submit(ctx context.Context, rec gpucore.Recorder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, ok := rec.(*Recorder)
	if !ok || r.dev != d {
		return ErrForeignRecorder
	}
	if r.err != nil {
		return r.err
	}
	if len(r.sections) != 0 {
		return fmt.Errorf("wgpu: recorder %q: section %q not ended: %w", r.label, r.section(), gpucore.ErrSectionMismatch)
	}
	if len(r.cmds) == 0 {
		return nil
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: r.label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(r.label); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}

	var bindGroups []hal.BindGroup
	defer func() {
		for _, bg := range bindGroups {
			d.device.DestroyBindGroup(bg)
		}
	}()

	for i, c := range r.cmds {
		if err := d.encode(encoder, &c, &bindGroups); err != nil {
			encoder.DiscardEncoding()
			return fmt.Errorf("wgpu: recorder %q: command %d: %w", r.label, i, err)
		}
	}

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
	slogger().Debug("submitted", "recorder", r.label, "commands", len(r.cmds), "bind_groups", len(bindGroups))
	return nil
}

// encode appends one command to encoder. Bind groups it creates are
// appended to *bindGroups for release after the submission.
func (d *Device) encode(encoder hal.CommandEncoder, c *command, bindGroups *[]hal.BindGroup) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch c.kind {
	case cmdBufferBarrier:
		buf, ok := d.buffers.Get(c.buffer)
		if !ok {
			return fmt.Errorf("barrier on %v: %w", c.buffer, gpucore.ErrInvalidHandle)
		}
		encoder.TransitionBuffers([]hal.BufferBarrier{{
			Buffer: buf.raw,
			Usage: hal.BufferUsageTransition{
				OldUsage: gputypes.BufferUsageStorage,
				NewUsage: bufferUsage(buf.desc.Usage),
			},
		}})
		return nil

	case cmdTextureBarrier:
		tex, ok := d.textures.Get(c.texture)
		if !ok {
			return fmt.Errorf("barrier on %v: %w", c.texture, gpucore.ErrInvalidHandle)
		}
		encoder.TransitionTextures([]hal.TextureBarrier{{
			Texture: tex.raw,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopyDst,
				NewUsage: gputypes.TextureUsageTextureBinding,
			},
		}})
		return nil
	}

	k, ok := d.kernels.Get(c.kernel)
	if !ok {
		return fmt.Errorf("kernel %v: %w", c.kernel, gpucore.ErrInvalidHandle)
	}
	groups := make([][]gputypes.BindGroupEntry, len(k.groups))
	for _, b := range k.module.Bindings {
		e, err := d.groupEntry(b, c.bindings[b.Name])
		if err != nil {
			return fmt.Errorf("%s: %q: %w", k.desc.Label(), b.Name, err)
		}
		groups[b.Group] = append(groups[b.Group], e)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: c.section})
	pass.SetPipeline(k.pipeline)
	for g, entries := range groups {
		bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s_bg%d", k.desc.Label(), g),
			Layout:  k.groups[g],
			Entries: entries,
		})
		if err != nil {
			pass.End()
			return fmt.Errorf("create bind group %d of %s: %w", g, k.desc.Label(), err)
		}
		*bindGroups = append(*bindGroups, bg)
		pass.SetBindGroup(uint32(g), bg, nil)
	}
	if c.kind == cmdDispatchIndirect {
		args, ok := d.buffers.Get(c.buffer)
		if !ok {
			pass.End()
			return fmt.Errorf("indirect args %v: %w", c.buffer, gpucore.ErrInvalidHandle)
		}
		pass.DispatchIndirect(args.raw, c.offset)
	} else {
		pass.Dispatch(c.groups[0], c.groups[1], c.groups[2])
	}
	pass.End()
	return nil
}

// groupEntry resolves the resource bound to b. The caller holds d.mu.
func (d *Device) groupEntry(b shaderlib.Binding, res resource) (gputypes.BindGroupEntry, error) {
	e := gputypes.BindGroupEntry{Binding: b.Binding}
	switch {
	case b.Type.IsBuffer():
		buf, ok := d.buffers.Get(res.buffer)
		if !ok {
			return e, gpucore.ErrInvalidHandle
		}
		e.Resource = gputypes.BufferBinding{Buffer: buf.raw.NativeHandle(), Offset: 0, Size: 0}
	case b.Type == gpucore.BindingTypeSampledTexture:
		tex, ok := d.textures.Get(res.texture)
		if !ok {
			return e, gpucore.ErrInvalidHandle
		}
		e.Resource = gputypes.TextureViewBinding{TextureView: tex.view.NativeHandle()}
	case b.Type == gpucore.BindingTypeSampler:
		smp, ok := d.samplers.Get(res.sampler)
		if !ok {
			return e, gpucore.ErrInvalidHandle
		}
		e.Resource = gputypes.SamplerBinding{Sampler: smp.raw.NativeHandle()}
	default:
		return e, gpucore.ErrBindingType
	}
	return e, nil
}
