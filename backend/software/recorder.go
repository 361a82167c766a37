// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"fmt"
	"slices"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
)

// CommandKind identifies a recorded command.
type CommandKind int

// Command kinds.
const (
	CmdBeginSection CommandKind = iota
	CmdEndSection
	CmdBindBuffer
	CmdBindTexture
	CmdBindSampler
	CmdDispatch
	CmdDispatchIndirect
	CmdBufferBarrier
	CmdTextureBarrier
)

func (k CommandKind) String() string {
	switch k {
	case CmdBeginSection:
		return "BeginSection"
	case CmdEndSection:
		return "EndSection"
	case CmdBindBuffer:
		return "BindBuffer"
	case CmdBindTexture:
		return "BindTexture"
	case CmdBindSampler:
		return "BindSampler"
	case CmdDispatch:
		return "Dispatch"
	case CmdDispatchIndirect:
		return "DispatchIndirect"
	case CmdBufferBarrier:
		return "BufferBarrier"
	case CmdTextureBarrier:
		return "TextureBarrier"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is one recorded operation. Fields not used by Kind are zero.
type Command struct {
	Kind CommandKind

	// Section is the name passed to BeginSection.
	Section string

	Kernel gpucore.Kernel

	// Binding is the WGSL variable name of a bind command.
	Binding string

	Buffer  gpucore.Buffer
	Texture gpucore.Texture
	Sampler gpucore.Sampler

	// Groups are the workgroup counts of a direct dispatch.
	Groups [3]uint32

	// Offset is the byte offset of an indirect dispatch into Buffer.
	Offset uint64
}

// Recorder records commands for a software Device.
// The first misuse is kept as a sticky error; later calls are ignored.
type Recorder struct {
	dev   *Device
	label string

	cmds     []Command
	sections []string
	bound    map[gpucore.Kernel]map[string]bool
	err      error
}

var _ gpucore.Recorder = (*Recorder)(nil)

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command { return slices.Clone(r.cmds) }

// Label returns the label passed to NewRecorder.
func (r *Recorder) Label() string { return r.label }

// Err implements gpucore.Recorder.
func (r *Recorder) Err() error { return r.err }

func (r *Recorder) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("software: recorder %q: %w", r.label, err)
		slogger().Warn("recording error", "recorder", r.label, "err", err)
	}
}

// BeginSection implements gpucore.Recorder.
func (r *Recorder) BeginSection(name string) {
	if r.err != nil {
		return
	}
	r.sections = append(r.sections, name)
	r.cmds = append(r.cmds, Command{Kind: CmdBeginSection, Section: name})
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
	name := r.sections[len(r.sections)-1]
	r.sections = r.sections[:len(r.sections)-1]
	r.cmds = append(r.cmds, Command{Kind: CmdEndSection, Section: name})
}

// binding resolves name in the reflection of k.
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

func (r *Recorder) markBound(k gpucore.Kernel, name string) {
	if r.bound == nil {
		r.bound = map[gpucore.Kernel]map[string]bool{}
	}
	if r.bound[k] == nil {
		r.bound[k] = map[string]bool{}
	}
	r.bound[k][name] = true
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
	r.markBound(k, name)
	r.cmds = append(r.cmds, Command{Kind: CmdBindBuffer, Kernel: k, Binding: name, Buffer: b})
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
	if bind.Type != gpucore.BindingTypeSampledTexture && bind.Type != gpucore.BindingTypeStorageTexture {
		r.fail(fmt.Errorf("%q is not a texture binding: %w", name, gpucore.ErrBindingType))
		return
	}
	r.dev.mu.Lock()
	img, ok := r.dev.textures.Get(t)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("texture %v for %q: %w", t, name, gpucore.ErrInvalidHandle))
		return
	}
	uintTexel := bind.TexelType() == "u32"
	if uintTexel != (img.Format == gpucore.TextureFormatRG32Uint) {
		r.fail(fmt.Errorf("%s texture bound to %q (%s): %w", img.Format, name, bind.WGSLType, gpucore.ErrBindingType))
		return
	}
	r.markBound(k, name)
	r.cmds = append(r.cmds, Command{Kind: CmdBindTexture, Kernel: k, Binding: name, Texture: t})
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
	r.markBound(k, name)
	r.cmds = append(r.cmds, Command{Kind: CmdBindSampler, Kernel: k, Binding: name, Sampler: s})
}

// checkBound verifies that every binding declared by k has been bound.
func (r *Recorder) checkBound(k gpucore.Kernel) bool {
	r.dev.mu.Lock()
	kern, ok := r.dev.kernels.Get(k)
	r.dev.mu.Unlock()
	if !ok {
		r.fail(fmt.Errorf("dispatch of kernel %v: %w", k, gpucore.ErrInvalidHandle))
		return false
	}
	for _, b := range kern.module.Bindings {
		if !r.bound[k][b.Name] {
			r.fail(fmt.Errorf("%s: %q: %w", kern.desc.Label(), b.Name, gpucore.ErrUnboundResource))
			return false
		}
	}
	return true
}

// Dispatch implements gpucore.Recorder.
func (r *Recorder) Dispatch(k gpucore.Kernel, x, y, z uint32) {
	if r.err != nil || !r.checkBound(k) {
		return
	}
	if x > maxGroups || y > maxGroups || z > maxGroups {
		r.fail(fmt.Errorf("dispatch (%d, %d, %d) exceeds %d groups per dimension: %w", x, y, z, maxGroups, gpucore.ErrOutOfRange))
		return
	}
	r.cmds = append(r.cmds, Command{Kind: CmdDispatch, Kernel: k, Groups: [3]uint32{x, y, z}})
}

// DispatchIndirect implements gpucore.Recorder.
func (r *Recorder) DispatchIndirect(k gpucore.Kernel, args gpucore.Buffer, offset uint64) {
	if r.err != nil || !r.checkBound(k) {
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
	r.cmds = append(r.cmds, Command{Kind: CmdDispatchIndirect, Kernel: k, Buffer: args, Offset: offset})
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
	r.cmds = append(r.cmds, Command{Kind: CmdBufferBarrier, Buffer: b})
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
	r.cmds = append(r.cmds, Command{Kind: CmdTextureBarrier, Texture: t})
}
