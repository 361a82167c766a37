// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"context"
	"fmt"
	"strings"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/refkernels"
)

// resourceKey identifies a buffer or texture for hazard tracking.
type resourceKey struct {
	texture bool
	index   uint32
	gen     uint32
}

func bufferKey(b gpucore.Buffer) resourceKey {
	return resourceKey{index: b.Index(), gen: b.Generation()}
}

func textureKey(t gpucore.Texture) resourceKey {
	return resourceKey{texture: true, index: t.Index(), gen: t.Generation()}
}

// replay is the execution state of one Submit.
type replay struct {
	dev      *Device
	label    string
	sections []string
	bindings map[gpucore.Kernel]map[string]Command

	// dirty maps resources written by a dispatch and not yet barriered
	// to the label of the writing kernel.
	dirty map[resourceKey]string
}

// Submit implements gpucore.Device. Commands run in recorded order on the
// calling goroutine; the device lock is held for the whole submission.
func (d *Device) Submit(ctx context.Context, rec gpucore.Recorder) error {
	r, ok := rec.(*Recorder)
	if !ok || r.dev != d {
		return ErrForeignRecorder
	}
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.sections) != 0 {
		return fmt.Errorf("software: recorder %q: section %q not ended: %w",
			r.label, r.sections[len(r.sections)-1], gpucore.ErrSectionMismatch)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrClosed
	}

	rp := &replay{
		dev:      d,
		label:    r.label,
		bindings: map[gpucore.Kernel]map[string]Command{},
		dirty:    map[resourceKey]string{},
	}
	for i, cmd := range r.cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rp.exec(cmd); err != nil {
			return fmt.Errorf("software: %s: command %d (%s): %w", rp.where(), i, cmd.Kind, err)
		}
	}
	slogger().Debug("submitted", "recorder", r.label, "commands", len(r.cmds))
	return nil
}

func (rp *replay) where() string {
	if len(rp.sections) == 0 {
		return rp.label
	}
	return rp.label + "/" + strings.Join(rp.sections, "/")
}

func (rp *replay) exec(cmd Command) error {
	switch cmd.Kind {
	case CmdBeginSection:
		rp.sections = append(rp.sections, cmd.Section)
		slogger().Debug("section", "name", rp.where())
	case CmdEndSection:
		rp.sections = rp.sections[:len(rp.sections)-1]
	case CmdBindBuffer, CmdBindTexture, CmdBindSampler:
		if rp.bindings[cmd.Kernel] == nil {
			rp.bindings[cmd.Kernel] = map[string]Command{}
		}
		rp.bindings[cmd.Kernel][cmd.Binding] = cmd
	case CmdBufferBarrier:
		delete(rp.dirty, bufferKey(cmd.Buffer))
	case CmdTextureBarrier:
		delete(rp.dirty, textureKey(cmd.Texture))
	case CmdDispatch:
		return rp.dispatch(cmd.Kernel, cmd.Groups)
	case CmdDispatchIndirect:
		groups, err := rp.indirectGroups(cmd)
		if err != nil {
			return err
		}
		return rp.dispatch(cmd.Kernel, groups)
	default:
		return fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
	return nil
}

// indirectGroups reads the DispatchArgs of cmd as they are at execution time.
func (rp *replay) indirectGroups(cmd Command) ([3]uint32, error) {
	if err := rp.touch(bufferKey(cmd.Buffer), "indirect args"); err != nil {
		return [3]uint32{}, err
	}
	buf, ok := rp.dev.buffers.Get(cmd.Buffer)
	if !ok {
		return [3]uint32{}, fmt.Errorf("indirect args %v: %w", cmd.Buffer, gpucore.ErrInvalidHandle)
	}
	w := cmd.Offset / 4
	return [3]uint32{buf.words[w], buf.words[w+1], buf.words[w+2]}, nil
}

// touch reports a hazard if key was written without a later barrier.
func (rp *replay) touch(key resourceKey, what string) error {
	writer, ok := rp.dirty[key]
	if !ok {
		return nil
	}
	err := fmt.Errorf("%s written by %s is used without a barrier: %w", what, writer, ErrHazard)
	if rp.dev.opts.strictBarriers {
		return err
	}
	slogger().Warn("barrier hazard", "at", rp.where(), "err", err)
	delete(rp.dirty, key)
	return nil
}

func (rp *replay) dispatch(k gpucore.Kernel, groups [3]uint32) error {
	kern, ok := rp.dev.kernels.Get(k)
	if !ok {
		return fmt.Errorf("kernel %v: %w", k, gpucore.ErrInvalidHandle)
	}
	label := kern.desc.Label()
	for i, n := range groups {
		if n > maxGroups {
			return fmt.Errorf("%s: %d groups in dimension %d exceeds %d: %w", label, n, i, maxGroups, gpucore.ErrOutOfRange)
		}
	}

	res := &dispatchResources{dev: rp.dev, kernel: kern, bound: rp.bindings[k]}
	var written []resourceKey
	for _, b := range kern.module.Bindings {
		cmd, ok := res.bound[b.Name]
		if !ok {
			return fmt.Errorf("%s: %q: %w", label, b.Name, gpucore.ErrUnboundResource)
		}
		var key resourceKey
		switch cmd.Kind {
		case CmdBindBuffer:
			key = bufferKey(cmd.Buffer)
		case CmdBindTexture:
			key = textureKey(cmd.Texture)
		default:
			continue
		}
		if err := rp.touch(key, fmt.Sprintf("%q", b.Name)); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		if b.Type.Writable() {
			written = append(written, key)
		}
	}

	if groups[0] == 0 || groups[1] == 0 || groups[2] == 0 {
		slogger().Debug("empty dispatch", "kernel", label, "at", rp.where())
	} else if err := runKernel(kern, res, groups); err != nil {
		return err
	}
	for _, key := range written {
		rp.dirty[key] = label
	}
	return nil
}

// runKernel executes a reference kernel and converts panics into ErrKernelFault.
func runKernel(kern *kernel, res refkernels.Resources, groups [3]uint32) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: %v: %w", kern.desc.Label(), p, ErrKernelFault)
		}
	}()
	if err := kern.impl.Run(res, groups); err != nil {
		return fmt.Errorf("%s: %w", kern.desc.Label(), err)
	}
	return nil
}

// dispatchResources resolves bindings for one dispatch.
type dispatchResources struct {
	dev    *Device
	kernel *kernel
	bound  map[string]Command
}

var _ refkernels.Resources = (*dispatchResources)(nil)

func (r *dispatchResources) lookup(name string, kind CommandKind) (Command, error) {
	cmd, ok := r.bound[name]
	if !ok {
		if _, declared := r.kernel.module.Binding(name); !declared {
			return Command{}, fmt.Errorf("%q: %w", name, gpucore.ErrUnknownBinding)
		}
		return Command{}, fmt.Errorf("%q: %w", name, gpucore.ErrUnboundResource)
	}
	if cmd.Kind != kind {
		return Command{}, fmt.Errorf("%q bound with %s: %w", name, cmd.Kind, gpucore.ErrBindingType)
	}
	return cmd, nil
}

// Words implements refkernels.Resources.
func (r *dispatchResources) Words(name string) ([]uint32, error) {
	cmd, err := r.lookup(name, CmdBindBuffer)
	if err != nil {
		return nil, err
	}
	buf, ok := r.dev.buffers.Get(cmd.Buffer)
	if !ok {
		return nil, fmt.Errorf("%q: %v: %w", name, cmd.Buffer, gpucore.ErrInvalidHandle)
	}
	return buf.words, nil
}

// Texture implements refkernels.Resources.
func (r *dispatchResources) Texture(name string) (*refkernels.Image, error) {
	cmd, err := r.lookup(name, CmdBindTexture)
	if err != nil {
		return nil, err
	}
	img, ok := r.dev.textures.Get(cmd.Texture)
	if !ok {
		return nil, fmt.Errorf("%q: %v: %w", name, cmd.Texture, gpucore.ErrInvalidHandle)
	}
	return img, nil
}

// Sampler implements refkernels.Resources.
func (r *dispatchResources) Sampler(name string) (gpucore.SamplerDesc, error) {
	cmd, err := r.lookup(name, CmdBindSampler)
	if err != nil {
		return gpucore.SamplerDesc{}, err
	}
	s, ok := r.dev.samplers.Get(cmd.Sampler)
	if !ok {
		return gpucore.SamplerDesc{}, fmt.Errorf("%q: %v: %w", name, cmd.Sampler, gpucore.ErrInvalidHandle)
	}
	return s, nil
}
