package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
)

// CompileKernel implements gpucore.Device.
func (d *Device) CompileKernel(desc gpucore.KernelDesc) gpucore.CompileResult {
	label := desc.Label()
	fail := func(format string, args ...any) gpucore.CompileResult {
		return gpucore.Failed(label, gpucore.Diagnostic{Message: fmt.Sprintf(format, args...)})
	}

	mod, err := shaderlib.Reflect(desc.Source)
	if err != nil {
		return fail("%v", err)
	}
	if _, ok := mod.Entry(desc.EntryPoint); !ok {
		return fail("no @compute entry point %s", desc.EntryPoint)
	}
	groups, err := groupLayouts(mod)
	if err != nil {
		return fail("%v", err)
	}
	words, err := d.modules.Get(desc.Source)
	if err != nil {
		return fail("%v", err)
	}

	k := &kernel{desc: desc, module: mod}
	if err := d.createPipeline(k, label, words, groups); err != nil {
		d.destroyKernel(k)
		return fail("%v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.destroyKernel(k)
		return fail("%v", gpucore.ErrClosed)
	}
	h := d.kernels.Insert(k)
	slogger().Debug("kernel compiled", "kernel", label, "bindings", len(mod.Bindings), "spirv_words", len(words), "handle", h.String())
	return gpucore.Compiled(h)
}

func (d *Device) createPipeline(k *kernel, label string, words []uint32, groups [][]gputypes.BindGroupLayoutEntry) error {
	shader, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	k.shader = shader

	for g, entries := range groups {
		bgl, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s_bgl%d", label, g),
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("create bind group layout %d: %w", g, err)
		}
		k.groups = append(k.groups, bgl)
	}

	layout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pl",
		BindGroupLayouts: k.groups,
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	k.layout = layout

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     shader,
			EntryPoint: k.desc.EntryPoint,
		},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	k.pipeline = pipeline
	return nil
}

// destroyKernel releases whatever part of k was created.
func (d *Device) destroyKernel(k *kernel) {
	if k.pipeline != nil {
		d.device.DestroyComputePipeline(k.pipeline)
	}
	if k.layout != nil {
		d.device.DestroyPipelineLayout(k.layout)
	}
	for _, g := range k.groups {
		d.device.DestroyBindGroupLayout(g)
	}
	if k.shader != nil {
		d.device.DestroyShaderModule(k.shader)
	}
}

// DestroyKernel implements gpucore.Device.
func (d *Device) DestroyKernel(h gpucore.Kernel) {
	d.mu.Lock()
	k, ok := d.kernels.Remove(h)
	d.mu.Unlock()
	if ok {
		d.destroyKernel(k)
	}
}
