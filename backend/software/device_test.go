// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"context"
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/tsnc/backend"
	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/refkernels"
)

const (
	fillModule = "test/fill"
	copyModule = "test/copy"
	argsModule = "test/args"
)

// fillSource writes group+1 to _Out[group].
const fillSource = `
@group(0) @binding(0) var<storage, read_write> _Out: array<u32>;
@compute @workgroup_size(32)
fn main() {}
`

// copySource copies _In to _Out.
const copySource = `
@group(0) @binding(0) var<storage, read> _In: array<u32>;
@group(0) @binding(1) var<storage, read_write> _Out: array<u32>;
@compute @workgroup_size(32)
fn main() {}
`

// argsSource writes the dispatch arguments (3, 1, 1) to _Args.
const argsSource = `
@group(0) @binding(0) var<storage, read_write> _Args: array<u32>;
@compute @workgroup_size(1)
fn main() {}
`

func fillKernel(map[string]string) (refkernels.Kernel, error) {
	return refkernels.KernelFunc(func(res refkernels.Resources, groups [3]uint32) error {
		out, err := res.Words("_Out")
		if err != nil {
			return err
		}
		n := groups[0] * groups[1] * groups[2]
		for g := range n {
			out[g] = g + 1
		}
		return nil
	}), nil
}

func copyKernel(map[string]string) (refkernels.Kernel, error) {
	return refkernels.KernelFunc(func(res refkernels.Resources, _ [3]uint32) error {
		in, err := res.Words("_In")
		if err != nil {
			return err
		}
		out, err := res.Words("_Out")
		if err != nil {
			return err
		}
		copy(out, in)
		return nil
	}), nil
}

func argsKernel(map[string]string) (refkernels.Kernel, error) {
	return refkernels.KernelFunc(func(res refkernels.Resources, _ [3]uint32) error {
		args, err := res.Words("_Args")
		if err != nil {
			return err
		}
		copy(args, []uint32{3, 1, 1})
		return nil
	}), nil
}

func newTestDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	opts = append([]Option{
		WithKernel(fillModule, "main", fillKernel),
		WithKernel(copyModule, "main", copyKernel),
		WithKernel(argsModule, "main", argsKernel),
	}, opts...)
	d := New(opts...)
	t.Cleanup(func() { d.Close() })
	return d
}

func compile(t *testing.T, d *Device, module, src string) gpucore.Kernel {
	t.Helper()
	res := d.CompileKernel(gpucore.KernelDesc{Module: module, Source: src, EntryPoint: "main"})
	k, ok := res.Kernel()
	if !ok {
		t.Fatalf("compile %s: %v", module, res.Err())
	}
	return k
}

func storage(t *testing.T, d *Device, words int, extra gpucore.BufferUsage) gpucore.Buffer {
	t.Helper()
	b, err := d.CreateBuffer(gpucore.BufferDesc{
		Label: "test",
		Size:  uint64(words * 4),
		Usage: gpucore.BufferUsageStorage | gpucore.BufferUsageCopyDst | gpucore.BufferUsageCopySrc | extra,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func readWords(t *testing.T, d *Device, b gpucore.Buffer, n int) []uint32 {
	t.Helper()
	raw := make([]byte, n*4)
	if err := d.ReadBuffer(context.Background(), b, 0, raw); err != nil {
		t.Fatal(err)
	}
	w := make([]uint32, n)
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return w
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(Name) {
		t.Fatalf("%q backend not registered", Name)
	}
	dev, err := backend.Open(Name)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	if dev.Name() != Name {
		t.Errorf("Name() = %q", dev.Name())
	}
}

func TestBufferTransfers(t *testing.T) {
	d := newTestDevice(t)
	b := storage(t, d, 4, 0)

	data := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	if err := d.WriteBuffer(b, 4, data); err != nil {
		t.Fatal(err)
	}
	if got := readWords(t, d, b, 4); !slices.Equal(got, []uint32{0, 1, 2, 0}) {
		t.Errorf("contents = %v", got)
	}

	tests := []struct {
		name   string
		offset uint64
		n      int
		want   error
	}{
		{"unaligned offset", 2, 4, gpucore.ErrOffsetNotAligned},
		{"unaligned size", 0, 3, gpucore.ErrOffsetNotAligned},
		{"past end", 8, 12, gpucore.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.WriteBuffer(b, tt.offset, make([]byte, tt.n)); !errors.Is(err, tt.want) {
				t.Errorf("WriteBuffer error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := d.CreateBuffer(gpucore.BufferDesc{Size: 6}); !errors.Is(err, gpucore.ErrBufferSize) {
		t.Errorf("CreateBuffer(6) error = %v", err)
	}
}

func TestStaleHandles(t *testing.T) {
	d := newTestDevice(t)
	b := storage(t, d, 1, 0)
	d.DestroyBuffer(b)
	if err := d.WriteBuffer(b, 0, make([]byte, 4)); !errors.Is(err, gpucore.ErrInvalidHandle) {
		t.Errorf("WriteBuffer on destroyed buffer = %v", err)
	}

	k := compile(t, d, fillModule, fillSource)
	rec := d.NewRecorder("stale")
	rec.BindBuffer(k, "_Out", b)
	if !errors.Is(rec.Err(), gpucore.ErrInvalidHandle) {
		t.Errorf("binding destroyed buffer: %v", rec.Err())
	}

	// Recycled slot with a new generation must not resolve the old handle.
	b2 := storage(t, d, 1, 0)
	if b2.Index() == b.Index() && b2.Generation() == b.Generation() {
		t.Error("recycled handle reuses the old generation")
	}
}

func TestDispatchAndBarriers(t *testing.T) {
	d := newTestDevice(t)
	fill := compile(t, d, fillModule, fillSource)
	cp := compile(t, d, copyModule, copySource)
	a := storage(t, d, 4, 0)
	b := storage(t, d, 4, 0)

	record := func(barrier bool) gpucore.Recorder {
		rec := d.NewRecorder("copy")
		rec.BeginSection("fill")
		rec.BindBuffer(fill, "_Out", a)
		rec.Dispatch(fill, 4, 1, 1)
		if barrier {
			rec.BufferBarrier(a)
		}
		rec.EndSection()
		rec.BindBuffer(cp, "_In", a)
		rec.BindBuffer(cp, "_Out", b)
		rec.Dispatch(cp, 1, 1, 1)
		rec.BufferBarrier(b)
		return rec
	}

	if err := d.Submit(context.Background(), record(false)); !errors.Is(err, ErrHazard) {
		t.Fatalf("Submit without barrier = %v, want ErrHazard", err)
	}
	if err := d.Submit(context.Background(), record(true)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := readWords(t, d, b, 4); !slices.Equal(got, []uint32{1, 2, 3, 4}) {
		t.Errorf("copied = %v, want [1 2 3 4]", got)
	}
}

func TestLenientBarriers(t *testing.T) {
	d := newTestDevice(t, WithStrictBarriers(false))
	fill := compile(t, d, fillModule, fillSource)
	cp := compile(t, d, copyModule, copySource)
	a := storage(t, d, 2, 0)
	b := storage(t, d, 2, 0)

	rec := d.NewRecorder("lenient")
	rec.BindBuffer(fill, "_Out", a)
	rec.Dispatch(fill, 2, 1, 1)
	rec.BindBuffer(cp, "_In", a)
	rec.BindBuffer(cp, "_Out", b)
	rec.Dispatch(cp, 1, 1, 1)
	if err := d.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := readWords(t, d, b, 2); !slices.Equal(got, []uint32{1, 2}) {
		t.Errorf("copied = %v", got)
	}
}

func TestDispatchIndirect(t *testing.T) {
	d := newTestDevice(t)
	fill := compile(t, d, fillModule, fillSource)
	argsK := compile(t, d, argsModule, argsSource)
	args := storage(t, d, 3, gpucore.BufferUsageIndirect)
	out := storage(t, d, 8, 0)

	record := func(barrier bool) gpucore.Recorder {
		rec := d.NewRecorder("indirect")
		rec.BindBuffer(argsK, "_Args", args)
		rec.Dispatch(argsK, 1, 1, 1)
		if barrier {
			rec.BufferBarrier(args)
		}
		rec.BindBuffer(fill, "_Out", out)
		rec.DispatchIndirect(fill, args, 0)
		rec.BufferBarrier(out)
		return rec
	}

	if err := d.Submit(context.Background(), record(false)); !errors.Is(err, ErrHazard) {
		t.Fatalf("indirect args without barrier = %v, want ErrHazard", err)
	}
	if err := d.Submit(context.Background(), record(true)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := readWords(t, d, out, 4); !slices.Equal(got, []uint32{1, 2, 3, 0}) {
		t.Errorf("out = %v, want args read at execution time (3 groups)", got)
	}
}

func TestIndirectGroupLimit(t *testing.T) {
	d := newTestDevice(t)
	fill := compile(t, d, fillModule, fillSource)
	args := storage(t, d, 3, gpucore.BufferUsageIndirect)
	out := storage(t, d, 1, 0)
	if err := d.WriteBuffer(args, 0, binary.LittleEndian.AppendUint32(
		binary.LittleEndian.AppendUint32(binary.LittleEndian.AppendUint32(nil, maxGroups+1), 1), 1)); err != nil {
		t.Fatal(err)
	}
	rec := d.NewRecorder("limit")
	rec.BindBuffer(fill, "_Out", out)
	rec.DispatchIndirect(fill, args, 0)
	if err := d.Submit(context.Background(), rec); !errors.Is(err, gpucore.ErrOutOfRange) {
		t.Errorf("Submit = %v, want ErrOutOfRange", err)
	}
}

func TestRecordingErrors(t *testing.T) {
	d := newTestDevice(t)
	fill := compile(t, d, fillModule, fillSource)
	plain := storage(t, d, 3, 0)
	indirect := storage(t, d, 3, gpucore.BufferUsageIndirect)
	uniformOnly, err := d.CreateBuffer(gpucore.BufferDesc{Size: 16, Usage: gpucore.BufferUsageUniform})
	if err != nil {
		t.Fatal(err)
	}
	tex, err := d.CreateTexture(gpucore.TextureDesc{Width: 1, Height: 1, Format: gpucore.TextureFormatRGBA8Unorm})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		record func(r gpucore.Recorder)
		want   error
	}{
		{"unknown binding", func(r gpucore.Recorder) { r.BindBuffer(fill, "_Nope", plain) }, gpucore.ErrUnknownBinding},
		{"texture to buffer", func(r gpucore.Recorder) { r.BindTexture(fill, "_Out", tex) }, gpucore.ErrBindingType},
		{"missing usage", func(r gpucore.Recorder) { r.BindBuffer(fill, "_Out", uniformOnly) }, gpucore.ErrBindingType},
		{"unbound dispatch", func(r gpucore.Recorder) { r.Dispatch(fill, 1, 1, 1) }, gpucore.ErrUnboundResource},
		{"too many groups", func(r gpucore.Recorder) {
			r.BindBuffer(fill, "_Out", plain)
			r.Dispatch(fill, maxGroups+1, 1, 1)
		}, gpucore.ErrOutOfRange},
		{"misaligned offset", func(r gpucore.Recorder) {
			r.BindBuffer(fill, "_Out", plain)
			r.DispatchIndirect(fill, indirect, 2)
		}, gpucore.ErrOffsetNotAligned},
		{"offset past end", func(r gpucore.Recorder) {
			r.BindBuffer(fill, "_Out", plain)
			r.DispatchIndirect(fill, indirect, 4)
		}, gpucore.ErrOutOfRange},
		{"not indirect", func(r gpucore.Recorder) {
			r.BindBuffer(fill, "_Out", plain)
			r.DispatchIndirect(fill, plain, 0)
		}, gpucore.ErrNotIndirect},
		{"unbalanced section", func(r gpucore.Recorder) { r.EndSection() }, gpucore.ErrSectionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := d.NewRecorder(tt.name)
			tt.record(rec)
			if !errors.Is(rec.Err(), tt.want) {
				t.Fatalf("Err() = %v, want %v", rec.Err(), tt.want)
			}
			if err := d.Submit(context.Background(), rec); !errors.Is(err, tt.want) {
				t.Errorf("Submit = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubmitErrors(t *testing.T) {
	d := newTestDevice(t)
	other := New()
	defer other.Close()
	if err := d.Submit(context.Background(), other.NewRecorder("foreign")); !errors.Is(err, ErrForeignRecorder) {
		t.Errorf("foreign recorder = %v", err)
	}

	open := d.NewRecorder("open")
	open.BeginSection("never closed")
	if err := d.Submit(context.Background(), open); !errors.Is(err, gpucore.ErrSectionMismatch) {
		t.Errorf("open section = %v", err)
	}

	fill := compile(t, d, fillModule, fillSource)
	out := storage(t, d, 1, 0)
	rec := d.NewRecorder("fault")
	rec.BindBuffer(fill, "_Out", out)
	rec.Dispatch(fill, 2, 1, 1)
	if err := d.Submit(context.Background(), rec); !errors.Is(err, ErrKernelFault) {
		t.Errorf("out-of-bounds kernel = %v, want ErrKernelFault", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Submit(ctx, d.NewRecorder("cancelled")); err != nil {
		t.Errorf("empty recorder with cancelled context = %v", err)
	}
	rec = d.NewRecorder("cancelled")
	rec.BindBuffer(fill, "_Out", out)
	rec.Dispatch(fill, 1, 1, 1)
	if err := d.Submit(ctx, rec); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled submit = %v", err)
	}
}

func TestCompileFailures(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name string
		desc gpucore.KernelDesc
	}{
		{"no entry", gpucore.KernelDesc{Module: fillModule, Source: fillSource, EntryPoint: "other"}},
		{"unregistered", gpucore.KernelDesc{Module: "test/none", Source: fillSource, EntryPoint: "main"}},
		{"bad source", gpucore.KernelDesc{Module: fillModule, Source: "@compute @workgroup_size(N)\nfn main() {}", EntryPoint: "main"}},
		{"bad define", gpucore.KernelDesc{Module: fillModule, Source: fillSource, EntryPoint: "main", Defines: []string{"1X"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.CompileKernel(tt.desc)
			if res.OK() {
				t.Fatal("CompileKernel succeeded")
			}
			if !errors.Is(res.Err(), gpucore.ErrCompileFailed) || len(res.Diagnostics()) == 0 {
				t.Errorf("Err() = %v, diagnostics %v", res.Err(), res.Diagnostics())
			}
		})
	}
	if got := d.Stats().Kernels; got != 0 {
		t.Errorf("%d kernels live after failed compiles", got)
	}
}

func TestCloseReleasesResources(t *testing.T) {
	d := New(WithKernel(fillModule, "main", fillKernel))
	storage(t, d, 1, 0)
	compile(t, d, fillModule, fillSource)
	if s := d.Stats(); s.Buffers != 1 || s.Kernels != 1 {
		t.Fatalf("Stats() = %+v", s)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if s := d.Stats(); s != (Stats{}) {
		t.Errorf("Stats() after Close = %+v", s)
	}
	if _, err := d.CreateBuffer(gpucore.BufferDesc{Size: 4}); !errors.Is(err, gpucore.ErrClosed) {
		t.Errorf("CreateBuffer after Close = %v", err)
	}
}
