package shaderlib

import (
	"errors"

	"github.com/gogpu/tsnc/gpucore"
)

// Slot holds the live kernel for one module entry point and applies
// compile-and-replace reloads: a kernel is swapped only when the new one
// compiled, otherwise the previous kernel (possibly none) stays in place.
type Slot struct {
	Module string
	Entry  string

	kernel gpucore.Kernel
}

// NewSlot returns an empty slot for module:entry.
func NewSlot(module, entry string) *Slot {
	return &Slot{Module: module, Entry: entry}
}

// Kernel returns the live kernel. It is invalid until a reload succeeds.
func (s *Slot) Kernel() gpucore.Kernel { return s.kernel }

// Ready reports whether the slot holds a compiled kernel.
func (s *Slot) Ready() bool { return s.kernel.IsValid() }

func (s *Slot) label() string { return s.Module + ":" + s.Entry }

// Reload loads, expands and compiles the slot's source.
func (s *Slot) Reload(dev gpucore.Device, l *Loader, defines []string) error {
	desc, err := l.Kernel(s.Module, s.Entry, defines)
	if err != nil {
		return s.Replace(dev, gpucore.Failed(s.label(), diagnosticsOf(err)...))
	}
	return s.Replace(dev, dev.CompileKernel(desc))
}

// Replace swaps in the kernel of an Ok result and destroys the old one.
// An Err result is logged and returned; the slot is left untouched.
func (s *Slot) Replace(dev gpucore.Device, res gpucore.CompileResult) error {
	k, ok := res.Kernel()
	if !ok {
		slogger().Warn("kernel compile failed",
			"kernel", s.label(),
			"keeping_previous", s.kernel.IsValid(),
			"diagnostics", res.Diagnostics().String())
		return res.Err()
	}
	if s.kernel.IsValid() {
		dev.DestroyKernel(s.kernel)
	}
	s.kernel = k
	slogger().Debug("kernel replaced", "kernel", s.label(), "handle", k.String())
	return nil
}

// Release destroys the live kernel.
func (s *Slot) Release(dev gpucore.Device) {
	if s.kernel.IsValid() {
		dev.DestroyKernel(s.kernel)
	}
	s.kernel = gpucore.Kernel{}
}

// ReloadAll reloads every slot with the same defines and joins the errors.
func ReloadAll(dev gpucore.Device, l *Loader, defines []string, slots ...*Slot) error {
	var errs []error
	for _, s := range slots {
		if err := s.Reload(dev, l, defines); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func diagnosticsOf(err error) gpucore.Diagnostics {
	var se *SourceError
	if errors.As(err, &se) {
		return gpucore.Diagnostics{{Line: se.Line, Message: se.File + ": " + se.Msg}}
	}
	return gpucore.Diagnostics{{Message: err.Error()}}
}
