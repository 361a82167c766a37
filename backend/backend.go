package backend

import (
	"errors"

	"github.com/gogpu/tsnc/gpucore"
)

// Backend name constants.
const (
	// BackendWGPU is the name of the GPU backend built on gogpu/wgpu.
	BackendWGPU = "wgpu"
	// BackendSoftware is the name of the CPU reference backend.
	BackendSoftware = "software"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered
	// or could not open a device.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a new device. Backends register a Factory from init().
type Factory func() (gpucore.Device, error)
