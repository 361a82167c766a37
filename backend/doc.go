// Package backend is the registry of compute device backends.
//
// Backends register a Factory from init() and are selected at runtime,
// so a program links only the backends it imports:
//
//	import (
//		_ "github.com/gogpu/tsnc/backend/software"
//		_ "github.com/gogpu/tsnc/backend/wgpu"
//	)
//
// # Backend Selection
//
// Use Default to open the best available device, or Open to request
// a specific backend by name:
//
//	// Open the default (best available) device
//	dev, err := backend.Default()
//
//	// Or request a specific backend
//	dev, err := backend.Open("software")
//
// # Available Backends
//
//   - "wgpu": Vulkan compute through gogpu/wgpu HAL
//   - "software": CPU reference kernels (always available)
package backend
