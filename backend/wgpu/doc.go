// Package wgpu implements gpucore.Device on a gogpu/wgpu HAL device.
//
// Kernels are compiled from pre-processed WGSL to SPIR-V with naga and
// cached by source. Bind group layouts are derived from the reflected
// bindings, so kernels are bound by WGSL variable name exactly as on the
// software backend.
//
// A Recorder validates and stores commands; Submit encodes them into one
// command buffer, one compute pass per dispatch, and waits on a fence.
// BufferBarrier and TextureBarrier become HAL transitions.
//
// Importing the package registers the "wgpu" backend, which opens the
// first discrete (else integrated, else any) Vulkan adapter.
package wgpu
