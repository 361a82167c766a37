// Package gpucore defines the backend contract used by the tile
// classification and neural inference pipeline.
//
// The pipeline never talks to a graphics API directly. It records work
// through the [Device] and [Recorder] interfaces, and each backend
// (backend/software, backend/wgpu) provides one implementation injected
// at startup.
//
//	          +-------------------------------+
//	          | classify / inference / network|
//	          +---------------+---------------+
//	                          |
//	                  gpucore.Device
//	                  gpucore.Recorder
//	                          |
//	         +----------------+----------------+
//	         |                                 |
//	+--------v---------+             +---------v--------+
//	| backend/software |             |   backend/wgpu   |
//	| (CPU reference)  |             | (gogpu/wgpu HAL) |
//	+------------------+             +------------------+
//
// # Resource Handles
//
// GPU resources are addressed by typed generational handles ([Buffer],
// [Texture], [Sampler], [Kernel]). A handle carries the kind of resource
// it refers to in its type, so a texture handle cannot be passed where a
// buffer is expected. Destroying a resource bumps the generation of its
// slot, which turns every outstanding copy of the handle stale.
// Backends store resources in an [Arena].
//
// # Recording Model
//
// A [Recorder] collects commands: bind-by-name, direct and indirect
// dispatch, write barriers, and named sections. Nothing executes until
// [Device.Submit]. Recording never fails loudly: misuse (an invalid
// handle, an unknown binding name, a misaligned indirect offset) is kept
// as a sticky error, returned by [Recorder.Err] and by Submit.
//
// # Shader Compilation
//
// [Device.CompileKernel] returns a [CompileResult]. It is either Ok with
// a kernel handle or Err with diagnostics. Callers decide whether to swap
// in the new kernel, so a broken edit never replaces a working kernel.
package gpucore
