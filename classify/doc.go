// Package classify sorts screen tiles by the neural material networks
// that cover them, entirely on the device.
//
// A frame runs four kernels, each followed by a barrier on what it wrote:
//
//	Reset            clear the list counters and network usage
//	FirstPass        one workgroup per tile: active, uniform or complex
//	PrepareIndirect  one invocation: indirect dispatch arguments
//	SecondPass       one workgroup per complex tile: repack pixels by network
//
// The resulting lists drive the inference dispatches through the
// IndirectArgs buffer, so the host never reads the classification back.
// ReadLists exists for tests and debugging tools only.
package classify
