// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package refkernels is the CPU reference implementation of every compute
// kernel in the shaders package. The software backend runs these in place
// of compiled WGSL; tests use them as ground truth.
//
// Each kernel mirrors its WGSL counterpart workgroup by workgroup and lane
// by lane. Workgroups execute sequentially in linear order (x fastest), so
// atomically appended lists come out sorted and every run is deterministic.
//
// Kernels see their bindings through Resources, by the same variable names
// the WGSL declares:
//
//	k, _ := refkernels.Builtin(nil)[refkernels.Key{Module: shaders.ModuleReset, Entry: "main"}](defines)
//	err := k.Run(res, [3]uint32{1, 1, 1})
package refkernels
