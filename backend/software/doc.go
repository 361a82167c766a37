// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software implements gpucore.Device on the CPU.
//
// Kernels are compiled by looking up a reference implementation for the
// module and entry point in a registry (internal/refkernels by default);
// the WGSL source is still reflected so bind-by-name is validated against
// the declared bindings.
//
// A Recorder stores commands. Submit replays them in order, so an indirect
// dispatch reads the arguments written by an earlier dispatch of the same
// submission, exactly as on a GPU queue.
//
// # Barriers
//
// Submit tracks which resources were written by a dispatch and not yet
// covered by a barrier. A later dispatch that touches such a resource is a
// hazard: with strict barriers (the default) Submit fails with ErrHazard,
// otherwise the hazard is logged. This makes missing barriers visible in
// tests even though the CPU executes everything sequentially.
//
// Importing the package registers it with the backend registry as "software".
package software
