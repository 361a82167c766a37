// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"github.com/gogpu/tsnc/internal/refkernels"
)

// Option configures a Device.
type Option func(*options)

type options struct {
	packedWeights  bool
	strictBarriers bool
	policy         refkernels.TilePolicy
	kernels        map[refkernels.Key]refkernels.Factory
}

func defaultOptions() options {
	return options{
		packedWeights:  true,
		strictBarriers: true,
		kernels:        map[refkernels.Key]refkernels.Factory{},
	}
}

// WithPackedWeights sets whether the device reports the packed fp16
// weight path as supported. Default true.
func WithPackedWeights(enabled bool) Option {
	return func(o *options) { o.packedWeights = enabled }
}

// WithStrictBarriers makes a missing barrier fail Submit with ErrHazard
// instead of logging a warning. Default true.
func WithStrictBarriers(strict bool) Option {
	return func(o *options) { o.strictBarriers = strict }
}

// WithTilePolicy sets the uniform/complex predicate of the first pass
// classifier. Default refkernels.DominantCoversTile.
func WithTilePolicy(p refkernels.TilePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithKernel registers or overrides the implementation of module:entry.
func WithKernel(module, entry string, f refkernels.Factory) Option {
	return func(o *options) { o.kernels[refkernels.Key{Module: module, Entry: entry}] = f }
}
