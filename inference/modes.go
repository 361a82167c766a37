package inference

import (
	"errors"
	"fmt"

	"github.com/gogpu/tsnc/gpucore"
)

// NumericPath selects the weight format the inference kernels read.
type NumericPath int

const (
	// NumericStandard reads fp32 weights.
	NumericStandard NumericPath = iota

	// NumericPacked reads fp16 weight pairs packed into 32-bit words.
	NumericPacked
)

func (p NumericPath) String() string {
	switch p {
	case NumericStandard:
		return "standard"
	case NumericPacked:
		return "packed"
	default:
		return fmt.Sprintf("NumericPath(%d)", int(p))
	}
}

// ResolveNumericPath returns requested if the device supports it and
// NumericStandard otherwise. Call it once at startup.
func ResolveNumericPath(caps gpucore.Capabilities, requested NumericPath) NumericPath {
	if requested == NumericPacked && !caps.PackedWeights {
		slogger().Warn("packed weights unsupported, falling back", "path", NumericStandard)
		return NumericStandard
	}
	return requested
}

// FilteringMode selects how the latent textures are sampled.
type FilteringMode int

const (
	FilteringNearest FilteringMode = iota
	FilteringLinear
	FilteringAnisotropic
)

func (m FilteringMode) String() string {
	switch m {
	case FilteringNearest:
		return "nearest"
	case FilteringLinear:
		return "linear"
	case FilteringAnisotropic:
		return "anisotropic"
	default:
		return fmt.Sprintf("FilteringMode(%d)", int(m))
	}
}

// Samplers holds one latent texture sampler per FilteringMode.
type Samplers struct {
	dev gpucore.Device
	s   [3]gpucore.Sampler
}

// NewSamplers creates the three samplers.
func NewSamplers(dev gpucore.Device) (*Samplers, error) {
	descs := [3]gpucore.SamplerDesc{
		{Label: "latent_nearest", Filter: gpucore.FilterPoint, Address: gpucore.AddressWrap, MaxLOD: 0},
		{Label: "latent_linear", Filter: gpucore.FilterLinear, Address: gpucore.AddressWrap, MaxLOD: 15},
		{Label: "latent_anisotropic", Filter: gpucore.FilterAnisotropic, Address: gpucore.AddressWrap, MaxAnisotropy: 16, MaxLOD: 15},
	}
	ss := &Samplers{dev: dev}
	for i, d := range descs {
		s, err := dev.CreateSampler(d)
		if err != nil {
			ss.Release()
			return nil, fmt.Errorf("inference: create sampler %s: %w", d.Label, err)
		}
		ss.s[i] = s
	}
	return ss, nil
}

// Sampler returns the sampler for m. Unknown modes use linear filtering.
func (ss *Samplers) Sampler(m FilteringMode) gpucore.Sampler {
	if m < FilteringNearest || m > FilteringAnisotropic {
		m = FilteringLinear
	}
	return ss.s[m]
}

// Release destroys the samplers.
func (ss *Samplers) Release() {
	for i, s := range ss.s {
		if s.IsValid() {
			ss.dev.DestroySampler(s)
		}
		ss.s[i] = gpucore.Sampler{}
	}
}

// ErrNumericPath is returned when the network's weight buffers do not
// match the renderer's numeric path.
var ErrNumericPath = errors.New("inference: network weights do not match numeric path")
