package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/tsnc/internal/refkernels"
)

// Alignment is the granularity layer dimensions are padded to.
const Alignment = 16

// ErrFormat is returned for malformed model data.
var ErrFormat = errors.New("network: malformed model")

// Layer is one fully connected layer shared by every network of a model.
type Layer struct {
	// Width is the input count, Height the output count.
	Width  uint32
	Height uint32

	// Weights holds NumMLP row-major [Height][Width] matrices back to back.
	Weights []float32

	// Bias holds NumMLP vectors of Height values.
	Bias []float32
}

// CPUMLP is the host representation of a model's networks.
// Layers 0 and 1 are followed by ReLU, layer 2 is linear.
type CPUMLP struct {
	NumMLP            uint32
	FinalChannelCount uint32
	FinalBlockWidth   uint32
	Layers            [3]Layer
}

// Validate checks that the layer shapes chain and the arrays match them.
func (m *CPUMLP) Validate() error {
	if m.NumMLP == 0 {
		return fmt.Errorf("%w: no networks", ErrFormat)
	}
	for i, l := range m.Layers {
		if l.Width == 0 || l.Height == 0 {
			return fmt.Errorf("%w: layer %d is %dx%d", ErrFormat, i, l.Width, l.Height)
		}
		if i > 0 && l.Width != m.Layers[i-1].Height {
			return fmt.Errorf("%w: layer %d takes %d inputs, layer %d has %d outputs",
				ErrFormat, i, l.Width, i-1, m.Layers[i-1].Height)
		}
		if uint64(len(l.Weights)) != uint64(m.NumMLP)*uint64(l.Width)*uint64(l.Height) {
			return fmt.Errorf("%w: layer %d has %d weights, want %d", ErrFormat, i, len(l.Weights), m.NumMLP*l.Width*l.Height)
		}
		if uint64(len(l.Bias)) != uint64(m.NumMLP)*uint64(l.Height) {
			return fmt.Errorf("%w: layer %d has %d biases, want %d", ErrFormat, i, len(l.Bias), m.NumMLP*l.Height)
		}
	}
	if m.Layers[0].Width < refkernels.LatentFeatures {
		return fmt.Errorf("%w: %d inputs, need at least %d", ErrFormat, m.Layers[0].Width, refkernels.LatentFeatures)
	}
	if m.FinalChannelCount == 0 || m.FinalChannelCount > m.Layers[2].Height {
		return fmt.Errorf("%w: %d channels from %d outputs", ErrFormat, m.FinalChannelCount, m.Layers[2].Height)
	}
	return nil
}

func alignUp(v uint32) uint32 { return (v + Alignment - 1) / Alignment * Alignment }

// AlignDimensions pads every layer to multiples of Alignment in both
// dimensions. Padded weights and biases are zero, so outputs are unchanged.
func (m *CPUMLP) AlignDimensions() {
	width := alignUp(m.Layers[0].Width)
	for i := range m.Layers {
		l := &m.Layers[i]
		height := alignUp(l.Height)
		if width == l.Width && height == l.Height {
			width = height
			continue
		}
		weights := make([]float32, m.NumMLP*height*width)
		bias := make([]float32, m.NumMLP*height)
		for n := uint32(0); n < m.NumMLP; n++ {
			for o := uint32(0); o < l.Height; o++ {
				src := l.Weights[(n*l.Height+o)*l.Width:][:l.Width]
				copy(weights[(n*height+o)*width:], src)
			}
			copy(bias[n*height:], l.Bias[n*l.Height:(n+1)*l.Height])
		}
		l.Width, l.Height, l.Weights, l.Bias = width, height, weights, bias
		width = height
	}
}

// dims returns the kernel view of the layer sizes.
func (m *CPUMLP) dims() refkernels.Dims {
	return refkernels.Dims{
		MLPCount:     m.NumMLP,
		Layer0In:     m.Layers[0].Width,
		Layer0Out:    m.Layers[0].Height,
		Layer1Out:    m.Layers[1].Height,
		Layer2Out:    m.Layers[2].Height,
		ChannelCount: m.FinalChannelCount,
	}
}

// Evaluate runs network net on the input features and returns the
// FinalChannelCount outputs. Missing inputs are zero.
func (m *CPUMLP) Evaluate(net uint32, in []float32) ([]float32, error) {
	if net >= m.NumMLP {
		return nil, fmt.Errorf("network: network %d of %d", net, m.NumMLP)
	}
	x := make([]float32, m.Layers[0].Width)
	copy(x, in)
	var layers [3]refkernels.Layer
	for i, l := range m.Layers {
		layers[i] = refkernels.Layer{Weights: refkernels.Float32s(l.Weights), Bias: refkernels.Float32s(l.Bias)}
	}
	out := refkernels.Forward(m.dims(), layers, net, x)
	return out[:m.FinalChannelCount], nil
}

// MarshalBinary encodes m as little-endian words: NumMLP,
// FinalChannelCount, FinalBlockWidth, then per layer width, height,
// weights and biases.
func (m *CPUMLP) MarshalBinary() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	out := le.AppendUint32(nil, m.NumMLP)
	out = le.AppendUint32(out, m.FinalChannelCount)
	out = le.AppendUint32(out, m.FinalBlockWidth)
	for _, l := range m.Layers {
		out = le.AppendUint32(out, l.Width)
		out = le.AppendUint32(out, l.Height)
		for _, w := range l.Weights {
			out = le.AppendUint32(out, math.Float32bits(w))
		}
		for _, b := range l.Bias {
			out = le.AppendUint32(out, math.Float32bits(b))
		}
	}
	return out, nil
}

// UnmarshalBinary decodes data written by MarshalBinary.
func (m *CPUMLP) UnmarshalBinary(data []byte) error {
	r := wordReader{data: data}
	var out CPUMLP
	out.NumMLP = r.word()
	out.FinalChannelCount = r.word()
	out.FinalBlockWidth = r.word()
	for i := range out.Layers {
		l := &out.Layers[i]
		l.Width = r.word()
		l.Height = r.word()
		l.Weights = r.floats(uint64(out.NumMLP) * uint64(l.Width) * uint64(l.Height))
		l.Bias = r.floats(uint64(out.NumMLP) * uint64(l.Height))
	}
	if r.err != nil {
		return r.err
	}
	if len(r.data) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrFormat, len(r.data))
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*m = out
	return nil
}

type wordReader struct {
	data []byte
	err  error
}

func (r *wordReader) word() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.data) < 4 {
		r.err = fmt.Errorf("%w: truncated", ErrFormat)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data)
	r.data = r.data[4:]
	return v
}

func (r *wordReader) floats(n uint64) []float32 {
	if r.err != nil {
		return nil
	}
	if uint64(len(r.data)) < n*4 {
		r.err = fmt.Errorf("%w: truncated, need %d floats", ErrFormat, n)
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.data[i*4:]))
	}
	r.data = r.data[n*4:]
	return out
}
