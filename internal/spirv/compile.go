package spirv

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
)

// ErrInvalid is returned when the compiler output is not a SPIR-V word stream.
var ErrInvalid = errors.New("spirv: output is not a multiple of 4 bytes")

// Magic is the first word of every SPIR-V module.
const Magic = 0x07230203

// Compile translates WGSL to SPIR-V words with naga.
func Compile(src string) ([]uint32, error) {
	raw, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("spirv: %w", err)
	}
	return Words(raw)
}

// Words converts a little-endian SPIR-V byte stream to words.
func Words(raw []byte) ([]uint32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalid, len(raw))
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	if len(words) > 0 && words[0] != Magic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrInvalid, words[0])
	}
	return words, nil
}
