package classify

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/shaders"
)

// IndirectArgs is the layout of the indirect dispatch buffer written by
// the prepare kernel.
type IndirectArgs struct {
	// ActiveTiles dispatches one workgroup per active tile (lighting).
	ActiveTiles gpucore.DispatchArgs

	// UniformInference dispatches one workgroup per uniform tile.
	UniformInference gpucore.DispatchArgs

	// SecondPass dispatches one workgroup per complex tile.
	SecondPass gpucore.DispatchArgs

	// RepackedInference dispatches one workgroup per 32 repacked pixels.
	RepackedInference gpucore.DispatchArgs
}

// Byte offsets of the argument groups, for DispatchIndirect.
const (
	OffsetActiveTiles       = uint64(unsafe.Offsetof(IndirectArgs{}.ActiveTiles))
	OffsetUniformInference  = uint64(unsafe.Offsetof(IndirectArgs{}.UniformInference))
	OffsetSecondPass        = uint64(unsafe.Offsetof(IndirectArgs{}.SecondPass))
	OffsetRepackedInference = uint64(unsafe.Offsetof(IndirectArgs{}.RepackedInference))

	// IndirectArgsSize is the byte size of the indirect dispatch buffer.
	IndirectArgsSize = uint64(unsafe.Sizeof(IndirectArgs{}))
)

// ArgsDefines returns the word offsets of the argument groups as
// pre-processor defines for the prepare kernel.
func ArgsDefines() []string {
	return []string{
		fmt.Sprintf("%s=%d", shaders.DefineArgsActiveTiles, OffsetActiveTiles/4),
		fmt.Sprintf("%s=%d", shaders.DefineArgsUniformInference, OffsetUniformInference/4),
		fmt.Sprintf("%s=%d", shaders.DefineArgsSecondPass, OffsetSecondPass/4),
		fmt.Sprintf("%s=%d", shaders.DefineArgsRepackedInference, OffsetRepackedInference/4),
	}
}

// DecodeIndirectArgs reads IndirectArgs from little-endian bytes.
func DecodeIndirectArgs(b []byte) (IndirectArgs, error) {
	if uint64(len(b)) < IndirectArgsSize {
		return IndirectArgs{}, fmt.Errorf("classify: indirect args need %d bytes, got %d", IndirectArgsSize, len(b))
	}
	group := func(off uint64) gpucore.DispatchArgs {
		return gpucore.DispatchArgs{
			X: binary.LittleEndian.Uint32(b[off:]),
			Y: binary.LittleEndian.Uint32(b[off+4:]),
			Z: binary.LittleEndian.Uint32(b[off+8:]),
		}
	}
	return IndirectArgs{
		ActiveTiles:       group(OffsetActiveTiles),
		UniformInference:  group(OffsetUniformInference),
		SecondPass:        group(OffsetSecondPass),
		RepackedInference: group(OffsetRepackedInference),
	}, nil
}
