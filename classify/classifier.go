package classify

import (
	"errors"
	"fmt"

	"github.com/gogpu/tsnc/gpucore"
	"github.com/gogpu/tsnc/internal/shaderlib"
	"github.com/gogpu/tsnc/shaders"
)

// Stage is the host-side view of how far the current frame's
// classification has been recorded.
type Stage int

// Classification stages, in recording order.
const (
	StageIdle Stage = iota
	StageReset
	StageClassified
	StageIndirectionReady
	StageRepacked
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "Idle"
	case StageReset:
		return "Reset"
	case StageClassified:
		return "Classified"
	case StageIndirectionReady:
		return "IndirectionReady"
	case StageRepacked:
		return "Repacked"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Errors returned by TileClassifier.
var (
	// ErrBusy is returned by Classify when the previous frame was not ended.
	ErrBusy = errors.New("classify: frame already classified")

	// ErrGridSize is returned for empty or oversized tile grids.
	ErrGridSize = errors.New("classify: invalid tile grid")
)

// MaxTiles is the largest tile count a grid may have. Repacked entries
// hold tile<<5 | lane in one u32 word.
const MaxTiles = 1 << 27

// SectionName labels the recorded classification commands.
const SectionName = "Tile classification"

// TileClassifier owns the tile buffers and the four classification kernels.
type TileClassifier struct {
	dev     gpucore.Device
	grid    TileGrid
	numMLPs uint32
	buffers Buffers

	reset      *shaderlib.Slot
	firstPass  *shaderlib.Slot
	prepare    *shaderlib.Slot
	secondPass *shaderlib.Slot

	stage Stage
}

// New allocates the tile buffers for grid and numMLPs networks. Kernels
// are compiled separately by ReloadKernels.
func New(dev gpucore.Device, grid TileGrid, numMLPs uint32) (*TileClassifier, error) {
	if numMLPs == 0 {
		return nil, ErrNoNetworks
	}
	maxGroups := dev.Capabilities().MaxWorkgroupsPerDimension
	if grid.X == 0 || grid.Y == 0 || grid.X > maxGroups || grid.Y > maxGroups {
		return nil, fmt.Errorf("%w: %s (limit %d per axis)", ErrGridSize, grid, maxGroups)
	}
	if uint64(grid.X)*uint64(grid.Y) > MaxTiles {
		return nil, fmt.Errorf("%w: %s has more than %d tiles", ErrGridSize, grid, MaxTiles)
	}
	buffers, err := newBuffers(dev, grid, numMLPs)
	if err != nil {
		return nil, err
	}
	slogger().Debug("tile classifier created", "grid", grid.String(), "tiles", grid.Count(), "networks", numMLPs)
	return &TileClassifier{
		dev:        dev,
		grid:       grid,
		numMLPs:    numMLPs,
		buffers:    buffers,
		reset:      shaderlib.NewSlot(shaders.ModuleReset, shaders.EntryMain),
		firstPass:  shaderlib.NewSlot(shaders.ModuleFirstPass, shaders.EntryMain),
		prepare:    shaderlib.NewSlot(shaders.ModulePrepareIndirection, shaders.EntryMain),
		secondPass: shaderlib.NewSlot(shaders.ModuleSecondPass, shaders.EntryMain),
	}, nil
}

// ReloadKernels recompiles the classification kernels. A kernel that
// fails to compile keeps its previous version; the diagnostics of every
// failure are joined in the returned error.
func (c *TileClassifier) ReloadKernels(l *shaderlib.Loader) error {
	return errors.Join(
		shaderlib.ReloadAll(c.dev, l, nil, c.reset, c.firstPass, c.secondPass),
		c.prepare.Reload(c.dev, l, ArgsDefines()),
	)
}

// Ready reports whether all four kernels are compiled.
func (c *TileClassifier) Ready() bool {
	return c.reset.Ready() && c.firstPass.Ready() && c.prepare.Ready() && c.secondPass.Ready()
}

// Classify records the four classification stages into rec. It records
// no host synchronization; the caller submits rec.
//
// When a kernel is not compiled yet, nothing is recorded and the lists
// keep their previous contents. If recording fails the stage returns to
// Idle and rec must be dropped.
//
// The tile lists are appended with atomics, so their order is only
// reproducible on the software backend. On a GPU the same tiles and
// pixels come back in varying order; each list holds the same set.
func (c *TileClassifier) Classify(rec gpucore.Recorder, constants gpucore.Buffer, visibility gpucore.Texture, vertices, indices gpucore.Buffer) error {
	if c.stage != StageIdle {
		return fmt.Errorf("%w: stage %s", ErrBusy, c.stage)
	}
	if !c.Ready() {
		slogger().Warn("classification skipped, kernels not ready")
		return nil
	}
	b := &c.buffers

	rec.BeginSection(SectionName)
	defer rec.EndSection()

	k := c.reset.Kernel()
	rec.BindBuffer(k, "_GlobalCB", constants)
	rec.BindBuffer(k, "_ActiveTileBufferRW", b.Active)
	rec.BindBuffer(k, "_UniformTileBufferRW", b.Uniform)
	rec.BindBuffer(k, "_ComplexTileBufferRW", b.Complex)
	rec.BindBuffer(k, "_MLPUsageBufferRW", b.Usage)
	rec.Dispatch(k, 1, 1, 1)
	barriers(rec, b.Active, b.Uniform, b.Complex, b.Usage)
	c.stage = StageReset

	k = c.firstPass.Kernel()
	rec.BindBuffer(k, "_GlobalCB", constants)
	rec.BindTexture(k, "_VisibilityBuffer", visibility)
	rec.BindBuffer(k, "_VertexBuffer", vertices)
	rec.BindBuffer(k, "_IndexBuffer", indices)
	rec.BindBuffer(k, "_ActiveTileBufferRW", b.Active)
	rec.BindBuffer(k, "_UniformTileBufferRW", b.Uniform)
	rec.BindBuffer(k, "_ComplexTileBufferRW", b.Complex)
	rec.BindBuffer(k, "_MLPUsageBufferRW", b.Usage)
	rec.Dispatch(k, c.grid.X, c.grid.Y, 1)
	barriers(rec, b.Active, b.Uniform, b.Complex, b.Usage)
	c.stage = StageClassified

	k = c.prepare.Kernel()
	rec.BindBuffer(k, "_GlobalCB", constants)
	rec.BindBuffer(k, "_ActiveTileBuffer", b.Active)
	rec.BindBuffer(k, "_UniformTileBuffer", b.Uniform)
	rec.BindBuffer(k, "_ComplexTileBuffer", b.Complex)
	rec.BindBuffer(k, "_MLPUsageBufferRW", b.Usage)
	rec.BindBuffer(k, "_IndirectDispatchBufferRW", b.Indirect)
	rec.BindBuffer(k, "_IndexedTilesBufferRW", b.Repacked)
	rec.Dispatch(k, 1, 1, 1)
	barriers(rec, b.Usage, b.Indirect, b.Repacked)
	c.stage = StageIndirectionReady

	k = c.secondPass.Kernel()
	rec.BindBuffer(k, "_GlobalCB", constants)
	rec.BindTexture(k, "_VisibilityBuffer", visibility)
	rec.BindBuffer(k, "_VertexBuffer", vertices)
	rec.BindBuffer(k, "_IndexBuffer", indices)
	rec.BindBuffer(k, "_ComplexTileBuffer", b.Complex)
	rec.BindBuffer(k, "_MLPUsageBufferRW", b.Usage)
	rec.BindBuffer(k, "_IndexedTilesBufferRW", b.Repacked)
	rec.DispatchIndirect(k, b.Indirect, OffsetSecondPass)
	barriers(rec, b.Repacked, b.Usage)
	c.stage = StageRepacked

	if err := rec.Err(); err != nil {
		c.stage = StageIdle
		return fmt.Errorf("classify: record: %w", err)
	}
	return nil
}

func barriers(rec gpucore.Recorder, bufs ...gpucore.Buffer) {
	for _, b := range bufs {
		rec.BufferBarrier(b)
	}
}

// Stage returns the recording stage of the current frame.
func (c *TileClassifier) Stage() Stage { return c.stage }

// EndFrame marks the current frame's classification as consumed.
func (c *TileClassifier) EndFrame() { c.stage = StageIdle }

// Grid returns the tile grid.
func (c *TileClassifier) Grid() TileGrid { return c.grid }

// NumMLPs returns the number of networks the buffers are sized for.
func (c *TileClassifier) NumMLPs() uint32 { return c.numMLPs }

// Buffers returns all tile buffers.
func (c *TileClassifier) Buffers() Buffers { return c.buffers }

// ActiveTiles returns the list of tiles with at least one covered pixel.
func (c *TileClassifier) ActiveTiles() gpucore.Buffer { return c.buffers.Active }

// UniformTiles returns the list of tiles served by a single network.
func (c *TileClassifier) UniformTiles() gpucore.Buffer { return c.buffers.Uniform }

// ComplexTiles returns the list of tiles covered by several networks.
func (c *TileClassifier) ComplexTiles() gpucore.Buffer { return c.buffers.Complex }

// RepackedTiles returns the per-network list of complex tile pixels.
func (c *TileClassifier) RepackedTiles() gpucore.Buffer { return c.buffers.Repacked }

// MLPUsage returns the per-network usage pairs.
func (c *TileClassifier) MLPUsage() gpucore.Buffer { return c.buffers.Usage }

// IndirectArgs returns the indirect dispatch buffer laid out as IndirectArgs.
func (c *TileClassifier) IndirectArgs() gpucore.Buffer { return c.buffers.Indirect }

// Release destroys the kernels and buffers.
func (c *TileClassifier) Release() {
	for _, s := range []*shaderlib.Slot{c.reset, c.firstPass, c.prepare, c.secondPass} {
		s.Release(c.dev)
	}
	c.buffers.release(c.dev)
	c.stage = StageIdle
}
