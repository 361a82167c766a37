package classify

import "fmt"

// Tile geometry. One workgroup covers one tile, one invocation per pixel.
const (
	WorkGroupSize = 32
	TileWidth     = 8
	TileHeight    = 4
)

// TileGrid is the number of tiles along each screen axis.
type TileGrid struct {
	X, Y uint32
}

// GridForScreen returns the grid covering a width×height screen.
func GridForScreen(width, height uint32) TileGrid {
	return TileGrid{
		X: (width + TileWidth - 1) / TileWidth,
		Y: (height + TileHeight - 1) / TileHeight,
	}
}

// Count returns the number of tiles.
func (g TileGrid) Count() uint32 { return g.X * g.Y }

// Pixel returns the screen position of pixel lane of tile.
func (g TileGrid) Pixel(tile, lane uint32) (x, y uint32) {
	return (tile%g.X)*TileWidth + lane%TileWidth, (tile/g.X)*TileHeight + lane/TileWidth
}

func (g TileGrid) String() string { return fmt.Sprintf("%dx%d", g.X, g.Y) }

// Tile returns the tile containing pixel (x, y).
func (g TileGrid) Tile(x, y uint32) uint32 {
	return (y/TileHeight)*g.X + x/TileWidth
}
