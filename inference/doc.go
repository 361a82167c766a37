// Package inference evaluates a compressed neural material for the tiles
// a classify.TileClassifier produced.
//
// Both renderers split the work into two indirect dispatches: a uniform
// path with one workgroup per single-network tile, and a repacked path
// with one invocation per pixel of the complex tiles, grouped by network.
// GBufferRenderer writes the raw network outputs and shades them in a
// separate deferred lighting pass; MaterialRenderer shades in place.
//
// A path whose kernel has not compiled yet is skipped for the frame,
// together with its barrier.
package inference
