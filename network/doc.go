// Package network loads compressed neural materials and uploads them to
// a device.
//
// A model is a set of small MLPs, all with the same three-layer shape,
// plus four latent textures they sample their inputs from. CPUMLP is the
// host form of the networks, GPUMLP the device buffers the inference
// kernels read, and TSNC ties a model to its textures, uv offsets and the
// shader defines that size the kernels.
//
// On disk a model is a directory:
//
//	manifest.toml   layout, uv offsets, texture names
//	mlp.bin         CPUMLP.MarshalBinary
//	ls0.png ...     four RGBA latent textures (PNG or BMP)
package network
