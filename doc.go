// Package tsnc renders compressed neural materials with tile-classified
// inference.
//
// # Overview
//
// A frame starts from a visibility buffer: one texel per pixel naming the
// triangle that covers it. The classifier sorts the screen tiles by the
// networks that cover them, entirely on the device, and leaves indirect
// dispatch arguments behind. The inference renderers then evaluate the
// networks with two indirect dispatches, one over the tiles served by a
// single network and one over the repacked pixels of the mixed tiles.
//
// # Quick Start
//
//	dev, err := backend.Default()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	r, err := tsnc.NewRenderer(dev, 1280, 720,
//	    tsnc.WithRenderingMode(tsnc.GBufferDeferred))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	model, err := network.LoadModel(os.DirFS("models/rock"), 0)
//	...
//	if err := r.SetModel(ctx, model); err != nil {
//	    log.Fatal(err)
//	}
//	err = r.Frame(ctx, tsnc.FrameInput{...})
//
// # Architecture
//
//   - gpucore: typed handles and the Device/Recorder backend contract
//   - classify: the four-stage tile classifier
//   - inference: uniform and repacked inference, deferred lighting
//   - network: model files, MLP buffers, latent textures
//   - backend/software, backend/wgpu: devices
//
// # Logging
//
// Nothing is logged by default. SetLogger enables structured logging for
// this package, its sub-packages and the devices of live renderers.
package tsnc
