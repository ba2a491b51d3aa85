// Package ppt2img provides an asynchronous presentation-to-images
// conversion service. Submitted decks are rendered into per-slide raster
// images by a bounded pool of workers while live subscribers and optional
// HTTP callback targets are kept informed of progress and completion.
//
// The package is designed as a library, not a framework. Configure a
// store and a conversion pipeline, then build an engine:
//
//	svc, err := ppt2img.New(
//	    ppt2img.WithMaxActiveJobs(5),
//	    ppt2img.WithConcurrency(5),
//	)
//	eng, err := engine.Build(svc, renderer,
//	    engine.WithUploader(minioUploader),
//	)
//
// # Architecture
//
// Each subsystem lives in its own package: job (entity, state machine,
// store contract), store/memory and store/redis (persistence), worker
// (pool + executor), stream (subscriber fan-out), hook (lifecycle
// events), callback (webhook delivery), recovery (startup state
// reconstruction), and engine (wiring plus the public Submit/Status
// operations).
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers ("job_01h2x...").
package ppt2img
