// Package pipeline provides the orchestrator for the motion-triggered frame
// processing pipeline.
//
// It wires the capture queue, motion detector, sampler and deduplicator
// together with the external collaborators (object detector, describer,
// persistence sink) into a single processing loop. The package is the
// composition root: it imports from internal/vision, but vision does not
// import pipeline.
package pipeline
