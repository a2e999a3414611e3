// Package engine defines the detection engine contract used by the glitter
// worker and provides Threshold, a reference engine that reports bright
// regions as tags.
//
// Coordinates returned by Detect are in the working-resolution space of the
// buffer. Quad.Scale and ScaleTags map them back to source resolution:
//
//	tags, err := eng.Detect(ctx, frame.Pix)
//	native := engine.ScaleTags(tags, frame.Decimate)
package engine
