// Package source defines the frame producer contract consumed by the glitter
// preprocessor, together with two implementations: a synthetic moving-square
// generator and a looping image sequence loaded with disintegration/imaging.
//
// Camera drivers are outside this module; any type that satisfies Source can
// feed the pipeline.
package source
