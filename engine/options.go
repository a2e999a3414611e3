package engine

// Options are the detector tuning parameters delivered with Init.
type Options struct {
	// RangeThreshold is the minimum brightness spread (max - min) a frame
	// must have before any region is considered.
	RangeThreshold int
	// QuadSigma is the smoothing sigma already applied by the preprocessor.
	// Engines receive it for reference and must not smooth again.
	QuadSigma float64
	// MinWhiteBlackDiff is the minimum difference between a region's mean
	// brightness and the background mean.
	MinWhiteBlackDiff int
	// RefineEdges places corners on region boundaries instead of on the
	// centers of the outermost pixels.
	RefineEdges bool
	// Decimate is the decimation factor of the frames the engine will see.
	Decimate float64
}
