// Package preprocess converts live source frames into packed 8-bit grayscale
// buffers at the pipeline's working resolution.
//
// The conversion path depends on the frame type. Gray and YCbCr frames are
// scaled straight from their luma plane with bilinear interpolation; other
// image types are resized and converted with disintegration/imaging. A filter
// chain then smooths the result with a Gaussian kernel before the buffer is
// handed to the detector.
//
//	p := preprocess.NewPreprocessor(0.2)
//	if err := p.Attach(ctx, src); err != nil {
//	    return err
//	}
//	p.Resize(1600, 900, 1.2)
//	frame, ok := p.Capture(ctx)
//
// FingerprintOf hashes a buffer with BLAKE2b so a stalled source can be
// detected without comparing pixels.
package preprocess
