// Package limits provides centralized frame size constants and validation functions
// shared by the preprocessor and the detector worker boundary.
//
// # Size Hierarchy
//
//   - MinFrameDimension (8 px): the smallest working width or height. Decimation
//     never shrinks a frame below this.
//
//   - MaxFrameDimension (8192 px): the largest source width or height.
//
//   - MaxFrameBuffer: the absolute maximum grayscale buffer size. A buffer is one
//     byte per pixel, so this also bounds the pixel count of a working frame.
//
// # Validation Functions
//
//	if err := limits.ValidateDimensions(width, height); err != nil {
//	    // ErrDimensionOutOfRange or ErrFrameTooLarge
//	}
//
//	if err := limits.ValidateFrameBuffer(buf, width, height); err != nil {
//	    // ErrFrameEmpty, ErrFrameTooLarge or ErrBufferSizeMismatch
//	}
//
// Errors are wrapped with context and can be classified with errors.Is.
package limits
