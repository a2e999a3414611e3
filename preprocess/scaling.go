package preprocess

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// toGray converts img to grayscale at dstW x dstH, writing into dst.
//
// Luma-carrying images (Gray, YCbCr) are scaled directly from their luma
// plane with bilinear interpolation. Everything else goes through imaging,
// which resizes and then converts with the Rec. 601 weights.
func toGray(img image.Image, dst *image.Gray) error {
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("%w: empty bounds %v", ErrUnsupportedImage, b)
	}
	dstW, dstH := dst.Rect.Dx(), dst.Rect.Dy()

	switch src := img.(type) {
	case *image.Gray:
		off := src.PixOffset(b.Min.X, b.Min.Y)
		return scalePlane(src.Pix[off:], b.Dx(), b.Dy(), src.Stride, dst.Pix, dstW, dstH, dst.Stride)
	case *image.YCbCr:
		off := src.YOffset(b.Min.X, b.Min.Y)
		return scalePlane(src.Y[off:], b.Dx(), b.Dy(), src.YStride, dst.Pix, dstW, dstH, dst.Stride)
	}

	var resized image.Image = img
	if b.Dx() != dstW || b.Dy() != dstH {
		resized = imaging.Resize(img, dstW, dstH, imaging.Linear)
	}
	gray := imaging.Grayscale(resized)
	copyRedChannel(gray, dst)
	return nil
}

// copyRedChannel copies the R channel of a grayscale NRGBA image into dst.
func copyRedChannel(src *image.NRGBA, dst *image.Gray) {
	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	for y := 0; y < h; y++ {
		srow := src.Pix[y*src.Stride:]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := range drow {
			drow[x] = srow[x*4]
		}
	}
}

// scalePlane scales a single 8-bit plane using bilinear interpolation.
func scalePlane(src []byte, srcWidth, srcHeight, srcStride int,
	dst []byte, dstWidth, dstHeight, dstStride int,
) error {
	if len(src) < (srcHeight-1)*srcStride+srcWidth {
		return fmt.Errorf("source buffer too small: %d < %d", len(src), (srcHeight-1)*srcStride+srcWidth)
	}
	if len(dst) < (dstHeight-1)*dstStride+dstWidth {
		return fmt.Errorf("destination buffer too small: %d < %d", len(dst), (dstHeight-1)*dstStride+dstWidth)
	}

	if srcWidth == dstWidth && srcHeight == dstHeight {
		for y := 0; y < dstHeight; y++ {
			copy(dst[y*dstStride:y*dstStride+dstWidth], src[y*srcStride:y*srcStride+srcWidth])
		}
		return nil
	}

	xRatio := float64(srcWidth) / float64(dstWidth)
	yRatio := float64(srcHeight) / float64(dstHeight)

	for y := 0; y < dstHeight; y++ {
		srcY := float64(y) * yRatio
		y1 := int(srcY)
		y2 := y1 + 1
		if y2 >= srcHeight {
			y2 = srcHeight - 1
		}
		fy := srcY - float64(y1)

		for x := 0; x < dstWidth; x++ {
			srcX := float64(x) * xRatio
			x1 := int(srcX)
			x2 := x1 + 1
			if x2 >= srcWidth {
				x2 = srcWidth - 1
			}
			fx := srcX - float64(x1)

			p11 := float64(src[y1*srcStride+x1])
			p12 := float64(src[y1*srcStride+x2])
			p21 := float64(src[y2*srcStride+x1])
			p22 := float64(src[y2*srcStride+x2])

			top := p11*(1-fx) + p12*fx
			bottom := p21*(1-fx) + p22*fx
			dst[y*dstStride+x] = byte(top*(1-fy) + bottom*fy + 0.5)
		}
	}

	return nil
}
