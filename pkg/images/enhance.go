package images

import (
	"fmt"
	"math"

	"github.com/disintegration/imaging"

	"jewelry-scraper/pkg/config"
	"jewelry-scraper/pkg/utils"
)

// Enhance upgrades one saved image file in place: decode, upscale if either
// dimension is below minRes (aspect ratio preserved, never downscale),
// sharpen when sharpness > 1.0, then re-encode as JPEG at the given quality.
// When neither step applies the file is left byte-for-byte untouched.
// Returns the final dimensions.
func Enhance(filePath string, minRes config.Resolution, sharpness float64, jpegQuality int) (int, int, error) {
	img, err := imaging.Open(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", utils.ErrImageDecode, filePath, err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: %q decoded to empty bounds", utils.ErrImageDecode, filePath)
	}

	needsUpscale := w < minRes.Width || h < minRes.Height
	needsSharpen := sharpness > 1.0
	if !needsUpscale && !needsSharpen {
		return w, h, nil
	}

	if needsUpscale {
		// One scale factor for both axes keeps the aspect ratio; ceil
		// guarantees neither dimension lands under the minimum.
		scale := math.Max(
			float64(minRes.Width)/float64(w),
			float64(minRes.Height)/float64(h),
		)
		w = int(math.Ceil(float64(w) * scale))
		h = int(math.Ceil(float64(h) * scale))
		img = imaging.Resize(img, w, h, imaging.CatmullRom)
	}

	if needsSharpen {
		img = imaging.Sharpen(img, sharpenSigma(sharpness))
	}

	if err := imaging.Save(img, filePath, imaging.JPEGQuality(jpegQuality)); err != nil {
		return 0, 0, fmt.Errorf("%w: re-encoding %q: %w", utils.ErrFilesystem, filePath, err)
	}
	return w, h, nil
}

// sharpenSigma maps the quality-enhancement factor onto the sharpen kernel's
// sigma. The 1.2 default yields a mild, visible sharpen; 1.0 is identity.
func sharpenSigma(factor float64) float64 {
	return (factor - 1.0) * 2.5
}
