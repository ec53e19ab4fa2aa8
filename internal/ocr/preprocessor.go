package ocr

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const maxImageSide = 2000

// Preprocess enhances an image for OCR and writes the result into dir.
// Pipeline: downscale oversized scans, grayscale, contrast, sharpen.
func Preprocess(imagePath, dir string) (string, error) {
	src, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}

	img := src
	if b := src.Bounds(); b.Dx() > maxImageSide || b.Dy() > maxImageSide {
		img = imaging.Fit(img, maxImageSide, maxImageSide, imaging.Lanczos)
	}
	img = imaging.Grayscale(img)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)

	base := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	out := filepath.Join(dir, base+"_processed.png")
	if err := imaging.Save(img, out); err != nil {
		return "", fmt.Errorf("failed to save processed image: %w", err)
	}
	return out, nil
}
