// Package imaging provides the image plumbing around the detector:
// base64 decoding, letterbox preprocessing and result annotation.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ErrInvalidImage indicates malformed or undecodable image input.
var ErrInvalidImage = errors.New("invalid image")

// Gray fill used for the letterbox padding, matching the value the
// model was trained with.
var padFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// Transform records the letterbox mapping from original-image space to
// canvas space. It is derived once per request and consumed by the
// coordinate remapper.
type Transform struct {
	Scale      float64
	PadX       int
	PadY       int
	CanvasSize int
}

// Letterbox resizes img to fit a size x size square canvas while
// preserving aspect ratio, pasting it centered over a neutral gray
// background. It returns the canvas together with the transform needed
// to map canvas coordinates back to the original image.
func Letterbox(img image.Image, size int) (*image.NRGBA, Transform, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, Transform{}, fmt.Errorf("%w: zero-dimension image %dx%d", ErrInvalidImage, w, h)
	}
	if size <= 0 {
		return nil, Transform{}, fmt.Errorf("invalid canvas size %d", size)
	}

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	newW := int(math.Round(float64(w) * scale))
	newH := int(math.Round(float64(h) * scale))

	resized := imaging.Resize(img, newW, newH, imaging.Lanczos)

	canvas := imaging.New(size, size, padFill)
	padX := (size - newW) / 2
	padY := (size - newH) / 2
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	t := Transform{
		Scale:      scale,
		PadX:       padX,
		PadY:       padY,
		CanvasSize: size,
	}
	return canvas, t, nil
}
