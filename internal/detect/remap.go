package detect

import (
	"math"

	"github.com/uivision/button-detect/internal/imaging"
)

// RemapBox inverts the letterbox transform, translating a canvas-space
// [x, y, w, h] box into original-image pixel space. Coordinates are
// clamped so the box stays inside the width x height image.
func RemapBox(box [4]int, t imaging.Transform, width, height int) [4]int {
	x := int(math.Floor((float64(box[0]) - float64(t.PadX)) / t.Scale))
	y := int(math.Floor((float64(box[1]) - float64(t.PadY)) / t.Scale))
	w := int(math.Floor(float64(box[2]) / t.Scale))
	h := int(math.Floor(float64(box[3]) / t.Scale))

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x > width {
		x = width
	}
	if y > height {
		y = height
	}
	if x+w > width {
		w = width - x
	}
	if y+h > height {
		h = height - y
	}
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}

	return [4]int{x, y, w, h}
}
