package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Box is a labeled rectangle to draw onto an image.
type Box struct {
	X, Y, W, H int
	Label      string
	Confidence float64
}

var labelColors = map[string]color.NRGBA{
	"close_button":  {R: 255, A: 255},
	"action_button": {G: 255, A: 255},
}

var defaultLabelColor = color.NRGBA{B: 255, A: 255}

const borderWidth = 2

// Annotate draws detection boxes and confidence labels over img and
// returns the result encoded as JPEG.
func Annotate(img image.Image, boxes []Box) ([]byte, error) {
	canvas := imaging.Clone(img)
	bounds := canvas.Bounds()

	for _, b := range boxes {
		col, ok := labelColors[b.Label]
		if !ok {
			col = defaultLabelColor
		}

		drawRect(canvas, b.X, b.Y, b.W, b.H, col)
		drawLabel(canvas, b.X, b.Y, fmt.Sprintf("%s: %.2f", b.Label, b.Confidence), col, bounds)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// drawRect draws a rectangle border of borderWidth pixels, clipped to
// the image bounds.
func drawRect(img *image.NRGBA, x, y, w, h int, col color.NRGBA) {
	for t := 0; t < borderWidth; t++ {
		for px := x; px <= x+w; px++ {
			setClipped(img, px, y+t, col)
			setClipped(img, px, y+h-t, col)
		}
		for py := y; py <= y+h; py++ {
			setClipped(img, x+t, py, col)
			setClipped(img, x+w-t, py, col)
		}
	}
}

func setClipped(img *image.NRGBA, x, y int, col color.NRGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetNRGBA(x, y, col)
	}
}

// drawLabel renders text just above the box origin, falling back to
// inside the box when it would run off the top edge.
func drawLabel(img *image.NRGBA, x, y int, text string, col color.NRGBA, bounds image.Rectangle) {
	face := basicfont.Face7x13
	textY := y - 4
	if textY-face.Ascent < bounds.Min.Y {
		textY = y + face.Height + 2
	}

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(x, textY),
	}
	d.DrawString(text)
}
