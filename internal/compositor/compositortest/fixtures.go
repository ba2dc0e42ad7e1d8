// Package compositortest builds in-memory images for tests.
package compositortest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
)

var (
	Red   = color.RGBA{R: 0xff, A: 0xff}
	Green = color.RGBA{G: 0xff, A: 0xff}
	Blue  = color.RGBA{B: 0xff, A: 0xff}
	White = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// SolidPNG encodes a fully opaque w×h image. The PNG encoder writes opaque
// images without an alpha channel.
func SolidPNG(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return encode(img)
}

// RingPNG encodes a size×size transparent image with an opaque annulus of the
// given thickness touching the edges.
func RingPNG(size, thickness int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	outer := float64(size) / 2
	inner := outer - float64(thickness)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)+0.5-outer, float64(y)+0.5-outer)
			if d <= outer && d >= inner {
				img.SetRGBA(x, y, c)
			}
		}
	}
	return encode(img)
}

func encode(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
