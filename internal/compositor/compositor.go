// Package compositor puts a ring overlay on top of a user's avatar.
//
// The base image defines the output canvas. The overlay is scaled to that
// canvas, the avatar is scaled into the area inside the ring, the ring is
// drawn over it, and everything outside the ellipse inscribed in the canvas
// becomes transparent. The output is always PNG.
package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	// Decoders accepted for user uploads.
	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrUnprocessableImage covers corrupt data, unsupported formats and images
// that exceed the configured limits.
var ErrUnprocessableImage = errors.New("unprocessable image")

// Limits bounds the images Compose will accept.
type Limits struct {
	// MaxDimension caps both width and height. Zero disables the check.
	MaxDimension int
}

// Overlay is a decoded ring image. It is read-only after construction and may
// be shared between goroutines.
type Overlay struct {
	img *image.RGBA
}

// NewOverlay decodes raw into an Overlay.
func NewOverlay(raw []byte) (*Overlay, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode overlay: %w", err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, errors.New("decode overlay: empty image")
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), src, b.Min, xdraw.Src)
	return &Overlay{img: rgba}, nil
}

// Bounds reports the overlay's native size.
func (o *Overlay) Bounds() image.Rectangle {
	return o.img.Bounds()
}

// Compose decodes raw, applies the overlay and returns PNG bytes. Identical
// inputs always produce identical output.
func Compose(raw []byte, ov *Overlay, lim Limits) ([]byte, error) {
	base, err := decode(raw, lim)
	if err != nil {
		return nil, err
	}

	out := composite(base, ov.img)

	var buf bytes.Buffer
	buf.Grow(len(out.Pix) / 4)
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(raw []byte, lim Limits) (img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = fmt.Errorf("%w: decoder panic: %v", ErrUnprocessableImage, r)
		}
	}()

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty attachment", ErrUnprocessableImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprocessableImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s has no pixels", ErrUnprocessableImage, format)
	}
	if lim.MaxDimension > 0 && (cfg.Width > lim.MaxDimension || cfg.Height > lim.MaxDimension) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %dpx", ErrUnprocessableImage, cfg.Width, cfg.Height, lim.MaxDimension)
	}

	img, _, err = image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnprocessableImage, err)
	}
	return img, nil
}

func composite(base image.Image, ring *image.RGBA) *image.RGBA {
	bb := base.Bounds()
	canvas := image.Rect(0, 0, bb.Dx(), bb.Dy())

	scaled := ring
	if ring.Bounds().Size() != canvas.Size() {
		scaled = image.NewRGBA(canvas)
		xdraw.CatmullRom.Scale(scaled, canvas, ring, ring.Bounds(), xdraw.Src, nil)
	}

	inner := canvas.Inset(ringThickness(scaled))
	if inner.Empty() {
		inner = canvas
	}

	out := image.NewRGBA(canvas)
	xdraw.CatmullRom.Scale(out, inner, base, bb, xdraw.Src, nil)
	xdraw.Draw(out, canvas, scaled, image.Point{}, xdraw.Over)
	clipEllipse(out)
	return out
}

// ringThickness counts non-transparent pixels down the top half of the
// centre column.
func ringThickness(ring *image.RGBA) int {
	b := ring.Bounds()
	x := b.Min.X + b.Dx()/2
	n := 0
	for y := b.Min.Y; y < b.Min.Y+b.Dy()/2; y++ {
		if ring.RGBAAt(x, y).A != 0 {
			n++
		}
	}
	return n
}

// clipEllipse clears every pixel outside the ellipse inscribed in img.
func clipEllipse(img *image.RGBA) {
	b := img.Bounds()
	rx := float64(b.Dx()) / 2
	ry := float64(b.Dy()) / 2
	cx := float64(b.Min.X) + rx
	cy := float64(b.Min.Y) + ry
	for y := b.Min.Y; y < b.Max.Y; y++ {
		dy := (float64(y) - cy) / ry
		for x := b.Min.X; x < b.Max.X; x++ {
			dx := (float64(x) - cx) / rx
			if dx*dx+dy*dy > 1 {
				img.SetRGBA(x, y, color.RGBA{})
			}
		}
	}
}
