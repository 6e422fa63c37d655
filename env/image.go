package env

import (
	"image"
	"image/color"

	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
)

// RGB is an in-memory image of packed 3-byte pixels, the layout gymnasium
// renders rgb_array frames in.
type RGB struct {
	// Pix holds the pixels as R, G, B triplets, row-major.
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewRGB returns an RGB image with the given bounds.
func NewRGB(r image.Rectangle) *RGB {
	return &RGB{
		Pix:    make([]uint8, 3*r.Dx()*r.Dy()),
		Stride: 3 * r.Dx(),
		Rect:   r,
	}
}

func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

func (p *RGB) Bounds() image.Rectangle { return p.Rect }

func (p *RGB) At(x, y int) color.Color {
	return p.RGBAAt(x, y)
}

// RGBAAt returns the opaque color of the pixel at (x, y).
func (p *RGB) RGBAAt(x, y int) color.RGBA {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	s := p.Pix[i : i+3 : i+3]
	return color.RGBA{R: s[0], G: s[1], B: s[2], A: 0xff}
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// Set stores c, dropping alpha.
func (p *RGB) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	c1 := color.RGBAModel.Convert(c).(color.RGBA)
	p.Pix[i+0] = c1.R
	p.Pix[i+1] = c1.G
	p.Pix[i+2] = c1.B
}

// Image views a uint8 frame of shape (h, w) or (h, w, c) as an image. The
// pixels share the array's bytes.
func (a *Array) Image() (image.Image, error) {
	m := Metadata{Shape: a.Shape, DType: a.DType}
	if len(m.Shape) < 2 || len(m.Shape) > 3 {
		return nil, errors.New(errors.PhaseEnv, errors.KindUnsupportedImage).
			Value(m.Shape).
			Detail("frame must be 2-d or 3-d, got shape %v", m.Shape).
			Build()
	}
	if a.DType != python.Uint8 && a.DType != python.Bool {
		return nil, errors.New(errors.PhaseEnv, errors.KindUnsupportedImage).
			PyType(a.DType.Name).
			Detail("frame dtype %s is not uint8", a.DType).
			Build()
	}

	w, hgt := m.Width(), m.Height()
	rect := image.Rect(0, 0, w, hgt)
	if len(a.Data) < w*hgt*m.Channels() {
		return nil, errors.Capacity(len(a.Data), w*hgt*m.Channels())
	}

	switch m.Channels() {
	case 1:
		return &image.Gray{Pix: a.Data, Stride: w, Rect: rect}, nil
	case 3:
		return &RGB{Pix: a.Data, Stride: 3 * w, Rect: rect}, nil
	case 4:
		return &image.NRGBA{Pix: a.Data, Stride: 4 * w, Rect: rect}, nil
	}
	return nil, errors.UnsupportedImage(m.Channels())
}
