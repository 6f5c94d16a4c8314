// Package raster holds the pixel buffers that flow through the
// preprocessing pipeline.
//
// An Image stores its rows in capture order: row 0 is the bottom row of the
// drawing surface it was taken from. Decoded files are top-down, so
// FromImage and ToImage flip rows on the way in and out.
package raster

import (
	"image"
	"image/color"
	"math"
)

// Image is an RGB raster with channels in [0,1]
type Image struct {
	width  int
	height int
	// Pix holds R, G, B triples, row by row starting at the bottom row
	Pix []float32
}

// New allocates a black image of the given size
func New(width, height int) *Image {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Image{
		width:  width,
		height: height,
		Pix:    make([]float32, width*height*3),
	}
}

// NewFilled allocates an image with every pixel set to the given color
func NewFilled(width, height int, r, g, b float32) *Image {
	img := New(width, height)
	for i := 0; i < len(img.Pix); i += 3 {
		img.Pix[i+0] = r
		img.Pix[i+1] = g
		img.Pix[i+2] = b
	}
	return img
}

// Width returns the number of columns
func (m *Image) Width() int { return m.width }

// Height returns the number of rows
func (m *Image) Height() int { return m.height }

// Empty reports whether the image has no pixels
func (m *Image) Empty() bool {
	return m == nil || m.width == 0 || m.height == 0
}

// At returns the color of the pixel at column x, capture row y
func (m *Image) At(x, y int) (r, g, b float32) {
	i := m.offset(x, y)
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// Set writes the pixel at column x, capture row y
func (m *Image) Set(x, y int, r, g, b float32) {
	i := m.offset(x, y)
	m.Pix[i+0] = r
	m.Pix[i+1] = g
	m.Pix[i+2] = b
}

// Row returns the RGB triples of capture row y. The slice aliases Pix.
func (m *Image) Row(y int) []float32 {
	start := y * m.width * 3
	return m.Pix[start : start+m.width*3]
}

func (m *Image) offset(x, y int) int {
	return (y*m.width + x) * 3
}

// FromImage converts a decoded, top-down image into capture order.
// Translucent pixels are composited over white, the color of an empty canvas.
func FromImage(src image.Image) *Image {
	if src == nil {
		return New(0, 0)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := New(w, h)
	for sy := 0; sy < h; sy++ {
		y := h - 1 - sy
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(src.At(x+bounds.Min.X, sy+bounds.Min.Y)).(color.NRGBA)
			a := float32(c.A) / 255
			r := float32(c.R)/255*a + (1 - a)
			g := float32(c.G)/255*a + (1 - a)
			b := float32(c.B)/255*a + (1 - a)
			out.Set(x, y, r, g, b)
		}
	}
	return out
}

// ToImage converts back to a top-down 8-bit image
func (m *Image) ToImage() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, m.width, m.height))
	for y := 0; y < m.height; y++ {
		dy := m.height - 1 - y
		for x := 0; x < m.width; x++ {
			r, g, b := m.At(x, y)
			i := out.PixOffset(x, dy)
			out.Pix[i+0] = to8(r)
			out.Pix[i+1] = to8(g)
			out.Pix[i+2] = to8(b)
			out.Pix[i+3] = 255
		}
	}
	return out
}

// Grid is a single-channel float raster, row-major
type Grid struct {
	Width  int
	Height int
	Values []float32
}

// NewGrid allocates a zeroed grid
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Values: make([]float32, width*height),
	}
}

// At returns the value at column x, row y
func (g *Grid) At(x, y int) float32 {
	return g.Values[y*g.Width+x]
}

// ToImage renders the grid as an 8-bit grayscale image; grid row 0 is image row 0
func (g *Grid) ToImage() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			out.Pix[out.PixOffset(x, y)] = to8(g.Values[y*g.Width+x])
		}
	}
	return out
}

func to8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(float64(v) * 255))
}
