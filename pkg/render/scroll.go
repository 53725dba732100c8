package render

import (
	"errors"
	"image/color"

	"tinygo.org/x/tinyfont"
)

// baseline is the glyph baseline row for TomThumb, which draws capitals in
// the five rows above it.
const baseline = 5

var (
	ErrNoText       = errors.New("render: empty text")
	ErrUnrenderable = errors.New("render: text has no drawable glyphs")
)

// canvas is a one-bit column bitmap that tinyfont draws into.
// It implements drivers.Displayer.
type canvas struct {
	cols   []uint8
	height int16
}

func (c *canvas) Size() (x, y int16) {
	return int16(len(c.cols)), c.height
}

func (c *canvas) SetPixel(x, y int16, col color.RGBA) {
	if x < 0 || int(x) >= len(c.cols) || y < 0 || y >= c.height || y >= 8 {
		return
	}
	if col.A == 0 {
		c.cols[x] &^= 1 << uint(y)
		return
	}
	c.cols[x] |= 1 << uint(y)
}

func (c *canvas) Display() error {
	return nil
}

func (c *canvas) lit(x, y int) bool {
	if x < 0 || x >= len(c.cols) || y < 0 || y >= int(c.height) {
		return false
	}
	return c.cols[x]&(1<<uint(y)) != 0
}

// Scroller renders a message scrolling right to left across a matrix.
// The cursor starts with the text just off the right edge and a cycle ends
// once the last column has left the left edge.
type Scroller struct {
	glyphs *canvas
	width  int
	height int
	offset int
}

// NewScroller rasterizes text for a width x height matrix.
func NewScroller(text string, width, height int) (*Scroller, error) {
	if text == "" {
		return nil, ErrNoText
	}

	_, outbox := tinyfont.LineWidth(&tinyfont.TomThumb, text)
	if outbox == 0 {
		return nil, ErrUnrenderable
	}

	c := &canvas{
		cols:   make([]uint8, outbox),
		height: int16(height),
	}
	tinyfont.WriteLine(c, &tinyfont.TomThumb, 0, baseline, text, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	return &Scroller{
		glyphs: c,
		width:  width,
		height: height,
	}, nil
}

// Len is the number of steps in one scroll cycle.
func (s *Scroller) Len() int {
	return len(s.glyphs.cols) + s.width
}

// Offset is the current cursor position within the cycle.
func (s *Scroller) Offset() int {
	return s.offset
}

// Lit reports whether matrix pixel (x, y) is part of the text at the cursor.
func (s *Scroller) Lit(x, y int) bool {
	return s.glyphs.lit(s.offset+x-s.width, y)
}

// Render writes the current frame row-major into dst, painting lit pixels
// with paint and clearing the rest.
func (s *Scroller) Render(dst []color.RGBA, paint func(x, y int) color.RGBA) {
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			i := y*s.width + x
			if i >= len(dst) {
				return
			}
			if s.Lit(x, y) {
				dst[i] = paint(x, y)
			} else {
				dst[i] = color.RGBA{A: 255}
			}
		}
	}
}

// Step advances the cursor one column. It reports true when the message has
// fully scrolled off and the cursor wrapped to the start.
func (s *Scroller) Step() bool {
	s.offset++
	if s.offset >= s.Len() {
		s.offset = 0
		return true
	}
	return false
}
