package render

import (
	"image/color"
	"math"
)

// gamma maps linear 8-bit intensity to LED drive level (gamma 2.2).
var gamma [256]uint8

func init() {
	for i := range gamma {
		gamma[i] = uint8(math.Pow(float64(i)/255, 2.2)*255 + 0.5)
	}
}

// hsv converts a hue/saturation/value triple on a 0-255 hue wheel to RGB.
func hsv(h, s, v uint8) color.RGBA {
	if s == 0 {
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}

	region := h / 43
	rem := uint16(h-region*43) * 6

	vv, ss := uint16(v), uint16(s)
	p := uint8(vv * (255 - ss) >> 8)
	q := uint8(vv * (255 - (ss*rem)>>8) >> 8)
	t := uint8(vv * (255 - (ss*(255-rem))>>8) >> 8)

	switch region {
	case 0:
		return color.RGBA{R: v, G: t, B: p, A: 255}
	case 1:
		return color.RGBA{R: q, G: v, B: p, A: 255}
	case 2:
		return color.RGBA{R: p, G: v, B: t, A: 255}
	case 3:
		return color.RGBA{R: p, G: q, B: v, A: 255}
	case 4:
		return color.RGBA{R: t, G: p, B: v, A: 255}
	default:
		return color.RGBA{R: v, G: p, B: q, A: 255}
	}
}

// Rainbow is the scrolling text palette: hue drifts across columns and
// with the frame counter offs.
func Rainbow(x, y int, offs uint8) color.RGBA {
	h := uint8(y/4) + uint8(x*10) + offs
	return hsv(h, 200, 130)
}

// Correct applies gamma and then scales by brightness.
func Correct(c color.RGBA, brightness uint8) color.RGBA {
	scale := func(v uint8) uint8 {
		return uint8(uint16(gamma[v]) * uint16(brightness) / 255)
	}
	return color.RGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}

// alertColor is the heart glyph color.
var alertColor = color.RGBA{R: 0xFD, G: 0x3F, B: 0x92, A: 255}

// heart is the alert glyph, one row per byte, bit 4 is the leftmost column.
var heart = [5]uint8{
	0b01010,
	0b11111,
	0b11111,
	0b01110,
	0b00100,
}

// heartLit reports whether (x, y) is part of the alert glyph anchored at the
// top-left corner.
func heartLit(x, y int) bool {
	if x < 0 || x >= 5 || y < 0 || y >= len(heart) {
		return false
	}
	return heart[y]&(1<<uint(4-x)) != 0
}
