// Package display maps rendered frames onto the LED matrix.
//
// Frames arrive row-major, top-left first. The physical strip either runs
// every row left to right or zig-zags (serpentine), reversing odd rows.
package display

import "image/color"

// Matrix dimensions.
const (
	Width  = 5
	Height = 5
	Pixels = Width * Height
)

// Index returns the strip position of pixel (x, y), or -1 when it is off the
// matrix.
func Index(x, y int, serpentine bool) int {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		return -1
	}
	if serpentine && y%2 == 1 {
		x = Width - 1 - x
	}
	return y*Width + x
}

// Remap reorders a row-major frame into strip order. dst and src must not
// overlap; pixels beyond either length are skipped.
func Remap(dst, src []color.RGBA, serpentine bool) {
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			s := y*Width + x
			d := Index(x, y, serpentine)
			if s >= len(src) || d >= len(dst) {
				continue
			}
			dst[d] = src[s]
		}
	}
}
