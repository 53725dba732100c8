//go:build tinygo && nodisplay

package display

import (
	"image/color"
	"machine"
)

// Matrix is a no-op when the nodisplay build tag is used.
type Matrix struct{}

// NewMatrix ignores pin when the nodisplay build tag is used.
func NewMatrix(pin machine.Pin, serpentine bool) *Matrix {
	return &Matrix{}
}

// WriteColors is a no-op in nodisplay mode.
func (m *Matrix) WriteColors(frame []color.RGBA) error { return nil }
