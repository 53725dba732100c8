//go:build tinygo && !nodisplay

package display

import (
	"image/color"
	"machine"
	"runtime/interrupt"

	"tinygo.org/x/drivers/ws2812"
)

// Matrix drives a WS2812 strip wired as a Width x Height matrix.
//
// To build without the LED output (for boards without a matrix), use:
//
//	tinygo build -tags=nodisplay -target=pico -o firmware.uf2 .
type Matrix struct {
	dev        ws2812.Device
	serpentine bool
	buf        [Pixels]color.RGBA
}

// NewMatrix configures pin as the strip data line.
func NewMatrix(pin machine.Pin, serpentine bool) *Matrix {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return &Matrix{
		dev:        ws2812.New(pin),
		serpentine: serpentine,
	}
}

// WriteColors shows one row-major frame.
func (m *Matrix) WriteColors(frame []color.RGBA) error {
	Remap(m.buf[:], frame, m.serpentine)

	// The WS2812 bit timing is cycle-counted and must not be interrupted.
	var err error
	state := interrupt.Disable()
	err = m.dev.WriteColors(m.buf[:])
	interrupt.Restore(state)
	return err
}
