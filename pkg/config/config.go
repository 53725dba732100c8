// Package config defines the persisted device settings for the scrolling display.
// The record is fixed-size and encoded without allocations beyond the output buffer.
package config

import (
	"encoding/binary"
	"errors"
	"time"
)

// CurrentVersion is the config format version.
// Bump this when making breaking changes to the config format.
// When firmware boots and finds a different version in flash, stored state is wiped.
const CurrentVersion uint16 = 1

// Size is the encoded length of DeviceConfig.
const Size = 12

// Flag bits for DeviceConfig.Flags.
const (
	// FlagAlertOnBoot starts the renderer with the alert glyph showing.
	FlagAlertOnBoot uint32 = 1 << iota
	// FlagSerpentine marks a matrix wired in zig-zag rows.
	FlagSerpentine
)

// Limits enforced by Validate.
const (
	MinFrameMs        = 20
	MaxConnectionsCap = 8
)

// DeviceConfig holds the global display and radio settings.
// Total size: 12 bytes
// Layout:
//
//	[0-1]:   Version (uint16)
//	[2-5]:   Flags (uint32)
//	[6]:     Brightness (uint8)
//	[7]:     FrameMs (uint8)
//	[8]:     NotifyByte (uint8)
//	[9]:     MaxConnections (uint8)
//	[10-11]: Reserved for future use
type DeviceConfig struct {
	Version        uint16 // Config format version
	Flags          uint32 // Global feature flags
	Brightness     uint8  // Output scale applied after gamma, 0-255
	FrameMs        uint8  // Render frame period in milliseconds
	NotifyByte     uint8  // Payload sent on the egress characteristic
	MaxConnections uint8  // Concurrent BLE connections allowed
	Reserved       uint16
}

// Errors
var (
	ErrInvalidSize  = errors.New("invalid config size")
	ErrInvalidValue = errors.New("invalid config value")
)

// Default returns the settings used when nothing is stored yet.
func Default() DeviceConfig {
	return DeviceConfig{
		Version:        CurrentVersion,
		Brightness:     255,
		FrameMs:        99,
		NotifyByte:     90,
		MaxConnections: 3,
	}
}

// Validate checks that the settings are usable by the firmware.
func (d *DeviceConfig) Validate() error {
	if d.FrameMs < MinFrameMs {
		return ErrInvalidValue
	}
	if d.MaxConnections == 0 || d.MaxConnections > MaxConnectionsCap {
		return ErrInvalidValue
	}
	return nil
}

// FramePeriod returns FrameMs as a duration.
func (d *DeviceConfig) FramePeriod() time.Duration {
	return time.Duration(d.FrameMs) * time.Millisecond
}

// Has reports whether flag is set.
func (d *DeviceConfig) Has(flag uint32) bool {
	return d.Flags&flag != 0
}

// MarshalBinary implements encoding.BinaryMarshaler for DeviceConfig.
func (d *DeviceConfig) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint16(buf[0:], d.Version)
	binary.LittleEndian.PutUint32(buf[2:], d.Flags)
	buf[6] = d.Brightness
	buf[7] = d.FrameMs
	buf[8] = d.NotifyByte
	buf[9] = d.MaxConnections
	binary.LittleEndian.PutUint16(buf[10:], d.Reserved)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for DeviceConfig.
func (d *DeviceConfig) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return ErrInvalidSize
	}

	d.Version = binary.LittleEndian.Uint16(data[0:])
	d.Flags = binary.LittleEndian.Uint32(data[2:])
	d.Brightness = data[6]
	d.FrameMs = data[7]
	d.NotifyByte = data[8]
	d.MaxConnections = data[9]
	d.Reserved = binary.LittleEndian.Uint16(data[10:])
	return nil
}
