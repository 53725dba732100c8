// Package message holds the text shared between the BLE write path and the
// renderer.
//
// Writers publish with Cell.Write from any goroutine (the radio callback
// context included). The renderer drains with Cell.ReadAndClear once per
// scroll cycle. Multiple writes between drains collapse to the latest text.
package message

import (
	"errors"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

// MaxLen is the largest payload accepted from a client, in bytes.
const MaxLen = 256

// Default is shown when nothing has been stored yet.
const Default = "hello world"

var (
	ErrEmpty       = errors.New("message is empty")
	ErrTooLarge    = errors.New("message exceeds 256 bytes")
	ErrInvalidUTF8 = errors.New("message is not valid UTF-8")
)

// Decode validates a raw client payload and returns it as text.
// Oversized payloads are rejected, never truncated.
func Decode(b []byte) (string, error) {
	if len(b) == 0 {
		return "", ErrEmpty
	}
	if len(b) > MaxLen {
		return "", ErrTooLarge
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// Cell is a single-slot mailbox with a dirty flag.
// The zero value is ready to use.
type Cell struct {
	mu    sync.Mutex
	text  string
	dirty atomic.Bool
}

// Write replaces the stored text and marks it dirty.
// The caller is expected to have validated text with Decode.
func (c *Cell) Write(text string) {
	c.mu.Lock()
	c.text = text
	c.dirty.Store(true)
	c.mu.Unlock()
}

// ReadAndClear returns the newest text if it changed since the last call.
// The flag is cleared under the same lock that guards the text, so a drain
// always consumes the newest write and no write is reported twice.
func (c *Cell) ReadAndClear() (string, bool) {
	if !c.dirty.Load() {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty.Swap(false) {
		return "", false
	}
	return c.text, true
}

// Pending reports whether an undrained write exists.
func (c *Cell) Pending() bool {
	return c.dirty.Load()
}
