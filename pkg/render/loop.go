// Package render drives the LED matrix: it scrolls the current message in a
// rainbow palette, swaps in new text at the end of each scroll cycle and
// persists it.
//
// The loop is single-threaded. New text arrives only through the
// message.Cell drain at a cycle boundary; an optional alert flag replaces the
// message with a fixed glyph while it is set.
package render

import (
	"context"
	"image/color"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/message"
)

// MessageKey is the storage key of the persisted message.
const MessageKey = "message"

// Target receives one frame per period, row-major, Width*Height colors.
type Target interface {
	WriteColors(buf []color.RGBA) error
}

// Store is the persisted key/value collaborator.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Options configure the loop.
type Options struct {
	Width       int
	Height      int
	FramePeriod time.Duration
	Brightness  uint8
}

// Loop is the scrolling renderer.
type Loop struct {
	opts   Options
	target Target
	cell   *message.Cell
	store  Store
	alert  *atomic.Bool
	logger *slog.Logger

	scroller *Scroller
	hue      uint8
	frame    []color.RGBA
	unsaved  string
	shown    atomic.Pointer[string]
}

// NewLoop creates the renderer and loads the persisted message, falling back
// to message.Default. alert may be nil.
func NewLoop(target Target, cell *message.Cell, store Store, alert *atomic.Bool, opts Options, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		opts:   opts,
		target: target,
		cell:   cell,
		store:  store,
		alert:  alert,
		logger: logger,
		frame:  make([]color.RGBA, opts.Width*opts.Height),
	}

	text, err := store.Get(MessageKey)
	if err != nil {
		logger.Info("using default message", slog.Any("reason", err))
		text = message.Default
	}
	sc, err := NewScroller(text, opts.Width, opts.Height)
	if err != nil {
		logger.Error("stored message unrenderable", slog.String("text", text), slog.Any("err", err))
		text = message.Default
		sc, err = NewScroller(text, opts.Width, opts.Height)
		if err != nil {
			panic("render: default message: " + err.Error())
		}
	}
	l.scroller = sc
	l.shown.Store(&text)

	return l
}

// Text returns the message currently scrolling. Safe from any goroutine.
func (l *Loop) Text() string {
	return *l.shown.Load()
}

// Run renders one frame per period until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.opts.FramePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick renders and writes one frame, then advances the cursor. At the end of
// a scroll cycle it drains the message cell. It reports whether a new message
// was swapped in.
func (l *Loop) Tick() bool {
	if l.alert != nil && l.alert.Load() {
		l.renderAlert()
	} else {
		l.scroller.Render(l.frame, l.paint)
	}
	if err := l.target.WriteColors(l.frame); err != nil {
		l.logger.Debug("frame write failed", slog.Any("err", err))
	}

	l.hue++
	if !l.scroller.Step() {
		return false
	}
	return l.cycleDone()
}

func (l *Loop) cycleDone() bool {
	text, ok := l.cell.ReadAndClear()
	if !ok {
		if l.unsaved != "" {
			l.persist(l.unsaved)
		}
		return false
	}

	l.logger.Info("message done! updating to a new one")
	sc, err := NewScroller(text, l.opts.Width, l.opts.Height)
	if err != nil {
		l.logger.Error("failed to update message", slog.Any("err", err))
		return false
	}
	l.persist(text)
	l.scroller = sc
	l.shown.Store(&text)
	return true
}

// persist stores text; on failure it is kept and retried at the next cycle
// boundary unless newer text replaces it first.
func (l *Loop) persist(text string) {
	if err := l.store.Set(MessageKey, text); err != nil {
		l.logger.Error("failed to persist message", slog.Any("err", err))
		l.unsaved = text
		return
	}
	l.unsaved = ""
}

func (l *Loop) paint(x, y int) color.RGBA {
	return Correct(Rainbow(x, y, l.hue), l.opts.Brightness)
}

func (l *Loop) renderAlert() {
	on := Correct(alertColor, l.opts.Brightness)
	for y := 0; y < l.opts.Height; y++ {
		for x := 0; x < l.opts.Width; x++ {
			if heartLit(x, y) {
				l.frame[y*l.opts.Width+x] = on
			} else {
				l.frame[y*l.opts.Width+x] = color.RGBA{A: 255}
			}
		}
	}
}
