// Package notify fans a hardware trigger out to every connected BLE client.
//
// A Bridge blocks on a Source until an event arrives. Each event with a
// positive size sends a one-byte notification to every id in the
// connection table. A failed notify is logged and the fan-out continues.
package notify

import (
	"context"
	"log/slog"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
)

// Event is one hardware wake: Size bytes arrived on the trigger line.
// Events with no bytes are ignored.
type Event struct {
	Size int
}

// Source delivers hardware events. The channel is never closed while the
// source is live; a closed channel stops the bridge.
type Source interface {
	Events() <-chan Event
}

// Notifier sends a notification on attr to one connection.
type Notifier interface {
	Notify(conn conntable.ID, attr uint16, payload []byte) error
}

// Bridge connects a Source to a Notifier through the connection table.
type Bridge struct {
	source   Source
	table    *conntable.Table
	notifier Notifier
	attr     uint16
	payload  [1]byte
	logger   *slog.Logger
}

// NewBridge creates a bridge that notifies attr with the single byte b.
func NewBridge(source Source, table *conntable.Table, notifier Notifier, attr uint16, b byte, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		source:   source,
		table:    table,
		notifier: notifier,
		attr:     attr,
		payload:  [1]byte{b},
		logger:   logger,
	}
}

// Run waits for events until ctx is done or the source closes.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting ble uart task")
	events := b.source.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Handle(ev)
		}
	}
}

// Handle processes one event and returns how many notifications succeeded.
func (b *Bridge) Handle(ev Event) int {
	if ev.Size <= 0 {
		return 0
	}

	sent := 0
	b.table.ForEachActive(func(id conntable.ID) {
		buf := b.payload
		if err := b.notifier.Notify(id, b.attr, buf[:]); err != nil {
			b.logger.Error("error sending notification", slog.Int("conn", int(id)), slog.Any("err", err))
			return
		}
		sent++
		b.logger.Info("notification sent", slog.Int("conn", int(id)))
	})
	return sent
}
