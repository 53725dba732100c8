// Package uart turns trigger-line activity into notify events.
//
// Source is the channel end the notification bridge blocks on. On the
// RP2040/RP2350 a listener fed by the interrupt-driven uartx driver publishes
// into it; on the host the simulator and tests inject events directly.
package uart

import (
	"sync"
	"sync/atomic"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/notify"
)

// QueueLen is the default event queue depth.
const QueueLen = 10

// Source is a bounded, non-blocking event queue.
type Source struct {
	events  chan notify.Event
	dropped atomic.Uint32

	closeOnce sync.Once
}

// NewSource returns a Source holding up to n undelivered events.
// n <= 0 selects QueueLen.
func NewSource(n int) *Source {
	if n <= 0 {
		n = QueueLen
	}
	return &Source{events: make(chan notify.Event, n)}
}

// Events implements notify.Source.
func (s *Source) Events() <-chan notify.Event {
	return s.events
}

// Publish queues ev without blocking. A full queue drops the event and
// reports false.
func (s *Source) Publish(ev notify.Event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Inject queues a "data received" event of n bytes.
func (s *Source) Inject(n int) bool {
	return s.Publish(notify.Event{Size: n})
}

// Dropped is the number of events lost to a full queue.
func (s *Source) Dropped() uint32 {
	return s.dropped.Load()
}

// Close stops the bridge reading from s. Publish must not be called after
// Close.
func (s *Source) Close() {
	s.closeOnce.Do(func() { close(s.events) })
}
