package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
)

type call struct {
	conn    conntable.ID
	attr    uint16
	payload []byte
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []call
	fail  map[conntable.ID]bool
}

func (n *fakeNotifier) Notify(conn conntable.ID, attr uint16, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, call{conn: conn, attr: attr, payload: append([]byte(nil), payload...)})
	if n.fail[conn] {
		return errors.New("invalid handle")
	}
	return nil
}

func (n *fakeNotifier) snapshot() []call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]call(nil), n.calls...)
}

type chanSource chan Event

func (c chanSource) Events() <-chan Event { return c }

const egress = 2

func newTestBridge(ids ...conntable.ID) (*Bridge, *fakeNotifier, chanSource) {
	table := &conntable.Table{}
	for _, id := range ids {
		table.Record(id)
	}
	n := &fakeNotifier{fail: map[conntable.ID]bool{}}
	src := make(chanSource, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBridge(src, table, n, egress, 90, logger), n, src
}

func TestDataEventNotifiesEveryConnection(t *testing.T) {
	b, n, _ := newTestBridge(3, 7)

	if sent := b.Handle(Event{Size: 5}); sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}

	calls := n.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 notify calls, got %d", len(calls))
	}
	seen := map[conntable.ID]bool{}
	for _, c := range calls {
		seen[c.conn] = true
		if c.attr != egress {
			t.Errorf("conn %d: attr = %d, want %d", c.conn, c.attr, egress)
		}
		if len(c.payload) != 1 || c.payload[0] != 90 {
			t.Errorf("conn %d: payload = %v", c.conn, c.payload)
		}
	}
	if !seen[3] || !seen[7] {
		t.Errorf("notified %v, want 3 and 7", seen)
	}
}

func TestIgnoredEvents(t *testing.T) {
	b, n, _ := newTestBridge(3)

	for _, ev := range []Event{
		{Size: 0},
		{Size: -1},
	} {
		if sent := b.Handle(ev); sent != 0 {
			t.Errorf("size %d: sent %d", ev.Size, sent)
		}
	}
	if len(n.snapshot()) != 0 {
		t.Errorf("unexpected notify calls: %v", n.snapshot())
	}
}

func TestNotifyFailureDoesNotStopFanOut(t *testing.T) {
	b, n, _ := newTestBridge(1, 2, 3)
	n.fail[1] = true

	if sent := b.Handle(Event{Size: 1}); sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if calls := n.snapshot(); len(calls) != 3 {
		t.Errorf("attempted %d notifies, want 3", len(calls))
	}
}

func TestNoConnectionsNoNotify(t *testing.T) {
	b, n, _ := newTestBridge()
	b.Handle(Event{Size: 3})
	if len(n.snapshot()) != 0 {
		t.Error("notified with an empty table")
	}
}

func TestRunProcessesEventsUntilCancel(t *testing.T) {
	b, n, src := newTestBridge(3, 7)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	src <- Event{Size: 5}
	src <- Event{}

	deadline := time.Now().Add(2 * time.Second)
	for len(n.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("bridge did not notify")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if len(n.snapshot()) != 2 {
		t.Errorf("notify calls = %d, want 2", len(n.snapshot()))
	}
}

func TestRunStopsWhenSourceCloses(t *testing.T) {
	b, _, src := newTestBridge()
	close(src)
	if err := b.Run(context.Background()); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}
