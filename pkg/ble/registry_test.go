package ble

import (
	"testing"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/peripheral"
)

func addr(b byte) peripheral.Address {
	return peripheral.Address{b, 0, 0, 0, 0, 0xC0}
}

func TestRegistryAssignsStableIDs(t *testing.T) {
	r := newRegistry()

	a, ok := r.connect(addr(1))
	if !ok || a == conntable.Unused {
		t.Fatalf("connect = %d, %v", a, ok)
	}
	again, _ := r.connect(addr(1))
	if again != a {
		t.Errorf("same peer got %d then %d", a, again)
	}
	b, _ := r.connect(addr(2))
	if b == a {
		t.Error("two peers share an id")
	}
	if p, ok := r.peer(b); !ok || p != addr(2) {
		t.Errorf("peer(%d) = %v, %v", b, p, ok)
	}
}

func TestRegistryNeverSharesSlot(t *testing.T) {
	r := newRegistry()
	for i := 0; i < conntable.Capacity; i++ {
		if _, ok := r.connect(addr(byte(i))); !ok {
			t.Fatalf("slot %d refused", i)
		}
	}
	if _, ok := r.connect(addr(0xEE)); ok {
		t.Error("ninth peer accepted with every slot taken")
	}

	seen := make(map[int]bool)
	for id := range r.peers {
		s := int(id) % conntable.Capacity
		if seen[s] {
			t.Fatalf("slot %d shared", s)
		}
		seen[s] = true
	}
}

func TestRegistryDisconnectRelease(t *testing.T) {
	r := newRegistry()
	id, _ := r.connect(addr(1))

	got, ok := r.disconnect(addr(1))
	if !ok || got != id {
		t.Fatalf("disconnect = %d, %v", got, ok)
	}
	if _, ok := r.peer(id); !ok {
		t.Error("id not describable before release")
	}
	r.release(id)
	if _, ok := r.peer(id); ok {
		t.Error("id still mapped after release")
	}
	if _, ok := r.disconnect(addr(1)); ok {
		t.Error("second disconnect matched")
	}

	next, _ := r.connect(addr(1))
	if next == id {
		t.Error("reconnect reused the old id")
	}
}

func TestLeader(t *testing.T) {
	var table conntable.Table
	if leader(&table) != conntable.Unused {
		t.Error("empty table has a leader")
	}
	table.Record(7)
	table.Record(3)
	table.Record(12)
	if got := leader(&table); got != 3 {
		t.Errorf("leader = %d, want 3", got)
	}
}
