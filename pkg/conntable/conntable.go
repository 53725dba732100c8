// Package conntable tracks the BLE connections that receive notifications.
//
// The table has one writer (the radio event path) and any number of readers
// (the notification bridge). Slots are atomics so a reader scanning during a
// concurrent insert sees either the old or the new id, never a torn value.
package conntable

import "sync/atomic"

// Capacity is the number of slots. Ids are placed at id % Capacity.
const Capacity = 8

// ID is a radio connection handle. Zero marks an unused slot.
type ID uint16

// Unused is the empty-slot sentinel.
const Unused ID = 0

// Table is a fixed-capacity connection table.
// The zero value is an empty table.
type Table struct {
	slots [Capacity]atomic.Uint32
}

// Record stores id in its slot, replacing whatever was there.
// Recording Unused is a no-op.
func (t *Table) Record(id ID) {
	if id == Unused {
		return
	}
	t.slots[int(id)%Capacity].Store(uint32(id))
}

// Forget clears id's slot if it still holds id.
func (t *Table) Forget(id ID) {
	if id == Unused {
		return
	}
	t.slots[int(id)%Capacity].CompareAndSwap(uint32(id), uint32(Unused))
}

// ForEachActive calls f for every recorded id in slot order.
func (t *Table) ForEachActive(f func(ID)) {
	for i := range t.slots {
		if id := ID(t.slots[i].Load()); id != Unused {
			f(id)
		}
	}
}

// Active returns the recorded ids in slot order.
func (t *Table) Active() []ID {
	var ids []ID
	t.ForEachActive(func(id ID) {
		ids = append(ids, id)
	})
	return ids
}

// Len returns the number of occupied slots.
func (t *Table) Len() int {
	n := 0
	t.ForEachActive(func(ID) { n++ })
	return n
}
