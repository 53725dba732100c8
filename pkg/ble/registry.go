// Package ble binds the peripheral core to the tinygo bluetooth stack.
//
// The stack reports connections by peer address and offers one broadcast
// notify per characteristic, so the adapter assigns its own connection ids
// and sends a single notification per fan-out.
package ble

import (
	"sync"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/peripheral"
)

// registry assigns connection ids to peers. Live ids never share a
// conntable slot.
type registry struct {
	mu     sync.Mutex
	byPeer map[peripheral.Address]conntable.ID
	peers  map[conntable.ID]peripheral.Address
	next   conntable.ID
}

func newRegistry() *registry {
	return &registry{
		byPeer: make(map[peripheral.Address]conntable.ID),
		peers:  make(map[conntable.ID]peripheral.Address),
		next:   1,
	}
}

// connect returns the id for peer, allocating one on first sight. ok is false
// when every slot is taken.
func (r *registry) connect(peer peripheral.Address) (conntable.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPeer[peer]; ok {
		return id, true
	}

	var used [conntable.Capacity]bool
	for id := range r.peers {
		used[int(id)%conntable.Capacity] = true
	}
	for i := 0; i < 1<<16; i++ {
		id := r.next
		r.next++
		if r.next == conntable.Unused {
			r.next = 1
		}
		if id == conntable.Unused || used[int(id)%conntable.Capacity] {
			continue
		}
		r.byPeer[peer] = id
		r.peers[id] = peer
		return id, true
	}
	return conntable.Unused, false
}

// disconnect unmaps peer so a reconnect gets a fresh id. The id stays
// describable until release.
func (r *registry) disconnect(peer peripheral.Address) (conntable.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPeer[peer]
	if ok {
		delete(r.byPeer, peer)
	}
	return id, ok
}

// release frees id after its disconnect has been handled.
func (r *registry) release(id conntable.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if peer, ok := r.peers[id]; ok {
		if r.byPeer[peer] == id {
			return
		}
		delete(r.peers, id)
	}
}

func (r *registry) peer(id conntable.ID) (peripheral.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	return p, ok
}

// leader is the lowest active id; it alone triggers the broadcast notify.
func leader(table *conntable.Table) conntable.ID {
	lead := conntable.Unused
	table.ForEachActive(func(id conntable.ID) {
		if lead == conntable.Unused || id < lead {
			lead = id
		}
	})
	return lead
}
