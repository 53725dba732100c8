// Package peripheral implements the BLE peripheral policy for the display.
//
// Transition is a pure function from (State, Event) to the next State and the
// Effects the boundary must carry out. Server is that boundary: it feeds
// radio events through Transition, applies the effects against a Radio and
// the connection table, and handles characteristic access.
package peripheral

import "github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"

// Phase is the coarse peripheral state.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseAdvertising
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAdvertising:
		return "advertising"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// State is the peripheral state. In multi-connection mode a peripheral can be
// connected and advertising at the same time.
type State struct {
	Phase       Phase
	Advertising bool
	Connections int
}

// settle derives Phase from the advertising flag and connection count.
func (s State) settle() State {
	switch {
	case s.Connections > 0:
		s.Phase = PhaseConnected
	case s.Advertising:
		s.Phase = PhaseAdvertising
	default:
		s.Phase = PhaseIdle
	}
	return s
}

// Policy holds the connection limits the transitions depend on.
type Policy struct {
	MaxConnections int
}

func (p Policy) multi() bool {
	return p.MaxConnections > 1
}

// StatusOK is the HCI success status.
const StatusOK = 0

// Event is a radio stack event.
type Event interface {
	event()
}

// Reset reports that the radio host reset itself.
type Reset struct {
	Reason int
}

// Synced reports that the radio host and controller are in sync and the
// identity address can be resolved.
type Synced struct{}

// Connected reports the outcome of a connection attempt.
type Connected struct {
	Conn   conntable.ID
	Status int
}

// Disconnected reports the end of a connection.
type Disconnected struct {
	Conn   conntable.ID
	Reason int
}

// ConnParamsUpdated reports a connection parameter update.
type ConnParamsUpdated struct {
	Conn   conntable.ID
	Status int
}

// MTUChanged reports an ATT MTU negotiation result.
type MTUChanged struct {
	Conn      conntable.ID
	ChannelID uint16
	MTU       uint16
}

// AdvertisingComplete reports that an advertising window ended without a
// connection.
type AdvertisingComplete struct {
	Reason int
}

func (Reset) event()               {}
func (Synced) event()              {}
func (Connected) event()           {}
func (Disconnected) event()        {}
func (ConnParamsUpdated) event()   {}
func (MTUChanged) event()          {}
func (AdvertisingComplete) event() {}

// EffectKind names an action the boundary must perform.
type EffectKind uint8

const (
	// EffectResolveAddress resolves the identity address. Failure is fatal.
	EffectResolveAddress EffectKind = iota
	// EffectStartAdvertising (re)starts connectable advertising.
	EffectStartAdvertising
	// EffectDescribeConnection looks up a just-established connection.
	// Failure is fatal.
	EffectDescribeConnection
	// EffectRecordConnection adds Conn to the connection table.
	EffectRecordConnection
	// EffectForgetConnection clears Conn from the connection table.
	EffectForgetConnection
)

func (k EffectKind) String() string {
	switch k {
	case EffectResolveAddress:
		return "resolve-address"
	case EffectStartAdvertising:
		return "start-advertising"
	case EffectDescribeConnection:
		return "describe-connection"
	case EffectRecordConnection:
		return "record-connection"
	case EffectForgetConnection:
		return "forget-connection"
	default:
		return "unknown"
	}
}

// Effect is one action produced by Transition.
type Effect struct {
	Kind EffectKind
	Conn conntable.ID
}

// Transition computes the next state and the effects for ev.
func Transition(s State, ev Event, p Policy) (State, []Effect) {
	var effects []Effect
	advertise := func() {
		s.Advertising = true
		effects = append(effects, Effect{Kind: EffectStartAdvertising})
	}

	switch ev := ev.(type) {
	case Reset:
		s = State{}

	case Synced:
		effects = append(effects, Effect{Kind: EffectResolveAddress})
		advertise()

	case Connected:
		if ev.Status == StatusOK {
			s.Connections++
			effects = append(effects,
				Effect{Kind: EffectDescribeConnection, Conn: ev.Conn},
				Effect{Kind: EffectRecordConnection, Conn: ev.Conn},
			)
		}
		if ev.Status != StatusOK || p.multi() {
			advertise()
		} else {
			// The stack stops advertising once the only allowed link is up.
			s.Advertising = false
		}

	case Disconnected:
		if s.Connections > 0 {
			s.Connections--
		}
		effects = append(effects, Effect{Kind: EffectForgetConnection, Conn: ev.Conn})
		advertise()

	case AdvertisingComplete:
		advertise()

	case ConnParamsUpdated, MTUChanged:
		// informational
	}

	return s.settle(), effects
}
