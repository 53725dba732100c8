package peripheral

import (
	"testing"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
)

var (
	single = Policy{MaxConnections: 1}
	multi  = Policy{MaxConnections: 3}
)

func hasEffect(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestSyncedStartsAdvertising(t *testing.T) {
	next, effects := Transition(State{}, Synced{}, single)

	if next.Phase != PhaseAdvertising || !next.Advertising {
		t.Fatalf("expected advertising, got %+v", next)
	}
	if len(effects) != 2 || effects[0].Kind != EffectResolveAddress || effects[1].Kind != EffectStartAdvertising {
		t.Fatalf("expected resolve then advertise, got %v", effects)
	}
}

func TestConnectSingleStopsAdvertising(t *testing.T) {
	s, _ := Transition(State{}, Synced{}, single)
	next, effects := Transition(s, Connected{Conn: 1, Status: StatusOK}, single)

	if next.Phase != PhaseConnected || next.Connections != 1 {
		t.Fatalf("expected connected with 1 link, got %+v", next)
	}
	if next.Advertising {
		t.Error("single-connection mode kept advertising")
	}
	if hasEffect(effects, EffectStartAdvertising) {
		t.Error("single-connection mode restarted advertising")
	}
	if !hasEffect(effects, EffectDescribeConnection) || !hasEffect(effects, EffectRecordConnection) {
		t.Errorf("expected describe and record effects, got %v", effects)
	}
}

func TestConnectMultiKeepsAdvertising(t *testing.T) {
	s, _ := Transition(State{}, Synced{}, multi)
	next, effects := Transition(s, Connected{Conn: 1, Status: StatusOK}, multi)

	if next.Phase != PhaseConnected || !next.Advertising {
		t.Fatalf("expected connected and advertising, got %+v", next)
	}
	if !hasEffect(effects, EffectStartAdvertising) {
		t.Error("multi-connection mode did not restart advertising")
	}
}

func TestFailedConnectReadvertises(t *testing.T) {
	for _, p := range []Policy{single, multi} {
		s, _ := Transition(State{}, Synced{}, p)
		next, effects := Transition(s, Connected{Conn: 1, Status: 0x3E}, p)

		if next.Connections != 0 || next.Phase != PhaseAdvertising {
			t.Errorf("policy %+v: expected advertising with no links, got %+v", p, next)
		}
		if !hasEffect(effects, EffectStartAdvertising) {
			t.Errorf("policy %+v: failed connect did not re-advertise", p)
		}
		if hasEffect(effects, EffectRecordConnection) || hasEffect(effects, EffectDescribeConnection) {
			t.Errorf("policy %+v: failed connect touched the table: %v", p, effects)
		}
	}
}

func TestDisconnectRestartsAdvertising(t *testing.T) {
	s, _ := Transition(State{}, Synced{}, single)
	s, _ = Transition(s, Connected{Conn: 1, Status: StatusOK}, single)
	next, effects := Transition(s, Disconnected{Conn: 1, Reason: 0x13}, single)

	if next.Phase != PhaseAdvertising || !next.Advertising || next.Connections != 0 {
		t.Fatalf("expected advertising after disconnect, got %+v", next)
	}
	if !hasEffect(effects, EffectStartAdvertising) {
		t.Error("disconnect did not restart advertising")
	}
	if !hasEffect(effects, EffectForgetConnection) {
		t.Error("disconnect did not forget the connection")
	}
}

func TestDisconnectOneOfTwoStaysConnected(t *testing.T) {
	s, _ := Transition(State{}, Synced{}, multi)
	s, _ = Transition(s, Connected{Conn: 3, Status: StatusOK}, multi)
	s, _ = Transition(s, Connected{Conn: 7, Status: StatusOK}, multi)
	next, _ := Transition(s, Disconnected{Conn: 3}, multi)

	if next.Phase != PhaseConnected || next.Connections != 1 {
		t.Fatalf("expected one remaining link, got %+v", next)
	}
}

func TestDisconnectNeverGoesNegative(t *testing.T) {
	next, _ := Transition(State{}, Disconnected{Conn: 9}, single)
	if next.Connections != 0 {
		t.Errorf("Connections = %d", next.Connections)
	}
}

func TestAdvertisingCompleteRetries(t *testing.T) {
	s, _ := Transition(State{}, Synced{}, single)
	for i := 0; i < 3; i++ {
		var effects []Effect
		s, effects = Transition(s, AdvertisingComplete{Reason: 13}, single)
		if !hasEffect(effects, EffectStartAdvertising) || s.Phase != PhaseAdvertising {
			t.Fatalf("retry %d: expected advertising restart, got %+v %v", i, s, effects)
		}
	}
}

func TestInformationalEventsChangeNothing(t *testing.T) {
	s, _ := Transition(State{}, Synced{}, multi)
	s, _ = Transition(s, Connected{Conn: 1, Status: StatusOK}, multi)

	for _, ev := range []Event{
		ConnParamsUpdated{Conn: 1, Status: StatusOK},
		MTUChanged{Conn: 1, ChannelID: 4, MTU: 247},
	} {
		next, effects := Transition(s, ev, multi)
		if next != s {
			t.Errorf("%T changed state: %+v -> %+v", ev, s, next)
		}
		if len(effects) != 0 {
			t.Errorf("%T produced effects: %v", ev, effects)
		}
	}
}

func TestResetDropsToIdle(t *testing.T) {
	s, _ := Transition(State{}, Synced{}, multi)
	s, _ = Transition(s, Connected{Conn: 1, Status: StatusOK}, multi)
	next, effects := Transition(s, Reset{Reason: 1}, multi)

	if next != (State{Phase: PhaseIdle}) {
		t.Errorf("expected idle, got %+v", next)
	}
	if len(effects) != 0 {
		t.Errorf("reset produced effects: %v", effects)
	}
}

func TestEffectCarriesConn(t *testing.T) {
	_, effects := Transition(State{}, Connected{Conn: conntable.ID(42), Status: StatusOK}, single)
	for _, e := range effects {
		if (e.Kind == EffectRecordConnection || e.Kind == EffectDescribeConnection) && e.Conn != 42 {
			t.Errorf("%v carried conn %d", e.Kind, e.Conn)
		}
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseAdvertising.String() != "advertising" || Phase(99).String() != "unknown" {
		t.Error("unexpected Phase strings")
	}
}
