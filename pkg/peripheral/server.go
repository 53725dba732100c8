package peripheral

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/message"
)

// Address is a 48-bit BLE device address, least significant byte first.
type Address [6]byte

func (a Address) String() string {
	const hex = "0123456789ABCDEF"
	buf := make([]byte, 0, 17)
	for i := len(a) - 1; i >= 0; i-- {
		buf = append(buf, hex[a[i]>>4], hex[a[i]&0x0F])
		if i > 0 {
			buf = append(buf, ':')
		}
	}
	return string(buf)
}

// ConnDesc describes an established connection.
type ConnDesc struct {
	Conn     conntable.ID
	Peer     Address
	Interval uint16
	Latency  uint16
	Timeout  uint16
}

// Radio is the part of the BLE stack the peripheral policy drives.
// Implementations must not call back into the Server synchronously.
type Radio interface {
	ResolveAddress() (Address, error)
	StartAdvertising() error
	DescribeConnection(conn conntable.ID) (ConnDesc, error)
}

// Status is a snapshot of the peripheral for diagnostics.
type Status struct {
	State   State
	Address Address
	Active  []conntable.ID
}

// Server applies radio events to the peripheral state and owns the only
// mutating access to the connection table.
type Server struct {
	radio  Radio
	table  *conntable.Table
	cell   *message.Cell
	policy Policy
	logger *slog.Logger

	// evMu serializes event handling, mu guards the snapshot fields.
	evMu  sync.Mutex
	mu    sync.Mutex
	state State
	addr  Address
}

// NewServer creates a Server in the idle state.
func NewServer(radio Radio, table *conntable.Table, cell *message.Cell, policy Policy, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		radio:  radio,
		table:  table,
		cell:   cell,
		policy: policy,
		logger: logger,
	}
}

// HandleEvent runs ev through Transition and applies the resulting effects.
// Fatal effects panic; everything else is logged.
func (s *Server) HandleEvent(ev Event) {
	s.evMu.Lock()
	defer s.evMu.Unlock()

	s.logEvent(ev)

	s.mu.Lock()
	next, effects := Transition(s.state, ev, s.policy)
	s.state = next
	s.mu.Unlock()

	for _, eff := range effects {
		s.apply(eff)
	}
}

func (s *Server) apply(eff Effect) {
	switch eff.Kind {
	case EffectResolveAddress:
		addr, err := s.radio.ResolveAddress()
		if err != nil {
			panic("peripheral: resolve own address: " + err.Error())
		}
		s.mu.Lock()
		s.addr = addr
		s.mu.Unlock()
		s.logger.Info("found device address", slog.String("addr", addr.String()))

	case EffectStartAdvertising:
		if err := s.radio.StartAdvertising(); err != nil {
			s.logger.Error("error enabling advertisement", slog.Any("err", err))
			s.mu.Lock()
			s.state.Advertising = false
			s.state = s.state.settle()
			s.mu.Unlock()
		}

	case EffectDescribeConnection:
		desc, err := s.radio.DescribeConnection(eff.Conn)
		if err != nil {
			panic(fmt.Sprintf("peripheral: describe connection %d: %v", eff.Conn, err))
		}
		s.logger.Info("conn desc",
			slog.Int("conn", int(desc.Conn)),
			slog.String("peer", desc.Peer.String()),
			slog.Int("interval", int(desc.Interval)),
			slog.Int("latency", int(desc.Latency)),
			slog.Int("timeout", int(desc.Timeout)),
		)

	case EffectRecordConnection:
		s.table.Record(eff.Conn)

	case EffectForgetConnection:
		s.table.Forget(eff.Conn)
	}
}

func (s *Server) logEvent(ev Event) {
	switch ev := ev.(type) {
	case Reset:
		s.logger.Info("resetting ble", slog.Int("reason", ev.Reason))
	case Synced:
		s.logger.Info("ble host synced")
	case Connected:
		outcome := "established"
		if ev.Status != StatusOK {
			outcome = "failed"
		}
		s.logger.Info("connection "+outcome, slog.Int("conn", int(ev.Conn)), slog.Int("status", ev.Status))
	case Disconnected:
		s.logger.Info("disconnect", slog.Int("conn", int(ev.Conn)), slog.Int("reason", ev.Reason))
	case ConnParamsUpdated:
		s.logger.Info("connection update", slog.Int("conn", int(ev.Conn)), slog.Int("status", ev.Status))
	case MTUChanged:
		s.logger.Info("mtu update",
			slog.Int("conn", int(ev.Conn)),
			slog.Int("channel_id", int(ev.ChannelID)),
			slog.Int("mtu", int(ev.MTU)),
		)
	case AdvertisingComplete:
		s.logger.Info("advertise complete", slog.Int("reason", ev.Reason))
	}
}

// Status returns the current peripheral snapshot.
func (s *Server) Status() Status {
	s.mu.Lock()
	st := Status{State: s.state, Address: s.addr}
	s.mu.Unlock()
	st.Active = s.table.Active()
	return st
}

// State returns the current peripheral state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attr identifies a characteristic value attribute of the display service.
type Attr uint16

const (
	// AttrIngest is the write-only characteristic clients send text to.
	AttrIngest Attr = iota + 1
	// AttrEgress is the read/notify characteristic used for notifications.
	AttrEgress
)

// AccessOp is a characteristic access operation.
type AccessOp uint8

const (
	OpRead AccessOp = iota
	OpWrite
)

// Access is one characteristic access request from the radio stack.
// CopyErr carries a failed copy out of the stack's buffer chain.
type Access struct {
	Op      AccessOp
	Conn    conntable.ID
	Attr    Attr
	Data    []byte
	CopyErr error
}

var (
	ErrBufferCopy  = errors.New("peripheral: could not copy access buffer")
	ErrUnknownAttr = errors.New("peripheral: write to unknown attribute")
)

// HandleAccess applies a characteristic access. A rejected write leaves the
// message cell untouched. The returned error is informational; callers at the
// radio boundary must not propagate it into the stack.
func (s *Server) HandleAccess(a Access) error {
	switch a.Op {
	case OpRead:
		s.logger.Info("callback for read", slog.Int("conn", int(a.Conn)), slog.Int("attr", int(a.Attr)))
		return nil

	case OpWrite:
		if a.CopyErr != nil {
			s.logger.Error("couldn't fetch buffer in write handler", slog.Any("err", a.CopyErr))
			return fmt.Errorf("%w: %v", ErrBufferCopy, a.CopyErr)
		}
		s.logger.Info("data received in write event",
			slog.Int("conn", int(a.Conn)),
			slog.Int("attr", int(a.Attr)),
			slog.Int("len", len(a.Data)),
		)
		if a.Attr != AttrIngest {
			return ErrUnknownAttr
		}
		text, err := message.Decode(a.Data)
		if err != nil {
			s.logger.Error("rejected message", slog.Any("err", err))
			return err
		}
		s.cell.Write(text)
		s.logger.Info("updated message", slog.String("text", text))
		return nil
	}

	return nil
}
