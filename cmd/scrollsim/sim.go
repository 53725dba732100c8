package main

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"

	"tinygo.org/x/tinyfs"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/display"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/firmware"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/peripheral"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/render"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/storage"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/uart"
)

var errAdvertise = errors.New("sim: advertising refused")

// Activity is one radio-side happening shown in the simulator log.
type Activity struct {
	Kind string
	Conn conntable.ID
	Info string
}

// simRadio stands in for the BLE stack.
type simRadio struct {
	failAdvertise atomic.Bool
	notified      atomic.Uint64

	activity chan Activity
}

func newSimRadio() *simRadio {
	return &simRadio{activity: make(chan Activity, 64)}
}

func (r *simRadio) report(a Activity) {
	select {
	case r.activity <- a:
	default:
	}
}

func (r *simRadio) ResolveAddress() (peripheral.Address, error) {
	return peripheral.Address{0x5C, 0x11, 0xD2, 0x00, 0xAD, 0xDE}, nil
}

func (r *simRadio) StartAdvertising() error {
	if r.failAdvertise.Load() {
		return errAdvertise
	}
	r.report(Activity{Kind: "adv", Info: "advertising"})
	return nil
}

func (r *simRadio) DescribeConnection(conn conntable.ID) (peripheral.ConnDesc, error) {
	return peripheral.ConnDesc{
		Conn:     conn,
		Peer:     peripheral.Address{byte(conn), byte(conn >> 8), 0, 0, 0x5C, 0xC0},
		Interval: 24,
		Timeout:  400,
	}, nil
}

func (r *simRadio) Notify(conn conntable.ID, attr uint16, payload []byte) error {
	r.notified.Add(1)
	r.report(Activity{Kind: "notify", Conn: conn, Info: fmt.Sprintf("% X", payload)})
	return nil
}

// frameTarget keeps the latest frame for the preview.
type frameTarget struct {
	mu    sync.Mutex
	frame [display.Pixels]color.RGBA
	count uint64
}

func (t *frameTarget) WriteColors(buf []color.RGBA) error {
	t.mu.Lock()
	copy(t.frame[:], buf)
	t.count++
	t.mu.Unlock()
	return nil
}

func (t *frameTarget) Snapshot() ([display.Pixels]color.RGBA, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame, t.count
}

// Sim is the firmware core wired to simulated hardware.
type Sim struct {
	Sys    *firmware.System
	Radio  *simRadio
	Source *uart.Source
	Target *frameTarget
	Store  *storage.Manager

	mu       sync.Mutex
	nextConn conntable.ID
}

// NewSim builds the firmware on an in-memory flash device.
func NewSim(cfg *SimConfig, logger *slog.Logger) (*Sim, error) {
	store, err := storage.New(tinyfs.NewMemoryDevice(256, 4096, 64), true)
	if err != nil {
		return nil, fmt.Errorf("sim: storage: %w", err)
	}
	if cfg.Sim.InitialMessage != "" {
		if err := store.Set(render.MessageKey, cfg.Sim.InitialMessage); err != nil {
			return nil, fmt.Errorf("sim: seed message: %w", err)
		}
	}

	s := &Sim{
		Radio:  newSimRadio(),
		Source: uart.NewSource(cfg.Sim.QueueLen),
		Target: &frameTarget{},
		Store:  store,
	}
	s.Radio.failAdvertise.Store(cfg.Sim.FailAdvertise)

	s.Sys, err = firmware.New(cfg.DeviceConfig(), firmware.Deps{
		Radio:  s.Radio,
		Source: s.Source,
		Target: s.Target,
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	s.Sys.Server.HandleEvent(peripheral.Synced{})
	return s, nil
}

// Run runs the firmware loops until ctx ends.
func (s *Sim) Run(ctx context.Context) error {
	return s.Sys.Run(ctx)
}

// Close releases the flash device.
func (s *Sim) Close() error {
	return s.Store.Close()
}

// Connect simulates a central connecting. ok is false when the peripheral
// is not advertising or every table slot is taken.
func (s *Sim) Connect() (conntable.ID, bool) {
	if !s.Sys.Server.State().Advertising {
		return conntable.Unused, false
	}

	s.mu.Lock()
	var used [conntable.Capacity]bool
	s.Sys.Table.ForEachActive(func(id conntable.ID) {
		used[int(id)%conntable.Capacity] = true
	})
	id := conntable.Unused
	for i := 0; i < conntable.Capacity; i++ {
		s.nextConn++
		if s.nextConn == conntable.Unused {
			s.nextConn++
		}
		if !used[int(s.nextConn)%conntable.Capacity] {
			id = s.nextConn
			break
		}
	}
	s.mu.Unlock()
	if id == conntable.Unused {
		return id, false
	}

	s.Sys.Server.HandleEvent(peripheral.Connected{Conn: id, Status: peripheral.StatusOK})
	s.Radio.report(Activity{Kind: "connect", Conn: id})
	return id, true
}

// Readvertise simulates the host reporting that advertising ended.
func (s *Sim) Readvertise() {
	s.Sys.Server.HandleEvent(peripheral.AdvertisingComplete{Reason: 0})
}

// ExchangeMTU simulates an MTU exchange on the oldest connection.
func (s *Sim) ExchangeMTU(mtu uint16) bool {
	active := s.Sys.Table.Active()
	if len(active) == 0 {
		return false
	}
	s.Sys.Server.HandleEvent(peripheral.MTUChanged{Conn: active[0], ChannelID: 4, MTU: mtu})
	return true
}

// DisconnectOldest drops the lowest active connection.
func (s *Sim) DisconnectOldest() (conntable.ID, bool) {
	active := s.Sys.Table.Active()
	if len(active) == 0 {
		return conntable.Unused, false
	}
	id := active[0]
	for _, a := range active[1:] {
		if a < id {
			id = a
		}
	}
	s.Sys.Server.HandleEvent(peripheral.Disconnected{Conn: id, Reason: 0x13})
	s.Radio.report(Activity{Kind: "disconnect", Conn: id})
	return id, true
}

// Write simulates a central writing text to the ingest characteristic.
func (s *Sim) Write(text string) error {
	var conn conntable.ID
	if active := s.Sys.Table.Active(); len(active) > 0 {
		conn = active[0]
	}
	err := s.Sys.Server.HandleAccess(peripheral.Access{
		Op:   peripheral.OpWrite,
		Conn: conn,
		Attr: peripheral.AttrIngest,
		Data: []byte(text),
	})
	info := fmt.Sprintf("%q", text)
	if err != nil {
		info = err.Error()
	}
	s.Radio.report(Activity{Kind: "write", Conn: conn, Info: info})
	return err
}

// Trigger simulates n bytes arriving on the trigger UART.
func (s *Sim) Trigger(n int) bool {
	return s.Source.Inject(n)
}

// SetFailAdvertise makes later advertising starts fail or succeed.
func (s *Sim) SetFailAdvertise(fail bool) {
	s.Radio.failAdvertise.Store(fail)
}

// ToggleAlert flips the alert glyph.
func (s *Sim) ToggleAlert() bool {
	on := !s.Sys.Alert.Load()
	s.Sys.Alert.Store(on)
	return on
}
