// Package firmware owns the process-wide objects: it builds the message cell,
// connection table, peripheral server, notification bridge and renderer once
// from the device config and runs their loops until the context ends.
package firmware

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/config"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/display"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/message"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/notify"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/peripheral"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/render"
)

// Radio is the BLE stack: the peripheral policy drives it and the bridge
// notifies through it.
type Radio interface {
	peripheral.Radio
	notify.Notifier
}

// Deps are the hardware collaborators.
type Deps struct {
	Radio  Radio
	Source notify.Source
	Target render.Target
	Store  render.Store
	// Table is shared with the radio when it needs one; nil makes a new one.
	Table  *conntable.Table
	Logger *slog.Logger
}

// Runner is a long-lived loop started by Run.
type Runner func(ctx context.Context) error

// System is the wired firmware.
type System struct {
	Config config.DeviceConfig
	Cell   *message.Cell
	Table  *conntable.Table
	Alert  *atomic.Bool
	Server *peripheral.Server
	Bridge *notify.Bridge
	Loop   *render.Loop

	logger *slog.Logger
}

// New validates cfg and builds the system. The renderer loads the persisted
// message from deps.Store here.
func New(cfg config.DeviceConfig, deps Deps) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &System{
		Config: cfg,
		Cell:   &message.Cell{},
		Table:  deps.Table,
		Alert:  &atomic.Bool{},
		logger: logger,
	}
	if s.Table == nil {
		s.Table = &conntable.Table{}
	}
	s.Alert.Store(cfg.Has(config.FlagAlertOnBoot))

	s.Server = peripheral.NewServer(deps.Radio, s.Table, s.Cell,
		peripheral.Policy{MaxConnections: int(cfg.MaxConnections)},
		logger.With(slog.String("component", "peripheral")))

	s.Bridge = notify.NewBridge(deps.Source, s.Table, deps.Radio,
		uint16(peripheral.AttrEgress), cfg.NotifyByte,
		logger.With(slog.String("component", "notify")))

	s.Loop = render.NewLoop(deps.Target, s.Cell, deps.Store, s.Alert, render.Options{
		Width:       display.Width,
		Height:      display.Height,
		FramePeriod: cfg.FramePeriod(),
		Brightness:  cfg.Brightness,
	}, logger.With(slog.String("component", "render")))

	return s, nil
}

// Run starts the bridge, the renderer and every extra runner, and blocks
// until ctx is done or one of them fails. The first error is returned after
// all runners have stopped.
func (s *System) Run(ctx context.Context, extra ...Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runners := append([]Runner{s.Bridge.Run, s.Loop.Run}, extra...)
	errs := make(chan error, len(runners))

	var wg sync.WaitGroup
	for _, run := range runners {
		wg.Add(1)
		go func(run Runner) {
			defer wg.Done()
			errs <- run(ctx)
		}(run)
	}

	s.logger.Info("firmware running", slog.Int("tasks", len(runners)))

	var first error
	select {
	case <-ctx.Done():
		first = ctx.Err()
	case first = <-errs:
		if first == nil {
			// A source that closes stops the bridge cleanly; keep going.
			first = s.waitRest(ctx, errs, len(runners)-1)
		}
	}
	cancel()
	wg.Wait()
	return first
}

// waitRest waits for the next non-nil error among the remaining runners.
func (s *System) waitRest(ctx context.Context, errs <-chan error, left int) error {
	for ; left > 0; left-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err != nil {
				return err
			}
		}
	}
	<-ctx.Done()
	return ctx.Err()
}
