//go:build rp2040 || rp2350

package main

import (
	"context"
	"errors"
	"log/slog"
	"machine"
	"strconv"
	"strings"
	"time"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/ble"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/config"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/conntable"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/display"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/firmware"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/protocol"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/storage"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/uart"
	"github.com/tuffrabit/tinygo-ledscroll/serial"
)

// version is set at build time via -ldflags "-X main.version=1.2".
var version = "1.0"

// matrixPin drives the WS2812 data line.
const matrixPin = machine.GP16

// MAIN THREAD DUTIES
//
// Build the long-lived objects once, then run the radio, trigger UART,
// renderer and console loops until one of them fails.

func main() {
	logger := slog.New(slog.NewTextHandler(machine.DefaultUART, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	store, err := storage.New(machine.Flash, true)
	if err != nil {
		printErrForever(logger, "mount storage", slog.Any("err", err))
	}
	if store.Wiped() {
		logger.Warn("storage version changed, stored state erased")
	}

	cfg := firmware.BootConfig(store, logger)

	table := &conntable.Table{}
	source := uart.NewSource(uart.QueueLen)
	radio := ble.New(table, logger.With(slog.String("component", "ble")))

	sys, err := firmware.New(cfg, firmware.Deps{
		Radio:  radio,
		Source: source,
		Target: display.NewMatrix(matrixPin, cfg.Has(config.FlagSerpentine)),
		Store:  store,
		Table:  table,
		Logger: logger,
	})
	if err != nil {
		printErrForever(logger, "build firmware", slog.Any("err", err))
	}

	radio.Bind(sys.Server)
	if err := radio.Enable(); err != nil {
		printErrForever(logger, "enable radio", slog.Any("err", err))
	}

	major, minor := parseVersion(version)
	console := serial.NewSerial(machine.Serial, protocol.NewHandler(protocol.Deps{
		Storage: store,
		Cell:    sys.Cell,
		Alert:   sys.Alert,
		Status:  sys.Server,
		Major:   major,
		Minor:   minor,
		Logger:  logger.With(slog.String("component", "console")),
	}), logger.With(slog.String("component", "console")))

	listen := func(ctx context.Context) error {
		return uart.Listen(ctx, source, logger.With(slog.String("component", "uart")))
	}

	err = sys.Run(context.Background(), radio.Run, listen, console.Run)
	if err != nil && !errors.Is(err, context.Canceled) {
		printErrForever(logger, "firmware stopped", slog.Any("err", err))
	}
}

func parseVersion(v string) (major, minor uint8) {
	majStr, rest, _ := strings.Cut(strings.TrimPrefix(v, "v"), ".")
	if n, err := strconv.ParseUint(majStr, 10, 8); err == nil {
		major = uint8(n)
	}
	minStr, _, _ := strings.Cut(rest, ".")
	if n, err := strconv.ParseUint(minStr, 10, 8); err == nil {
		minor = uint8(n)
	}
	return major, minor
}

func printErrForever(logger *slog.Logger, msg string, args ...any) {
	for {
		logger.Error(msg, args...)
		time.Sleep(time.Second)
	}
}
