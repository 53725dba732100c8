package firmware

import (
	"errors"
	"log/slog"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/config"
	"github.com/tuffrabit/tinygo-ledscroll/pkg/storage"
)

// ConfigStore persists the device config. *storage.Manager satisfies it.
type ConfigStore interface {
	LoadDevice(cfg *config.DeviceConfig) error
	SaveDevice(cfg *config.DeviceConfig) error
}

// BootConfig returns the stored device config when it is present and valid.
// Otherwise it returns config.Default() and writes the defaults back, so a
// bad record never keeps the device from reaching its console.
func BootConfig(store ConfigStore, logger *slog.Logger) config.DeviceConfig {
	if logger == nil {
		logger = slog.Default()
	}

	var cfg config.DeviceConfig
	err := store.LoadDevice(&cfg)
	if err == nil {
		err = cfg.Validate()
	}
	if err == nil {
		return cfg
	}

	if errors.Is(err, storage.ErrNotFound) {
		logger.Info("no stored config, saving defaults")
	} else {
		logger.Error("stored config unusable, using defaults", slog.Any("err", err))
	}
	def := config.Default()
	if err := store.SaveDevice(&def); err != nil {
		logger.Error("failed to save default config", slog.Any("err", err))
	}
	return def
}
