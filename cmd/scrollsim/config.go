package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tuffrabit/tinygo-ledscroll/pkg/config"
)

// ConfigFile is the default simulator config file name.
const ConfigFile = "scrollsim.toml"

// SimConfig is the top-level scrollsim.toml configuration.
type SimConfig struct {
	Device DeviceSection `toml:"device"`
	Sim    SimSection    `toml:"sim"`
}

// DeviceSection mirrors the persisted device config.
type DeviceSection struct {
	Brightness     int  `toml:"brightness"`
	FrameMs        int  `toml:"frame_ms"`
	NotifyByte     int  `toml:"notify_byte"`
	MaxConnections int  `toml:"max_connections"`
	Serpentine     bool `toml:"serpentine"`
	AlertOnBoot    bool `toml:"alert_on_boot"`
}

// SimSection holds simulator-only options.
type SimSection struct {
	InitialMessage string `toml:"initial_message"`
	LogFile        string `toml:"log_file"`
	QueueLen       int    `toml:"queue_len"`
	FailAdvertise  bool   `toml:"fail_advertise"`
}

// Defaults returns the simulator defaults, matching the firmware defaults.
func Defaults() SimConfig {
	d := config.Default()
	return SimConfig{
		Device: DeviceSection{
			Brightness:     int(d.Brightness),
			FrameMs:        int(d.FrameMs),
			NotifyByte:     int(d.NotifyByte),
			MaxConnections: int(d.MaxConnections),
		},
		Sim: SimSection{
			LogFile:  "scrollsim.log",
			QueueLen: 10,
		},
	}
}

// Validate returns every problem found, joined.
func (c *SimConfig) Validate() error {
	var errs []error

	if c.Device.Brightness < 0 || c.Device.Brightness > 255 {
		errs = append(errs, fmt.Errorf("device.brightness must be 0-255"))
	}
	if c.Device.FrameMs < config.MinFrameMs || c.Device.FrameMs > 255 {
		errs = append(errs, fmt.Errorf("device.frame_ms must be %d-255", config.MinFrameMs))
	}
	if c.Device.NotifyByte < 0 || c.Device.NotifyByte > 255 {
		errs = append(errs, fmt.Errorf("device.notify_byte must be 0-255"))
	}
	if c.Device.MaxConnections < 1 || c.Device.MaxConnections > config.MaxConnectionsCap {
		errs = append(errs, fmt.Errorf("device.max_connections must be 1-%d", config.MaxConnectionsCap))
	}
	if c.Sim.QueueLen < 1 {
		errs = append(errs, fmt.Errorf("sim.queue_len must be >= 1"))
	}

	return errors.Join(errs...)
}

// DeviceConfig converts the device section to the firmware record.
func (c *SimConfig) DeviceConfig() config.DeviceConfig {
	d := config.DeviceConfig{
		Version:        config.CurrentVersion,
		Brightness:     uint8(c.Device.Brightness),
		FrameMs:        uint8(c.Device.FrameMs),
		NotifyByte:     uint8(c.Device.NotifyByte),
		MaxConnections: uint8(c.Device.MaxConnections),
	}
	if c.Device.Serpentine {
		d.Flags |= config.FlagSerpentine
	}
	if c.Device.AlertOnBoot {
		d.Flags |= config.FlagAlertOnBoot
	}
	return d
}

// LoadConfig reads path over the defaults. An empty path loads
// scrollsim.toml from the working directory when present and the defaults
// otherwise. Unknown keys are an error.
func LoadConfig(path string) (*SimConfig, error) {
	cfg := Defaults()

	if path == "" {
		if _, err := os.Stat(ConfigFile); err != nil {
			return &cfg, nil
		}
		path = ConfigFile
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s (possible typos?)", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// InitConfig writes the defaults to dir/scrollsim.toml.
func InitConfig(dir string) (string, error) {
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config: %s already exists", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString("# scrollsim.toml: LED scroller simulator configuration\n\n"); err != nil {
		return "", err
	}
	if err := toml.NewEncoder(f).Encode(Defaults()); err != nil {
		return "", fmt.Errorf("config: encode %s: %w", path, err)
	}
	return path, nil
}
