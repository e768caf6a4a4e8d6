package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"inkpanel/internal/eeprom"
	"inkpanel/internal/link"
	appLog "inkpanel/internal/log"
	"inkpanel/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// Panel sources.
const (
	SourceEEPROM = "eeprom"
	SourceStatic = "static"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// PanelConfig says how the panel descriptor is obtained.
type PanelConfig struct {
	// Source is "eeprom" (read the board's identification EEPROM) or
	// "static" (use Family/Width/Height below).
	Source string `yaml:"source" json:"source"`

	// I2CBus is the periph bus name; empty selects the default bus.
	I2CBus  string `yaml:"i2c_bus" json:"i2c_bus"`
	I2CAddr uint16 `yaml:"i2c_addr" json:"i2c_addr"`

	// Family is "e673" or "what"; only used by the static source.
	Family string `yaml:"family,omitempty" json:"family,omitempty"`
	Width  int    `yaml:"width,omitempty" json:"width,omitempty"`
	Height int    `yaml:"height,omitempty" json:"height,omitempty"`
}

// HardwareConfig is the SPI port and control line wiring.
type HardwareConfig struct {
	SPIPort string `yaml:"spi_port" json:"spi_port"`
	// SPIHz is the bus clock in hertz.
	SPIHz       int64  `yaml:"spi_hz" json:"spi_hz"`
	MaxTransfer int    `yaml:"max_transfer" json:"max_transfer"`
	ResetPin    string `yaml:"reset_pin" json:"reset_pin"`
	DCPin       string `yaml:"dc_pin" json:"dc_pin"`
	CSPin       string `yaml:"cs_pin" json:"cs_pin"`
	BusyPin     string `yaml:"busy_pin" json:"busy_pin"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a standard 5-field cron schedule (e.g. "0 */6 * * *")
	// for re-rendering the canvas. "off" disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Panel    PanelConfig    `yaml:"panel" json:"panel"`
	Hardware HardwareConfig `yaml:"hardware" json:"hardware"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.RefreshCron == "" {
		// E-paper refreshes are slow and wear the panel; a few a day.
		c.RefreshCron = "0 */6 * * *"
	}

	p := &c.Panel
	if p.Source == "" {
		p.Source = SourceEEPROM
	}
	if p.I2CAddr == 0 {
		p.I2CAddr = eeprom.DefaultAddr
	}

	def := link.DefaultConfig
	h := &c.Hardware
	if h.SPIPort == "" {
		h.SPIPort = def.Port
	}
	if h.SPIHz <= 0 {
		h.SPIHz = int64(def.Speed / physic.Hertz)
	}
	if h.MaxTransfer <= 0 {
		h.MaxTransfer = def.MaxTransfer
	}
	if h.ResetPin == "" {
		h.ResetPin = def.Pins.Reset
	}
	if h.DCPin == "" {
		h.DCPin = def.Pins.DC
	}
	if h.CSPin == "" {
		h.CSPin = def.Pins.CS
	}
	if h.BusyPin == "" {
		h.BusyPin = def.Pins.Busy
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if c.RefreshCron != "off" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
		}
	}
	switch c.Panel.Source {
	case SourceEEPROM:
	case SourceStatic:
		if _, err := model.ParseFamily(c.Panel.Family); err != nil {
			return fmt.Errorf("config: panel.family: %w", err)
		}
		if c.Panel.Width <= 0 || c.Panel.Height <= 0 {
			return fmt.Errorf("config: static panel needs width and height, got %dx%d", c.Panel.Width, c.Panel.Height)
		}
	default:
		return fmt.Errorf("config: panel.source %q is neither %q nor %q", c.Panel.Source, SourceEEPROM, SourceStatic)
	}
	return nil
}

// RefreshEnabled reports whether a periodic re-render is configured.
func (c *Config) RefreshEnabled() bool {
	return c.RefreshCron != "off"
}

// LinkConfig converts the hardware section for link.Open.
func (c *Config) LinkConfig() link.Config {
	h := c.Hardware
	return link.Config{
		Port:  h.SPIPort,
		Speed: physic.Frequency(h.SPIHz) * physic.Hertz,
		Mode:  spi.Mode0,
		Pins: link.Pins{
			Reset: h.ResetPin,
			DC:    h.DCPin,
			CS:    h.CSPin,
			Busy:  h.BusyPin,
		},
		MaxTransfer: h.MaxTransfer,
	}
}

// Provider returns the descriptor provider selected by the panel section.
func (c *Config) Provider() (eeprom.Provider, error) {
	p := c.Panel
	switch p.Source {
	case SourceEEPROM:
		return eeprom.NewI2C(p.I2CBus, p.I2CAddr), nil
	case SourceStatic:
		f, err := model.ParseFamily(p.Family)
		if err != nil {
			return nil, fmt.Errorf("config: panel.family: %w", err)
		}
		return eeprom.NewStatic(model.Descriptor{
			Variant: f.DefaultVariant(),
			Width:   p.Width,
			Height:  p.Height,
		}), nil
	default:
		return nil, fmt.Errorf("config: panel.source %q is neither %q nor %q", p.Source, SourceEEPROM, SourceStatic)
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				appLog.Warn("could not write default config", "path", path, "err", err)
				return cfg, err
			}
			appLog.Info("wrote default config", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config: path is empty")
	}
	if cfg == nil {
		return errors.New("config: nil config")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".inkpanel-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
