package serial

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Default port settings recognised by both supported devices.
const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultParity   = ParityNone

	// DefaultWeightCeiling is the exclusive upper bound for accepted scale readings, in kg.
	DefaultWeightCeiling = 2000.0

	// DefaultBufferLimit bounds an unterminated frame, in bytes.
	DefaultBufferLimit = 200

	// DefaultEventQueue is the per-subscriber queue length.
	DefaultEventQueue = 64
)

// Parity names accepted in PortConfig.
const (
	ParityNone = "none"
	ParityOdd  = "odd"
	ParityEven = "even"
)

// Driver names accepted in PortConfig.
const (
	DriverAuto     = ""
	DriverRaw      = "raw"
	DriverPortable = "portable"
)

// PortConfig holds the settings used to open one device. It is supplied at
// connect time and never persisted by this package.
type PortConfig struct {
	Device   string `yaml:"device" toml:"device"`
	BaudRate int    `yaml:"baud_rate" toml:"baud_rate"`
	DataBits int    `yaml:"data_bits" toml:"data_bits"`
	StopBits int    `yaml:"stop_bits" toml:"stop_bits"`
	Parity   string `yaml:"parity" toml:"parity"`
	Driver   string `yaml:"driver" toml:"driver"`

	// USB IDs (hex, e.g. "0403") used to find the device when Device is empty.
	USBVendorID  string `yaml:"usb_vid" toml:"usb_vid"`
	USBProductID string `yaml:"usb_pid" toml:"usb_pid"`
}

// DefaultPortConfig returns 9600 baud, 8 data bits, 1 stop bit, no parity.
func DefaultPortConfig() PortConfig {
	return PortConfig{
		BaudRate: DefaultBaudRate,
		DataBits: DefaultDataBits,
		StopBits: DefaultStopBits,
		Parity:   DefaultParity,
	}
}

// WithDefaults fills zero fields from DefaultPortConfig.
func (c PortConfig) WithDefaults() PortConfig {
	def := DefaultPortConfig()
	if c.BaudRate == 0 {
		c.BaudRate = def.BaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = def.DataBits
	}
	if c.StopBits == 0 {
		c.StopBits = def.StopBits
	}
	c.Parity = strings.ToLower(strings.TrimSpace(c.Parity))
	if c.Parity == "" {
		c.Parity = def.Parity
	}
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	c.Device = strings.TrimSpace(c.Device)
	return c
}

// Validate reports settings no driver can apply.
func (c PortConfig) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidConfig, c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidConfig, c.StopBits)
	}
	switch c.Parity {
	case ParityNone, ParityOdd, ParityEven:
	default:
		return fmt.Errorf("%w: parity %q", ErrInvalidConfig, c.Parity)
	}
	switch c.Driver {
	case DriverAuto, DriverRaw, DriverPortable:
	default:
		return fmt.Errorf("%w: driver %q", ErrInvalidConfig, c.Driver)
	}
	return nil
}

// Config is the file layout read by LoadConfig.
type Config struct {
	Scanner       PortConfig `yaml:"scanner" toml:"scanner"`
	Scale         PortConfig `yaml:"scale" toml:"scale"`
	WeightCeiling float64    `yaml:"weight_ceiling" toml:"weight_ceiling"`
	BufferLimit   int        `yaml:"buffer_limit" toml:"buffer_limit"`
	EventQueue    int        `yaml:"event_queue" toml:"event_queue"`
	Listen        string     `yaml:"listen" toml:"listen"`
}

// LoadConfig reads a YAML config file, or TOML when path ends in .toml, and
// applies defaults to every zero field.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(b, &cfg)
	} else {
		err = yaml.Unmarshal(b, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Scanner.Validate(); err != nil {
		return nil, fmt.Errorf("scanner: %w", err)
	}
	if err := cfg.Scale.Validate(); err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}
	if cfg.WeightCeiling <= 0 {
		return nil, fmt.Errorf("%w: weight ceiling %v", ErrInvalidConfig, cfg.WeightCeiling)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Scanner = c.Scanner.WithDefaults()
	c.Scale = c.Scale.WithDefaults()
	if c.WeightCeiling == 0 {
		c.WeightCeiling = DefaultWeightCeiling
	}
	if c.BufferLimit <= 0 {
		c.BufferLimit = DefaultBufferLimit
	}
	if c.EventQueue <= 0 {
		c.EventQueue = DefaultEventQueue
	}
	if c.Listen == "" {
		c.Listen = ":8090"
	}
}
