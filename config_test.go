package serial

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "serial.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
scanner:
  device: /dev/rfcomm0
scale:
  usb_vid: "067b"
  usb_pid: "2303"
  driver: portable
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "/dev/rfcomm0", cfg.Scanner.Device)
	require.Equal(t, 9600, cfg.Scanner.BaudRate)
	require.Equal(t, 8, cfg.Scanner.DataBits)
	require.Equal(t, 1, cfg.Scanner.StopBits)
	require.Equal(t, ParityNone, cfg.Scanner.Parity)
	require.Equal(t, DriverAuto, cfg.Scanner.Driver)

	require.Equal(t, "067b", cfg.Scale.USBVendorID)
	require.Equal(t, DriverPortable, cfg.Scale.Driver)
	require.Equal(t, DefaultWeightCeiling, cfg.WeightCeiling)
	require.Equal(t, DefaultBufferLimit, cfg.BufferLimit)
	require.Equal(t, DefaultEventQueue, cfg.EventQueue)
	require.Equal(t, ":8090", cfg.Listen)
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
scanner:
  device: /dev/ttyUSB0
  baud_rate: 19200
  parity: EVEN
  data_bits: 7
scale:
  device: /dev/ttyUSB1
weight_ceiling: 1500
buffer_limit: 100
listen: 127.0.0.1:9000
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 19200, cfg.Scanner.BaudRate)
	require.Equal(t, ParityEven, cfg.Scanner.Parity)
	require.Equal(t, 7, cfg.Scanner.DataBits)
	require.Equal(t, 1500.0, cfg.WeightCeiling)
	require.Equal(t, 100, cfg.BufferLimit)
	require.Equal(t, "127.0.0.1:9000", cfg.Listen)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "scanner: [1, 2"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "scale:\n  stop_bits: 3\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = LoadConfig(writeConfig(t, "weight_ceiling: -5\n"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPortConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultPortConfig().Validate())
	require.NoError(t, PortConfig{}.WithDefaults().Validate())

	bad := []PortConfig{
		{BaudRate: -1, DataBits: 8, StopBits: 1, Parity: ParityNone},
		{BaudRate: 9600, DataBits: 9, StopBits: 1, Parity: ParityNone},
		{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "mark"},
		{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: ParityNone, Driver: "usb"},
	}
	for _, cfg := range bad {
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig, "%+v", cfg)
	}
}

func TestLoadConfig_Shipped(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("configs", "serial.yml"))
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB0", cfg.Scanner.Device)
	require.Empty(t, cfg.Scale.Device)
	require.Equal(t, "2303", cfg.Scale.USBProductID)
	require.Equal(t, ":8090", cfg.Listen)
}

func TestLoadConfig_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serial.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
weight_ceiling = 1200.0
listen = "127.0.0.1:9100"

[scanner]
device = "/dev/ttyUSB3"
parity = "odd"

[scale]
usb_vid = "0403"
baud_rate = 4800
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB3", cfg.Scanner.Device)
	require.Equal(t, ParityOdd, cfg.Scanner.Parity)
	require.Equal(t, DefaultBaudRate, cfg.Scanner.BaudRate)
	require.Equal(t, "0403", cfg.Scale.USBVendorID)
	require.Equal(t, 4800, cfg.Scale.BaudRate)
	require.Equal(t, 1200.0, cfg.WeightCeiling)
	require.Equal(t, "127.0.0.1:9100", cfg.Listen)
}
