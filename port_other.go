//go:build !linux

package serial

import "fmt"

// openRaw is only available on Linux; use DriverPortable elsewhere.
func openRaw(cfg PortConfig) (Port, error) {
	return nil, fmt.Errorf("%w: raw driver on %s", ErrDeviceUnsupported, cfg.Device)
}
