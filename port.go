package serial

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is an exclusively owned, open serial connection.
//
// Cancel unblocks a Read that is waiting for data; that Read and every later
// one return ErrReadCanceled. Close releases the handle and must only be called
// once no Read is in flight. Both are idempotent.
type Port interface {
	Read(p []byte) (int, error)
	Cancel() error
	Close() error
}

// Opener opens the port described by cfg.
type Opener interface {
	Open(ctx context.Context, cfg PortConfig) (Port, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, cfg PortConfig) (Port, error)

func (f OpenerFunc) Open(ctx context.Context, cfg PortConfig) (Port, error) {
	return f(ctx, cfg)
}

// allow tests to override the host enumeration
var (
	getPortsList        = bugst.GetPortsList
	getDetailedPortList = enumerator.GetDetailedPortsList
)

// HostSupported reports whether this host can enumerate serial ports.
func HostSupported() bool {
	_, err := getPortsList()
	return err == nil
}

// ListPorts returns the names of the serial ports present on the host.
func ListPorts() ([]string, error) {
	ports, err := getPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnsupported, err)
	}
	return ports, nil
}

// DefaultOpener resolves the device path and opens it with the configured
// driver. On Linux the raw termios driver is used unless cfg.Driver says
// otherwise; everywhere else the portable driver is used.
type DefaultOpener struct{}

func (DefaultOpener) Open(ctx context.Context, cfg PortConfig) (Port, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	dev, err := resolveDevice(cfg)
	if err != nil {
		return nil, err
	}
	cfg.Device = dev

	driver := cfg.Driver
	if driver == DriverAuto {
		driver = DriverPortable
		if runtime.GOOS == "linux" {
			driver = DriverRaw
		}
	}
	if driver == DriverRaw {
		return openRaw(cfg)
	}
	return openPortable(cfg)
}

// resolveDevice returns cfg.Device, or the first USB port matching the
// configured vendor/product IDs.
func resolveDevice(cfg PortConfig) (string, error) {
	if cfg.Device != "" {
		return cfg.Device, nil
	}
	if cfg.USBVendorID == "" && cfg.USBProductID == "" {
		return "", ErrSelectionCancelled
	}
	ports, err := getDetailedPortList()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceUnsupported, err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if cfg.USBVendorID != "" && !strings.EqualFold(p.VID, cfg.USBVendorID) {
			continue
		}
		if cfg.USBProductID != "" && !strings.EqualFold(p.PID, cfg.USBProductID) {
			continue
		}
		return p.Name, nil
	}
	return "", fmt.Errorf("%w: no usb device %s:%s", ErrSelectionCancelled, cfg.USBVendorID, cfg.USBProductID)
}

const portablePollInterval = 100 * time.Millisecond

// portablePort wraps go.bug.st/serial. Reads poll with a short timeout so a
// cancel is observed within portablePollInterval.
type portablePort struct {
	port       bugst.Port
	canceled   chan struct{}
	cancelOnce sync.Once
	closeOnce  sync.Once
}

func openPortable(cfg PortConfig) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	switch cfg.Parity {
	case ParityOdd:
		mode.Parity = bugst.OddParity
	case ParityEven:
		mode.Parity = bugst.EvenParity
	}
	if cfg.StopBits == 2 {
		mode.StopBits = bugst.TwoStopBits
	}

	p, err := bugst.Open(cfg.Device, mode)
	if err != nil {
		return nil, classifyOpenError(cfg.Device, err)
	}
	if err := p.SetReadTimeout(portablePollInterval); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: set read timeout on %s: %v", ErrOpenFailed, cfg.Device, err)
	}
	return &portablePort{port: p, canceled: make(chan struct{})}, nil
}

func (p *portablePort) Read(b []byte) (int, error) {
	for {
		select {
		case <-p.canceled:
			return 0, ErrReadCanceled
		default:
		}
		n, err := p.port.Read(b)
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (p *portablePort) Cancel() error {
	p.cancelOnce.Do(func() { close(p.canceled) })
	return nil
}

func (p *portablePort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancelOnce.Do(func() { close(p.canceled) })
		err = p.port.Close()
	})
	return err
}

// classifyOpenError maps driver errors onto the package error taxonomy.
func classifyOpenError(dev string, err error) error {
	var pe *bugst.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case bugst.PermissionDenied:
			return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, dev, err)
		case bugst.PortBusy:
			return fmt.Errorf("%w: %s: %v", ErrDeviceBusy, dev, err)
		case bugst.FunctionNotImplemented, bugst.ErrorEnumeratingPorts:
			return fmt.Errorf("%w: %s: %v", ErrDeviceUnsupported, dev, err)
		case bugst.InvalidSpeed, bugst.InvalidDataBits, bugst.InvalidParity, bugst.InvalidStopBits:
			return fmt.Errorf("%w: %w: %s: %v", ErrOpenFailed, ErrInvalidConfig, dev, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrOpenFailed, dev, err)
}
