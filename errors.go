package serial

import "errors"

var (
	// ErrDeviceUnsupported is returned when the host cannot enumerate or open serial ports.
	ErrDeviceUnsupported = errors.New("serial: not supported on this host")

	// ErrPermissionDenied is returned when the OS refuses access to the port.
	ErrPermissionDenied = errors.New("serial: permission denied")

	// ErrSelectionCancelled is returned when no device was chosen for a connect.
	ErrSelectionCancelled = errors.New("serial: no device selected")

	// ErrDeviceBusy is returned when the port is held by another process.
	ErrDeviceBusy = errors.New("serial: device busy")

	// ErrOpenFailed covers every other reason a port could not be opened.
	ErrOpenFailed = errors.New("serial: open failed")

	// ErrUnexpectedDisconnect marks a session that ended without a disconnect call.
	ErrUnexpectedDisconnect = errors.New("serial: unexpected disconnect")

	// ErrReadCanceled is returned by Port.Read after Port.Cancel.
	ErrReadCanceled = errors.New("serial: read canceled")

	// ErrInvalidConfig is returned for port settings the drivers cannot apply.
	ErrInvalidConfig = errors.New("serial: invalid config")
)
