//go:build linux

package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawPort is a raw-mode termios port. A self-pipe is polled next to the
// device fd so Cancel can wake a Read that is blocked waiting for data.
type rawPort struct {
	fd         int
	file       *os.File
	pipeR      int // self-pipe read fd
	pipeW      int // self-pipe write fd
	cancelOnce sync.Once
	closeOnce  sync.Once
}

// openRaw opens cfg.Device for raw, unbuffered reads.
func openRaw(cfg PortConfig) (Port, error) {
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, fmt.Errorf("%w: %w: baud rate %d", ErrOpenFailed, ErrInvalidConfig, cfg.BaudRate)
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, classifyErrno(cfg.Device, err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("%w: get termios %s: %v", ErrOpenFailed, cfg.Device, err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CBAUD
	termios.Cflag |= unix.CREAD | unix.CLOCAL | dataBitsToUnix(cfg.DataBits) | baud
	switch cfg.Parity {
	case ParityEven:
		termios.Cflag |= unix.PARENB
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	}
	if cfg.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}
	termios.Ispeed = baud
	termios.Ospeed = baud

	// VMIN=1, VTIME=0: a read returns as soon as one byte is available
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("%w: set termios %s: %v", ErrOpenFailed, cfg.Device, err)
	}

	// back to blocking mode now that config is done; poll guards every read
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("%w: set blocking %s: %v", ErrOpenFailed, cfg.Device, err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("%w: pipe: %v", ErrOpenFailed, err)
	}

	return &rawPort{
		fd:    fd,
		file:  os.NewFile(uintptr(fd), cfg.Device),
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
	}, nil
}

// Read blocks until the device has data, the device hangs up, or Cancel is called.
func (r *rawPort) Read(p []byte) (int, error) {
	for {
		pfd := []unix.PollFd{
			{Fd: int32(r.fd), Events: unix.POLLIN},
			{Fd: int32(r.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, err
		}
		// the pipe is never drained, so a cancelled port stays cancelled
		if pfd[1].Revents&unix.POLLIN != 0 {
			return 0, ErrReadCanceled
		}
		if pfd[0].Revents&unix.POLLNVAL != 0 {
			return 0, os.ErrClosed
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			n, err := r.file.Read(p)
			if n == 0 && err == nil {
				return 0, io.EOF
			}
			return n, err
		}
	}
}

func (r *rawPort) Cancel() error {
	var err error
	r.cancelOnce.Do(func() {
		_, err = unix.Write(r.pipeW, []byte{1})
	})
	return err
}

// Close releases the device and the self-pipe. Cancel first if a Read may be pending.
func (r *rawPort) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.file.Close()
		unix.Close(r.pipeR)
		unix.Close(r.pipeW)
	})
	return err
}

func classifyErrno(dev string, err error) error {
	switch {
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, dev, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %s: %v", ErrDeviceBusy, dev, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrOpenFailed, dev, err)
	}
}

func dataBitsToUnix(bits int) uint32 {
	switch bits {
	case 5:
		return unix.CS5
	case 6:
		return unix.CS6
	case 7:
		return unix.CS7
	default:
		return unix.CS8
	}
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	default:
		return 0, false
	}
}
