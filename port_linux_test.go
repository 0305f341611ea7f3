//go:build linux

package serial

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

// openPty returns a pty pair; the master plays the device.
func openPty(t *testing.T) (master, slave *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	return master, slave
}

func rawConfig(dev string) PortConfig {
	cfg := DefaultPortConfig()
	cfg.Device = dev
	cfg.Driver = DriverRaw
	return cfg
}

func TestRawPort_BasicRead(t *testing.T) {
	master, slave := openPty(t)

	port, err := openRaw(rawConfig(slave.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	_, err = master.Write([]byte("hello\n"))
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := port.Read(buf)
		got <- string(buf[:n])
	}()

	select {
	case s := <-got:
		require.Contains(t, "hello\n", s)
		require.NotEmpty(t, s)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for data")
	}
}

func TestRawPort_CancelUnblocksRead(t *testing.T) {
	_, slave := openPty(t)

	port, err := openRaw(rawConfig(slave.Name()))
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 16))
		errs <- err
	}()

	// give the goroutine a chance to block in poll
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, port.Cancel())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrReadCanceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for Read to return after Cancel")
	}

	// a cancelled port stays cancelled
	_, err = port.Read(make([]byte, 16))
	require.ErrorIs(t, err, ErrReadCanceled)

	require.NoError(t, port.Cancel())
	require.NoError(t, port.Close())
	require.NoError(t, port.Close())
}

func TestRawPort_Hangup(t *testing.T) {
	master, slave := openPty(t)

	port, err := openRaw(rawConfig(slave.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { port.Close() })

	errs := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		for {
			if _, err := port.Read(buf); err != nil {
				errs <- err
				return
			}
		}
	}()

	// simulate device disconnect by closing master
	require.NoError(t, master.Close())

	select {
	case err := <-errs:
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrReadCanceled)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for error after device disconnect")
	}
}

func TestRawPort_OpenErrors(t *testing.T) {
	_, slave := openPty(t)

	cfg := rawConfig(slave.Name())
	cfg.BaudRate = 12345
	_, err := openRaw(cfg)
	require.ErrorIs(t, err, ErrOpenFailed)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = openRaw(rawConfig("/dev/does-not-exist"))
	require.ErrorIs(t, err, ErrOpenFailed)
}

func TestRawPort_Framing(t *testing.T) {
	_, slave := openPty(t)
	for _, cfg := range []PortConfig{
		{Device: slave.Name(), BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: ParityEven},
		{Device: slave.Name(), BaudRate: 19200, DataBits: 8, StopBits: 1, Parity: ParityOdd},
	} {
		port, err := openRaw(cfg)
		require.NoError(t, err)
		require.NoError(t, port.Close())
	}
}

func TestManager_OverPty(t *testing.T) {
	scannerDev, scannerSlave := openPty(t)
	scaleDev, scaleSlave := openPty(t)

	mgr, err := NewManager(WithCapability(func() bool { return true }))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	sub := mgr.Subscribe(16)

	ctx := context.Background()
	require.NoError(t, mgr.ConnectScanner(ctx, rawConfig(scannerSlave.Name())))
	require.NoError(t, mgr.ConnectScale(ctx, rawConfig(scaleSlave.Name())))

	_, err = scannerDev.Write([]byte("0012"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = scannerDev.Write([]byte("345678901234\r\n"))
	require.NoError(t, err)
	require.Equal(t, "0012345678901234", nextEvent(t, sub, EventScannerData).RFID)

	_, err = scaleDev.Write([]byte("ST,GS,+  450.5kg\r\n"))
	require.NoError(t, err)
	require.Equal(t, 450.5, nextEvent(t, sub, EventScaleData).Weight)

	// the scale hangs up; the scanner keeps going
	require.NoError(t, scaleDev.Close())
	waitState(t, mgr.Scale(), StateDisconnected)
	require.ErrorIs(t, mgr.Scale().LastError(), ErrUnexpectedDisconnect)
	require.True(t, mgr.IsScannerConnected())

	_, err = scannerDev.Write([]byte("TAG:982000123456789;\r\n"))
	require.NoError(t, err)
	require.Equal(t, "982000123456789", nextEvent(t, sub, EventScannerData).RFID)

	done := make(chan error, 1)
	go func() { done <- mgr.DisconnectScanner() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for disconnect")
	}
	require.Empty(t, mgr.Scanner().Buffered())
}
