package serial

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestManager_Unsupported(t *testing.T) {
	op := newFakeOpener()
	mgr, err := NewManager(WithOpener(op), WithCapability(func() bool { return false }))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	require.False(t, mgr.IsSupported())
	require.ErrorIs(t, mgr.ConnectScanner(context.Background(), portCfg("scanner0")), ErrDeviceUnsupported)
	require.ErrorIs(t, mgr.ConnectScale(context.Background(), portCfg("scale0")), ErrDeviceUnsupported)
	require.ErrorIs(t, mgr.ToggleScale(context.Background(), portCfg("scale0")), ErrDeviceUnsupported)
	require.Zero(t, op.opens("scanner0"))
	require.Zero(t, op.opens("scale0"))

	// the channels enforce the check themselves
	require.ErrorIs(t, mgr.Scanner().Connect(context.Background(), portCfg("scanner0")), ErrDeviceUnsupported)
	require.ErrorIs(t, mgr.Scale().Toggle(context.Background(), portCfg("scale0")), ErrDeviceUnsupported)
	require.False(t, mgr.IsScannerConnected())
	require.Zero(t, op.opens("scanner0"))
	require.Zero(t, op.opens("scale0"))

	_, err = mgr.ListPorts()
	require.ErrorIs(t, err, ErrDeviceUnsupported)

	// disconnect needs no capability
	require.NoError(t, mgr.DisconnectScanner())
}

func TestManager_UnknownChannel(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	require.Error(t, mgr.Connect(context.Background(), Kind("printer"), DefaultPortConfig()))
	require.Error(t, mgr.Disconnect(Kind("printer")))
	require.Nil(t, mgr.Channel(Kind("printer")))
	require.Same(t, mgr.Scanner(), mgr.Channel(KindScanner))
	require.Same(t, mgr.Scale(), mgr.Channel(KindScale))
}

func TestManager_InvalidCeiling(t *testing.T) {
	_, err := NewManager(WithWeightCeiling(-1))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestManager_WeightCeiling(t *testing.T) {
	mgr, op, _ := newTestManager(t, WithWeightCeiling(500))
	sub := mgr.Subscribe(8)
	port := op.next("scale0")
	require.NoError(t, mgr.ConnectScale(context.Background(), portCfg("scale0")))
	port.send("650.0\r\n420.0\r\n")
	require.Equal(t, 420.0, nextEvent(t, sub, EventScaleData).Weight)
}

func TestManager_Snapshot(t *testing.T) {
	mgr, op, _ := newTestManager(t)
	op.next("scanner0")
	op.failWith("scale0", ErrDeviceBusy)
	require.NoError(t, mgr.ConnectScanner(context.Background(), portCfg("scanner0")))
	require.Error(t, mgr.ConnectScale(context.Background(), portCfg("scale0")))

	snap := mgr.Snapshot()
	require.True(t, snap.Supported)
	require.True(t, snap.Scanner.Connected)
	require.Equal(t, "connected", snap.Scanner.State)
	require.False(t, snap.Scale.Connected)
	require.Equal(t, "disconnected", snap.Scale.State)
	require.Contains(t, snap.Scale.LastError, "device busy")
}

func TestManager_CloseClosesSubscriptions(t *testing.T) {
	op := newFakeOpener()
	mgr, err := NewManager(WithOpener(op), WithCapability(func() bool { return true }))
	require.NoError(t, err)
	sub := mgr.Subscribe(8)
	port := op.next("scanner0")
	require.NoError(t, mgr.ConnectScanner(context.Background(), portCfg("scanner0")))

	require.NoError(t, mgr.Close())
	require.False(t, mgr.IsScannerConnected())
	require.True(t, port.closed.Load())
	for range sub.C() {
	}
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mgr, op, _ := newTestManager(t, WithRegisterer(reg))
	sub := mgr.Subscribe(8)
	port := op.next("scanner0")
	require.NoError(t, mgr.ConnectScanner(context.Background(), portCfg("scanner0")))

	port.send("noise\r\nTAG:012345678901234;\r\n")
	nextEvent(t, sub, EventScannerData)
	require.NoError(t, mgr.DisconnectScanner())

	require.Equal(t, 2.0, testutil.ToFloat64(mgr.metrics.lines.WithLabelValues("scanner")))
	require.Equal(t, 1.0, testutil.ToFloat64(mgr.metrics.values.WithLabelValues("scanner")))
	require.Equal(t, 1.0, testutil.ToFloat64(mgr.metrics.malformed.WithLabelValues("scanner")))
	require.Equal(t, 1.0, testutil.ToFloat64(mgr.metrics.disconnects.WithLabelValues("scanner", "user")))

	// a second manager on the same registry is refused
	_, err := NewManager(WithRegisterer(reg))
	require.Error(t, err)
}

func TestManager_SharedBusCountsDrops(t *testing.T) {
	bus := NewBus()
	first, err := NewManager(WithBus(bus), WithCapability(func() bool { return true }))
	require.NoError(t, err)
	second, err := NewManager(WithBus(bus), WithCapability(func() bool { return true }))
	require.NoError(t, err)

	sub := first.Subscribe(1)
	for i := 0; i < 4; i++ {
		bus.Publish(Event{Type: EventScaleData, Weight: float64(i)})
	}
	require.Equal(t, 3.0, (<-sub.C()).Weight)

	require.Equal(t, 3.0, testutil.ToFloat64(first.metrics.dropped))
	require.Equal(t, 3.0, testutil.ToFloat64(second.metrics.dropped))
}
