package serial

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Manager owns the scanner and scale channels and is the only way the rest of
// the application sees device presence and decoded values. It does no
// decoding itself.
type Manager struct {
	scanner   *Channel
	scale     *Channel
	bus       *Bus
	metrics   *metrics
	supported func() bool
}

type managerOptions struct {
	log           zerolog.Logger
	opener        Opener
	status        StatusSink
	supported     func() bool
	weightCeiling float64
	bufferLimit   int
	registerer    prometheus.Registerer
	bus           *Bus
}

// Option configures a Manager.
type Option func(*managerOptions)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *managerOptions) { o.log = l }
}

// WithOpener replaces DefaultOpener, e.g. with an in-memory port in tests.
func WithOpener(op Opener) Option {
	return func(o *managerOptions) { o.opener = op }
}

// WithStatusSink receives every connect and disconnect of both channels.
func WithStatusSink(s StatusSink) Option {
	return func(o *managerOptions) { o.status = s }
}

// WithCapability replaces HostSupported.
func WithCapability(supported func() bool) Option {
	return func(o *managerOptions) { o.supported = supported }
}

// WithWeightCeiling sets the exclusive upper bound for scale readings.
func WithWeightCeiling(kg float64) Option {
	return func(o *managerOptions) { o.weightCeiling = kg }
}

// WithBufferLimit bounds each channel's unterminated fragment.
func WithBufferLimit(n int) Option {
	return func(o *managerOptions) { o.bufferLimit = n }
}

// WithRegisterer registers the ingestion counters.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *managerOptions) { o.registerer = reg }
}

// WithBus publishes on an existing bus instead of a private one.
func WithBus(b *Bus) Option {
	return func(o *managerOptions) { o.bus = b }
}

// NewManager builds both channels. Nothing is opened until a connect call.
func NewManager(opts ...Option) (*Manager, error) {
	o := managerOptions{
		log:           zerolog.Nop(),
		opener:        DefaultOpener{},
		supported:     HostSupported,
		weightCeiling: DefaultWeightCeiling,
		bufferLimit:   DefaultBufferLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.weightCeiling <= 0 {
		return nil, fmt.Errorf("%w: weight ceiling %v", ErrInvalidConfig, o.weightCeiling)
	}

	m, err := newMetrics(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	bus := o.bus
	if bus == nil {
		bus = NewBus()
	}
	bus.onDrop(m.dropped.Inc)

	mgr := &Manager{
		bus:       bus,
		metrics:   m,
		supported: o.supported,
	}
	mgr.scanner = newChannel(channelParams{
		kind:        KindScanner,
		extractor:   ScannerExtractor{},
		opener:      o.opener,
		publish:     bus.Publish,
		status:      o.status,
		metrics:     m,
		supported:   o.supported,
		log:         o.log,
		bufferLimit: o.bufferLimit,
	})
	mgr.scale = newChannel(channelParams{
		kind:        KindScale,
		extractor:   ScaleExtractor{Ceiling: o.weightCeiling},
		opener:      o.opener,
		publish:     bus.Publish,
		status:      o.status,
		metrics:     m,
		supported:   o.supported,
		log:         o.log,
		bufferLimit: o.bufferLimit,
	})
	return mgr, nil
}

// IsSupported reports whether the host can do serial I/O at all.
func (m *Manager) IsSupported() bool {
	return m.supported()
}

// Scanner returns the scanner channel.
func (m *Manager) Scanner() *Channel { return m.scanner }

// Scale returns the scale channel.
func (m *Manager) Scale() *Channel { return m.scale }

// Channel returns the channel for k, or nil.
func (m *Manager) Channel(k Kind) *Channel {
	switch k {
	case KindScanner:
		return m.scanner
	case KindScale:
		return m.scale
	default:
		return nil
	}
}

// Connect connects the channel for k. It fails with ErrDeviceUnsupported
// without touching any port when the host has no serial support.
func (m *Manager) Connect(ctx context.Context, k Kind, cfg PortConfig) error {
	ch := m.Channel(k)
	if ch == nil {
		return fmt.Errorf("unknown channel %q", k)
	}
	return ch.Connect(ctx, cfg)
}

// Disconnect disconnects the channel for k.
func (m *Manager) Disconnect(k Kind) error {
	ch := m.Channel(k)
	if ch == nil {
		return fmt.Errorf("unknown channel %q", k)
	}
	return ch.Disconnect()
}

// Toggle disconnects the channel for k if it is connected and connects it
// otherwise.
func (m *Manager) Toggle(ctx context.Context, k Kind, cfg PortConfig) error {
	ch := m.Channel(k)
	if ch == nil {
		return fmt.Errorf("unknown channel %q", k)
	}
	return ch.Toggle(ctx, cfg)
}

func (m *Manager) ConnectScanner(ctx context.Context, cfg PortConfig) error {
	return m.Connect(ctx, KindScanner, cfg)
}

func (m *Manager) ConnectScale(ctx context.Context, cfg PortConfig) error {
	return m.Connect(ctx, KindScale, cfg)
}

func (m *Manager) DisconnectScanner() error { return m.scanner.Disconnect() }

func (m *Manager) DisconnectScale() error { return m.scale.Disconnect() }

func (m *Manager) ToggleScanner(ctx context.Context, cfg PortConfig) error {
	return m.Toggle(ctx, KindScanner, cfg)
}

func (m *Manager) ToggleScale(ctx context.Context, cfg PortConfig) error {
	return m.Toggle(ctx, KindScale, cfg)
}

func (m *Manager) IsScannerConnected() bool { return m.scanner.IsConnected() }

func (m *Manager) IsScaleConnected() bool { return m.scale.IsConnected() }

// ListPorts returns the serial ports present on the host.
func (m *Manager) ListPorts() ([]string, error) {
	if !m.supported() {
		return nil, ErrDeviceUnsupported
	}
	return ListPorts()
}

// Subscribe attaches a subscriber to decoded values and status events.
func (m *Manager) Subscribe(size int) *Subscription {
	return m.bus.Subscribe(size)
}

// ChannelSnapshot is the reported state of one channel.
type ChannelSnapshot struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	LastError string `json:"last_error,omitempty"`
}

// Snapshot is the reported state of both channels.
type Snapshot struct {
	Supported bool            `json:"supported"`
	Scanner   ChannelSnapshot `json:"scanner"`
	Scale     ChannelSnapshot `json:"scale"`
}

// Snapshot returns the current state of both channels.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Supported: m.supported(),
		Scanner:   snapshotOf(m.scanner),
		Scale:     snapshotOf(m.scale),
	}
}

func snapshotOf(c *Channel) ChannelSnapshot {
	st := c.State()
	s := ChannelSnapshot{State: st.String(), Connected: st == StateConnected}
	if err := c.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

// Close disconnects both channels and closes every subscription.
func (m *Manager) Close() error {
	errScanner := m.scanner.Disconnect()
	errScale := m.scale.Disconnect()
	m.bus.Close()
	if errScanner != nil {
		return errScanner
	}
	return errScale
}
