package serial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind names one of the two devices.
type Kind string

const (
	KindScanner Kind = "scanner"
	KindScale   Kind = "scale"
)

// label is the human-readable device name used in status details.
func (k Kind) label() string {
	switch k {
	case KindScanner:
		return "Scanner"
	case KindScale:
		return "Scale"
	default:
		return string(k)
	}
}

// State is the connection state of a Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Status describes one state change of a Channel.
type Status struct {
	Channel    Kind
	State      State
	Unexpected bool  // session ended without a disconnect call
	Err        error // open failure or read error, if any
	At         time.Time
}

// Action is the audit log category for every status.
func (s Status) Action() string {
	return "Serial"
}

// Detail is the audit log line, e.g. "Scanner connected".
func (s Status) Detail() string {
	name := s.Channel.label()
	switch {
	case s.State == StateConnected:
		return name + " connected"
	case s.Unexpected:
		return name + " disconnected unexpectedly"
	case s.Err != nil:
		return fmt.Sprintf("%s connect failed: %v", name, s.Err)
	default:
		return name + " disconnected"
	}
}

// StatusSink receives state changes. It is called from the goroutine that
// caused the change and must not block.
type StatusSink interface {
	ChannelStatus(Status)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(Status)

func (f StatusFunc) ChannelStatus(s Status) { f(s) }

const readChunkSize = 256

// Channel owns one device connection: its port, frame buffer, extractor and
// read loop. Scanner and scale channels share no state.
type Channel struct {
	kind      Kind
	extractor Extractor
	opener    Opener
	publish   func(Event)
	status    StatusSink
	metrics   *metrics
	supported func() bool
	log       zerolog.Logger

	// opMu serialises Connect and Disconnect; mu guards the fields below and
	// the frame buffer. The read loop only ever takes mu.
	opMu     sync.Mutex
	mu       sync.Mutex
	state    State
	port     Port
	buf      *FrameBuffer
	stopping bool
	done     chan struct{}
	lastErr  error
}

type channelParams struct {
	kind        Kind
	extractor   Extractor
	opener      Opener
	publish     func(Event)
	status      StatusSink
	metrics     *metrics
	supported   func() bool
	log         zerolog.Logger
	bufferLimit int
}

func newChannel(p channelParams) *Channel {
	return &Channel{
		kind:      p.kind,
		extractor: p.extractor,
		opener:    p.opener,
		publish:   p.publish,
		status:    p.status,
		metrics:   p.metrics,
		supported: p.supported,
		log:       p.log.With().Str("channel", string(p.kind)).Logger(),
		buf:       NewFrameBuffer(p.bufferLimit),
	}
}

// Kind returns which device the channel serves.
func (c *Channel) Kind() Kind { return c.kind }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the read loop is running.
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// Buffered returns the unterminated fragment waiting for more bytes.
func (c *Channel) Buffered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Buffered()
}

// LastError returns the cause of the last failed connect or unexpected
// disconnect, or nil.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens the port and starts the read loop. Connecting an already
// connected channel is a no-op. On a host without serial support it fails
// with ErrDeviceUnsupported before any port is requested.
func (c *Channel) Connect(ctx context.Context, cfg PortConfig) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.connect(ctx, cfg)
}

func (c *Channel) connect(ctx context.Context, cfg PortConfig) error {
	if c.supported != nil && !c.supported() {
		c.log.Warn().Msg("serial i/o not supported on this host")
		return fmt.Errorf("%s connect: %w", c.kind, ErrDeviceUnsupported)
	}

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	prev := c.done
	c.state = StateConnecting
	c.mu.Unlock()

	// a session that ended on a read error may still be closing its port and
	// notifying; its status must go out before ours
	if prev != nil {
		<-prev
	}

	cfg = cfg.WithDefaults()
	c.log.Debug().Str("device", cfg.Device).Int("baud", cfg.BaudRate).Msg("connecting")

	port, err := c.opener.Open(ctx, cfg)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastErr = err
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("device", cfg.Device).Msg("connect failed")
		c.notify(Status{Channel: c.kind, State: StateDisconnected, Err: err})
		return fmt.Errorf("%s connect: %w", c.kind, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.buf.Reset()
	c.port = port
	c.stopping = false
	c.done = done
	c.lastErr = nil
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(port, done)

	c.log.Info().Str("device", cfg.Device).Msg("connected")
	c.notify(Status{Channel: c.kind, State: StateConnected})
	return nil
}

// Disconnect stops the read loop and releases the port. The pending read is
// cancelled and the loop has exited before the port is closed. Disconnecting
// a disconnected channel is a no-op.
func (c *Channel) Disconnect() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.disconnect()
}

func (c *Channel) disconnect() error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	c.stopping = true
	port, done := c.port, c.done
	c.mu.Unlock()

	if err := port.Cancel(); err != nil {
		c.log.Warn().Err(err).Msg("cancel read")
	}
	<-done
	closeErr := port.Close()

	c.mu.Lock()
	c.port = nil
	c.done = nil
	c.buf.Reset()
	c.state = StateDisconnected
	c.mu.Unlock()

	if closeErr != nil {
		c.log.Warn().Err(closeErr).Msg("close port")
	}
	c.metrics.recordDisconnect(c.kind, false)
	c.log.Info().Msg("disconnected")
	c.notify(Status{Channel: c.kind, State: StateDisconnected})
	return nil
}

// Toggle disconnects a connected channel and connects any other.
func (c *Channel) Toggle(ctx context.Context, cfg PortConfig) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.IsConnected() {
		return c.disconnect()
	}
	return c.connect(ctx, cfg)
}

func (c *Channel) readLoop(port Port, done chan struct{}) {
	defer close(done)

	chunk := make([]byte, readChunkSize)
	for {
		n, err := port.Read(chunk)
		if n > 0 {
			c.consume(chunk[:n])
		}
		if err != nil {
			c.readFailed(port, err)
			return
		}
	}
}

// consume frames chunk and publishes a value for every line that yields one,
// in line order.
func (c *Channel) consume(chunk []byte) {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	lines := c.buf.Feed(chunk)
	c.mu.Unlock()

	for _, line := range lines {
		v, ok := c.extractor.Extract(line)
		c.metrics.recordLine(c.kind, ok)
		if !ok {
			c.log.Debug().Str("line", line).Msg("no value in line")
			continue
		}
		c.publish(valueEvent(c.kind, v))
	}
}

// readFailed ends the session after a read error. A cancel issued by
// Disconnect is not a failure; Disconnect finishes the teardown itself.
func (c *Channel) readFailed(port Port, err error) {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	cause := fmt.Errorf("%w: %w", ErrUnexpectedDisconnect, err)
	c.port = nil
	c.buf.Reset()
	c.state = StateDisconnected
	c.lastErr = cause
	c.mu.Unlock()

	// no read is in flight any more, so the handle can go
	if cerr := port.Close(); cerr != nil {
		c.log.Debug().Err(cerr).Msg("close after read error")
	}
	c.metrics.recordDisconnect(c.kind, true)
	c.log.Error().Err(err).Msg("disconnected unexpectedly")
	c.notify(Status{Channel: c.kind, State: StateDisconnected, Unexpected: true, Err: cause})
}

func (c *Channel) notify(s Status) {
	s.At = time.Now()
	if c.status != nil {
		c.status.ChannelStatus(s)
	}
	c.publish(statusEvent(s))
}
