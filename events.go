package serial

import (
	"encoding/json"
	"sync"
	"time"
)

// Event names as seen by subscribers.
const (
	EventScannerData = "scanner-data"
	EventScaleData   = "scale-data"
	EventStatus      = "serial-status"
)

// Event is one notification published on the Bus. Data events carry either
// RFID or Weight; status events carry State, Unexpected and Error.
type Event struct {
	Type       string    `json:"type"`
	Source     Kind      `json:"source"`
	RFID       string    `json:"rfid,omitempty"`
	Weight     float64   `json:"weight,omitempty"`
	State      string    `json:"state,omitempty"`
	Unexpected bool      `json:"unexpected,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// MarshalJSON always writes weight on scale events, so a 0 kg reading is not
// mistaken for a missing one.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	out := struct {
		plain
		Weight *float64 `json:"weight,omitempty"`
	}{plain: plain(e)}
	if e.Type == EventScaleData {
		w := e.Weight
		out.Weight = &w
	}
	return json.Marshal(out)
}

func valueEvent(src Kind, v Value) Event {
	ev := Event{Source: src, At: time.Now()}
	switch v.Kind {
	case ValueRFID:
		ev.Type = EventScannerData
		ev.RFID = v.RFID
	case ValueWeight:
		ev.Type = EventScaleData
		ev.Weight = v.Weight
	}
	return ev
}

func statusEvent(s Status) Event {
	ev := Event{
		Type:       EventStatus,
		Source:     s.Channel,
		State:      s.State.String(),
		Unexpected: s.Unexpected,
		At:         s.At,
	}
	if s.Err != nil {
		ev.Error = s.Err.Error()
	}
	return ev
}

// Bus fans events out to any number of subscribers. Publish never blocks:
// when a subscriber's queue is full its oldest event is dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	dropHooks []func()
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription receives events published after it was created.
type Subscription struct {
	bus    *Bus
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Subscribe attaches a subscriber with a queue of size events. A closed bus
// returns a subscription whose channel is already closed.
func (b *Bus) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = DefaultEventQueue
	}
	s := &Subscription{bus: b, ch: make(chan Event, size)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if !s.offer(ev) {
			continue
		}
		for _, hook := range b.dropHooks {
			hook()
		}
	}
}

// onDrop registers f to run whenever a full queue evicts an event. Every
// Manager sharing the bus adds its own counter.
func (b *Bus) onDrop(f func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropHooks = append(b.dropHooks, f)
}

// Close detaches and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for s := range subs {
		s.shut()
	}
}

// C returns the delivery channel. It is closed by Close or by Bus.Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.shut()
}

// offer enqueues ev, evicting the oldest queued event when full. It reports
// whether an event was dropped.
func (s *Subscription) offer(ev Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- ev:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
