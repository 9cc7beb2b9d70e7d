package canbus

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLivenessWindow is how long the link waits without receiving any
// bytes before raising a timeout event.
const DefaultLivenessWindow = 5 * time.Second

// EventKind classifies link lifecycle events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventTimeout
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a best-effort link notification. A disconnect racing a final
// dispatch may drop an event; consumers must not rely on exact delivery.
type Event struct {
	Kind EventKind
	Time time.Time
}

// Subscription receives decoded inbound messages plus republished outbound
// ones. Messages is buffered; when a subscriber falls behind, messages
// addressed to it are dropped rather than blocking the receive loop.
type Subscription struct {
	Messages <-chan Message
	Events   <-chan Event

	link   *Link
	msgs   chan Message
	events chan Event
}

// Unsubscribe detaches the subscription from the link and closes its
// channels. Safe to call once; the link never re-delivers after this.
func (s *Subscription) Unsubscribe() {
	s.link.unsubscribe(s)
}

// Link owns one transport connection to the controller: the background
// receive loop, frame-boundary recovery, the liveness timeout and the
// serialized outbound path.
type Link struct {
	mu        sync.Mutex
	transport io.ReadWriteCloser
	framing   Framing
	cancel    context.CancelFunc
	done      chan struct{}

	// writeMu serializes every outbound frame (normal traffic and firmware
	// chunks) so two frames never interleave mid-frame on the wire.
	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[*Subscription]struct{}

	livenessWindow time.Duration
	lastData       atomic.Int64 // unix nanos of last received bytes
	timeoutFired   atomic.Bool
}

// NewLink returns an unconnected link. A zero livenessWindow selects
// DefaultLivenessWindow.
func NewLink(livenessWindow time.Duration) *Link {
	if livenessWindow <= 0 {
		livenessWindow = DefaultLivenessWindow
	}
	return &Link{
		subs:           make(map[*Subscription]struct{}),
		livenessWindow: livenessWindow,
	}
}

// Connected reports whether a transport is currently open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transport != nil
}

// Connect opens the transport described by cfg and starts the receive loop.
// On failure the link is left exactly as it was.
func (l *Link) Connect(cfg TransportConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transport != nil {
		return fmt.Errorf("already connected")
	}
	rw, framing, err := cfg.open()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.transport = rw
	l.framing = framing
	l.cancel = cancel
	l.done = make(chan struct{})
	l.lastData.Store(time.Now().UnixNano())
	l.timeoutFired.Store(false)

	go l.receiveLoop(ctx, rw, framing, l.done)

	log.Printf("link: connected (%s)", cfg.Label())
	l.publishEvent(Event{Kind: EventConnected, Time: time.Now()})
	return nil
}

// Disconnect signals the receive loop to stop and closes the transport.
// Idempotent: calling it on a disconnected link is a no-op.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.transport == nil {
		l.mu.Unlock()
		return
	}
	rw := l.transport
	cancel := l.cancel
	done := l.done
	l.transport = nil
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	cancel()
	_ = rw.Close()
	<-done

	log.Printf("link: disconnected")
	l.publishEvent(Event{Kind: EventDisconnected, Time: time.Now()})
}

// SendMessage encodes msg for the active framing and writes it under the
// shared write lock, then republishes the outbound message to subscribers
// for monitoring.
func (l *Link) SendMessage(id uint16, payload []byte) error {
	l.mu.Lock()
	rw := l.transport
	framing := l.framing
	l.mu.Unlock()
	if rw == nil {
		return fmt.Errorf("not connected")
	}

	var frame []byte
	var err error
	if framing == FramingBridge {
		frame, err = EncodeBridgeFrame(id, payload)
	} else {
		// Legacy mode is decode-only; outbound always uses standard framing.
		frame, err = EncodeFrame(id, payload)
	}
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	_, werr := rw.Write(frame)
	l.writeMu.Unlock()
	if werr != nil {
		return fmt.Errorf("write frame 0x%03X: %w", id, werr)
	}

	out, _ := NewMessage(id, payload)
	l.dispatch(out)
	return nil
}

// Subscribe registers a consumer of link traffic and events. buffer bounds
// the per-subscriber queue; zero selects a small default.
func (l *Link) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscription{
		link:   l,
		msgs:   make(chan Message, buffer),
		events: make(chan Event, 8),
	}
	s.Messages = s.msgs
	s.Events = s.events
	l.subMu.Lock()
	l.subs[s] = struct{}{}
	l.subMu.Unlock()
	return s
}

func (l *Link) unsubscribe(s *Subscription) {
	l.subMu.Lock()
	_, ok := l.subs[s]
	if ok {
		delete(l.subs, s)
	}
	l.subMu.Unlock()
	if ok {
		close(s.msgs)
		close(s.events)
	}
}

func (l *Link) dispatch(msg Message) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for s := range l.subs {
		select {
		case s.msgs <- msg:
		default:
			// Slow subscriber; best-effort delivery only.
		}
	}
}

func (l *Link) publishEvent(ev Event) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for s := range l.subs {
		select {
		case s.events <- ev:
		default:
		}
	}
}

// receiveLoop reads transport bytes, drains the decoder and dispatches
// messages until the context is cancelled or the transport dies. It also
// arms the liveness timeout: one notification per silence, re-armed as soon
// as data resumes.
func (l *Link) receiveLoop(ctx context.Context, rw io.ReadWriteCloser, framing Framing, done chan struct{}) {
	defer close(done)

	if framing == FramingBridge {
		l.bridgeLoop(ctx, rw)
		return
	}

	var dec Decoder
	var legacy LegacyDecoder
	tmp := make([]byte, 512)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.checkLiveness()
		default:
		}

		n, err := rw.Read(tmp)
		if n > 0 {
			l.lastData.Store(time.Now().UnixNano())
			l.timeoutFired.Store(false)
			if framing == FramingLegacy {
				legacy.Write(tmp[:n])
				for {
					msg, ok := legacy.Next()
					if !ok {
						break
					}
					l.dispatch(msg)
				}
			} else {
				dec.Write(tmp[:n])
				for {
					msg, ok := dec.Next()
					if !ok {
						break
					}
					l.dispatch(msg)
				}
			}
			continue
		}
		if err != nil {
			// Serial read timeouts surface as errors with n==0; treat them
			// as idle unless we are shutting down.
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		l.checkLiveness()
		time.Sleep(5 * time.Millisecond)
	}
}

func (l *Link) bridgeLoop(ctx context.Context, rw io.ReadWriteCloser) {
	for {
		msg, err := ReadBridgeFrame(rw)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				log.Printf("link: bridge read: %v", err)
			}
			return
		}
		l.lastData.Store(time.Now().UnixNano())
		l.timeoutFired.Store(false)
		l.dispatch(msg)
	}
}

func (l *Link) checkLiveness() {
	last := time.Unix(0, l.lastData.Load())
	if time.Since(last) < l.livenessWindow {
		return
	}
	if l.timeoutFired.CompareAndSwap(false, true) {
		log.Printf("link: no data for %s", l.livenessWindow)
		l.publishEvent(Event{Kind: EventTimeout, Time: time.Now()})
	}
}
