// Package sse implements a Server-Sent Events broker for notebook trust
// changes.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Trust event kinds accepted by PublishTrustEvent.
const (
	KindTrusted   = "trusted"
	KindUntrusted = "untrusted"
	KindRemoved   = "removed"
	KindSigned    = "signed"
	KindUnsigned  = "unsigned"
)

// StatusEvent is the event type carrying a Summary.
const StatusEvent = "status.updated"

const (
	defaultStatusThrottle = 2 * time.Second
	defaultKeepAlive      = 30 * time.Second
	clientBuffer          = 64
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// TrustEvent is the payload of a notebook.<kind> event.
type TrustEvent struct {
	Path string    `json:"path"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Summary counts the last known verdict of every notebook the broker has
// heard about.
type Summary struct {
	Trusted   int `json:"trusted"`
	Untrusted int `json:"untrusted"`
}

// Option configures a Broker.
type Option func(*Broker)

// WithStatusThrottle sends status.updated at most once per d. A status
// suppressed by the throttle is delivered when the window closes.
func WithStatusThrottle(d time.Duration) Option {
	return func(b *Broker) { b.statusMin = d }
}

// WithKeepAlive sets how often ServeHTTP writes a comment line to idle
// streams. Zero disables keep-alives.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) { b.keepAlive = d }
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, verdicts, status throttle). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	statusMin time.Duration
	keepAlive time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	trustEventCh  chan TrustEvent
	queryCh       chan func(*state)

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// state is owned by the event loop.
type state struct {
	clients  map[chan []byte]struct{}
	verdicts map[string]bool
	seq      uint64
}

func (s *state) summary() Summary {
	var sum Summary
	for _, trusted := range s.verdicts {
		if trusted {
			sum.Trusted++
		} else {
			sum.Untrusted++
		}
	}
	return sum
}

func (s *state) frame(event Event) []byte {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil
	}
	s.seq++
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", s.seq, event.Type, payload))
}

// NewBroker creates a new SSE broker and starts its event loop.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		statusMin:     defaultStatusThrottle,
		keepAlive:     defaultKeepAlive,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		trustEventCh:  make(chan TrustEvent, 256),
		queryCh:       make(chan func(*state)),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.statusMin <= 0 {
		b.statusMin = defaultStatusThrottle
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	st := &state{
		clients:  make(map[chan []byte]struct{}),
		verdicts: make(map[string]bool),
	}
	var (
		lastStatus    time.Time
		trailing      *time.Timer
		trailingFired <-chan time.Time
	)

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Client buffer full; skip to avoid blocking broker loop.
		}
	}
	broadcast := func(event Event) {
		raw := st.frame(event)
		if raw == nil {
			return
		}
		for ch := range st.clients {
			send(ch, raw)
		}
	}
	sendStatus := func() {
		lastStatus = time.Now()
		broadcast(Event{Type: StatusEvent, Data: st.summary()})
	}

	applyTrust := func(ev TrustEvent) {
		switch ev.Kind {
		case KindTrusted, KindSigned:
			st.verdicts[ev.Path] = true
		case KindUntrusted, KindUnsigned:
			st.verdicts[ev.Path] = false
		case KindRemoved:
			delete(st.verdicts, ev.Path)
		default:
			return
		}
		broadcast(Event{Type: "notebook." + ev.Kind, Data: ev})

		if wait := b.statusMin - time.Since(lastStatus); wait > 0 {
			if trailingFired == nil {
				trailing = time.NewTimer(wait)
				trailingFired = trailing.C
			}
			return
		}
		sendStatus()
	}
	// Trust events already queued are applied before a query or a new
	// subscription observes the verdicts.
	applyPending := func() {
		for {
			select {
			case ev := <-b.trustEventCh:
				applyTrust(ev)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			if trailing != nil {
				trailing.Stop()
			}
			for ch := range st.clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			applyPending()
			st.clients[ch] = struct{}{}
			// New clients start from the current counts.
			if raw := st.frame(Event{Type: StatusEvent, Data: st.summary()}); raw != nil {
				send(ch, raw)
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := st.clients[ch]; ok {
				delete(st.clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case ev := <-b.trustEventCh:
			applyTrust(ev)

		case <-trailingFired:
			trailing, trailingFired = nil, nil
			sendStatus()

		case fn := <-b.queryCh:
			applyPending()
			fn(st)
		}
	}
}

// query runs fn on the event loop and reports whether it ran.
func (b *Broker) query(fn func(*state)) bool {
	if b.closed.Load() {
		return false
	}
	done := make(chan struct{})
	select {
	case b.queryCh <- func(s *state) { fn(s); close(done) }:
	case <-b.stopped:
		return false
	}
	select {
	case <-done:
		return true
	case <-b.stopped:
		return false
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. The first message on
// the channel is the current status.updated summary.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	var n int
	b.query(func(s *state) { n = len(s.clients) })
	return n
}

// Summary returns the current verdict counts.
func (b *Broker) Summary() Summary {
	var sum Summary
	b.query(func(s *state) { sum = s.summary() })
	return sum
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishTrustEvent records the verdict for path and publishes a
// notebook.<kind> event followed by a throttled status.updated. Unknown kinds
// are dropped.
func (b *Broker) PublishTrustEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.trustEventCh <- TrustEvent{Path: path, Kind: kind, At: time.Now().UTC()}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.keepAlive > 0 {
		ticker := time.NewTicker(b.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
