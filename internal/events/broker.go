// Package events fans orchestrator lifecycle events out to live
// subscribers such as the SSE endpoint and the terminal monitor.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fentz26/deskpilot/internal/models"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Sink receives events.
type Sink interface {
	Emit(event models.Event)
}

type subscriber struct {
	sessionID string
	channel   chan models.Event
}

// Broker delivers every emitted event to the subscribers interested in
// its session. Delivery never blocks: when a subscriber's buffer is full
// the event is dropped for that subscriber and counted.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64
	buffer      int
	closed      bool
	dropped     atomic.Uint64
	logger      *slog.Logger
}

// NewBroker creates a Broker. buffer <= 0 selects DefaultBuffer.
func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[uint64]*subscriber),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe returns a channel of events for sessionID ("" for every
// session) and a function that ends the subscription and closes the
// channel.
func (b *Broker) Subscribe(sessionID string) (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channel := make(chan models.Event, b.buffer)
	if b.closed {
		close(channel)
		return channel, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = &subscriber{sessionID: sessionID, channel: channel}

	var once sync.Once
	return channel, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub.channel)
			}
		})
	}
}

// Emit delivers event to matching subscribers.
func (b *Broker) Emit(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		select {
		case sub.channel <- event:
		default:
			if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
				b.logger.Warn("event subscriber is slow, dropping events", "session", event.SessionID, "kind", event.Kind, "dropped_total", n)
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.channel)
		delete(b.subscribers, id)
	}
}

// Tee returns a Sink that forwards each event to every sink in order.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Emit(event models.Event) {
	for _, s := range t {
		s.Emit(event)
	}
}

// LogSink writes each event to logger at debug level.
func LogSink(logger *slog.Logger) Sink {
	return logSink{logger: logger}
}

type logSink struct {
	logger *slog.Logger
}

func (s logSink) Emit(event models.Event) {
	attrs := []any{"session", event.SessionID, "kind", event.Kind}
	if event.TaskID != "" {
		attrs = append(attrs, "task", event.TaskID)
	}
	if event.Status != "" {
		attrs = append(attrs, "status", event.Status)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	s.logger.Debug("agent event", attrs...)
}
