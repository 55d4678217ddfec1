package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const subscriberBuffer = 32

// Event is one frame on the event feed.
type Event struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hub fans events out to subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
	now  func() time.Time
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: map[chan []byte]struct{}{},
		now:  time.Now,
	}
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes ch. It is safe to call more than once.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish encodes data as an event of type typ and broadcasts it.
// Nil-safe so publishers can run without a feed.
func (h *Hub) Publish(typ string, data any) {
	if h == nil {
		return
	}
	frame, err := Encode(typ, h.now(), data)
	if err != nil {
		slog.Warn("event encode failed", "type", typ, "error", err)
		return
	}
	h.broadcast(frame)
}

// Encode builds one wire frame.
func Encode(typ string, at time.Time, data any) ([]byte, error) {
	ev := Event{Type: typ, At: at.UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		ev.Data = raw
	}
	return json.Marshal(ev)
}

// broadcast is a non-blocking send: a subscriber whose buffer is full
// misses the frame rather than stalling the publisher.
func (h *Hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- frame:
		default:
			slog.Debug("event dropped for slow subscriber")
		}
	}
}
