// Package events is the process-local notification channel: bypass/session
// changes, user-facing notices and table invalidation signals. Events fan out
// to in-process subscriptions, websocket clients and optional relays.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types.
const (
	TypeInvalidate  = "data.invalidated"
	TypeToast       = "toast"
	TypeAuthChanged = "auth.changed"
)

// Fixed topics. Table invalidations use TableTopic.
const (
	TopicAuth  = "auth"
	TopicToast = "toast"
)

// TableTopic is the invalidation topic for a table.
func TableTopic(table string) string {
	return "data." + table
}

// Event is one notification.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Table     string          `json:"table,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Publisher is implemented by Hub; components depend on this.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Relay forwards locally published events to other processes.
type Relay interface {
	Forward(ctx context.Context, event Event) error
}

// Subscription receives events for its topics on C until Close. Delivery
// is non-blocking: events are dropped when the buffer is full.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	topics []string
	hub    *Hub
	once   sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub tracks websocket clients and in-process subscriptions by topic.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	all      map[*Client]struct{}
	subs     map[string]map[*Subscription]struct{}
	relays   []Relay
	instance string
	logger   zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]map[*Client]struct{}),
		all:      make(map[*Client]struct{}),
		subs:     make(map[string]map[*Subscription]struct{}),
		instance: uuid.NewString(),
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// InstanceID identifies this process on relayed events.
func (h *Hub) InstanceID() string { return h.instance }

// AddRelay registers r to receive every locally published event.
func (h *Hub) AddRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relays = append(h.relays, r)
}

// Subscribe opens an in-process subscription with the given buffer size.
func (h *Hub) Subscribe(buffer int, topics ...string) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, topics: topics, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if h.subs[t] == nil {
			h.subs[t] = make(map[*Subscription]struct{})
		}
		h.subs[t][s] = struct{}{}
	}
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range s.topics {
		if set, ok := h.subs[t]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, t)
			}
		}
	}
	close(s.ch)
}

// Publish stamps the event, delivers it locally and forwards it to relays.
// Relay failures are logged, not returned.
func (h *Hub) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Origin == "" {
		event.Origin = h.instance
	}

	h.Deliver(event)

	h.mu.RLock()
	relays := append([]Relay(nil), h.relays...)
	h.mu.RUnlock()
	for _, r := range relays {
		if err := r.Forward(ctx, event); err != nil {
			h.logger.Warn().Err(err).Str("topic", event.Topic).Msg("relay forward failed")
		}
	}
	return nil
}

// Deliver fans event out to local subscribers and websocket clients only.
func (h *Hub) Deliver(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[event.Topic] {
		select {
		case s.ch <- event:
		default:
			h.logger.Debug().Str("topic", event.Topic).Msg("subscriber buffer full, event dropped")
		}
	}
	for c := range h.clients[event.Topic] {
		select {
		case c.Send <- data:
		default:
		}
	}
}

// SubscriberCount returns in-process subscriptions plus websocket clients on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic]) + len(h.clients[topic])
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// Invalidate publishes an invalidation event for each table.
func Invalidate(ctx context.Context, pub Publisher, tables ...string) error {
	for _, t := range tables {
		if err := pub.Publish(ctx, Event{Type: TypeInvalidate, Topic: TableTopic(t), Table: t}); err != nil {
			return err
		}
	}
	return nil
}
