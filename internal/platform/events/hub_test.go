package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_PublishToSubscribedTopic(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe(4, TableTopic("patients"))
	defer s.Close()

	if err := h.Publish(context.Background(), Event{Type: TypeInvalidate, Topic: TableTopic("patients"), Table: "patients"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ev := recv(t, s)
	if ev.Table != "patients" {
		t.Errorf("expected table patients, got %q", ev.Table)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Error("expected ID and Timestamp to be stamped")
	}
	if ev.Origin != h.InstanceID() {
		t.Errorf("expected origin %q, got %q", h.InstanceID(), ev.Origin)
	}
}

func TestHub_OtherTopicNotDelivered(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe(4, TopicAuth)
	defer s.Close()

	h.Publish(context.Background(), Event{Topic: TableTopic("follow_ups")})

	select {
	case ev := <-s.C:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHub_FullBufferDrops(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe(1, TopicToast)
	defer s.Close()

	for i := 0; i < 3; i++ {
		h.Publish(context.Background(), Event{Topic: TopicToast})
	}
	if n := len(s.C); n != 1 {
		t.Errorf("expected 1 buffered event, got %d", n)
	}
}

func TestSubscription_Close(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe(1, TopicAuth, TopicToast)
	if got := h.SubscriberCount(TopicAuth); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	s.Close()
	s.Close()

	if got := h.SubscriberCount(TopicAuth); got != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", got)
	}
	if _, ok := <-s.C; ok {
		t.Error("expected channel to be closed")
	}
	// publishing after close must not panic
	h.Publish(context.Background(), Event{Topic: TopicAuth})
}

type recordingRelay struct {
	events []Event
	err    error
}

func (r *recordingRelay) Forward(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestHub_ForwardsToRelays(t *testing.T) {
	h := newTestHub()
	ok := &recordingRelay{}
	failing := &recordingRelay{err: errors.New("down")}
	h.AddRelay(failing)
	h.AddRelay(ok)

	if err := h.Publish(context.Background(), Event{Topic: TopicAuth}); err != nil {
		t.Fatalf("relay failure should not fail Publish: %v", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("expected both relays called once, got %d and %d", len(ok.events), len(failing.events))
	}
}

func TestHub_DeliverSkipsRelays(t *testing.T) {
	h := newTestHub()
	relay := &recordingRelay{}
	h.AddRelay(relay)
	s := h.Subscribe(1, TopicAuth)
	defer s.Close()

	h.Deliver(Event{Topic: TopicAuth, Origin: "elsewhere"})

	if ev := recv(t, s); ev.Origin != "elsewhere" {
		t.Errorf("expected origin preserved, got %q", ev.Origin)
	}
	if len(relay.events) != 0 {
		t.Errorf("expected no relay forwarding, got %d", len(relay.events))
	}
}

func TestHub_ClientRegistrationAndBroadcast(t *testing.T) {
	h := newTestHub()
	c := &Client{ID: "c1", Topics: []string{TableTopic("patients")}, Send: make(chan []byte, 4)}
	h.Register(c)

	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", h.ClientCount())
	}

	h.Publish(context.Background(), Event{Type: TypeInvalidate, Topic: TableTopic("patients"), Table: "patients"})

	select {
	case raw := <-c.Send:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != TypeInvalidate {
			t.Errorf("expected %s, got %s", TypeInvalidate, ev.Type)
		}
	default:
		t.Fatal("expected message on client Send")
	}

	h.Unregister(c)
	if h.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", h.ClientCount())
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected Send closed after unregister")
	}
	h.Unregister(c)
}

func TestHub_ProcessMessage(t *testing.T) {
	h := newTestHub()
	c := &Client{ID: "c1", Send: make(chan []byte, 4)}
	h.Register(c)

	h.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{TopicAuth, TopicToast}})
	if h.SubscriberCount(TopicAuth) != 1 || h.SubscriberCount(TopicToast) != 1 {
		t.Fatal("expected client subscribed to auth and toast")
	}

	h.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{TopicAuth}})
	if h.SubscriberCount(TopicAuth) != 0 {
		t.Error("expected auth unsubscribed")
	}
	if len(c.Topics) != 1 || c.Topics[0] != TopicToast {
		t.Errorf("expected remaining topics [toast], got %v", c.Topics)
	}
}

func TestInvalidate(t *testing.T) {
	h := newTestHub()
	p := h.Subscribe(2, TableTopic("patients"))
	f := h.Subscribe(2, TableTopic("follow_ups"))
	defer p.Close()
	defer f.Close()

	if err := Invalidate(context.Background(), h, "patients", "follow_ups"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if ev := recv(t, p); ev.Table != "patients" {
		t.Errorf("got table %q", ev.Table)
	}
	if ev := recv(t, f); ev.Table != "follow_ups" {
		t.Errorf("got table %q", ev.Table)
	}
}

func TestNotifier(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe(4, TopicToast)
	defer s.Close()
	n := NewNotifier(h, zerolog.Nop())

	n.Error(context.Background(), "Failed to load patients. Please try again.")

	toast, err := DecodeToast(recv(t, s))
	if err != nil {
		t.Fatalf("DecodeToast: %v", err)
	}
	if toast.Level != LevelError {
		t.Errorf("expected level error, got %s", toast.Level)
	}
	if toast.Message != "Failed to load patients. Please try again." {
		t.Errorf("unexpected message %q", toast.Message)
	}

	var nilNotifier *Notifier
	nilNotifier.Success(context.Background(), "no panic")
}
