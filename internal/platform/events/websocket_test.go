package events

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func TestWebSocketHandler_StreamsTopicEvents(t *testing.T) {
	h := newTestHub()
	e := echo.New()
	NewWebSocketHandler(h).RegisterRoutes(e.Group(""))
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topics=data.patients,%20auth"
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.SubscriberCount(TableTopic("patients")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if h.SubscriberCount(TopicAuth) != 1 {
		t.Errorf("expected auth topic trimmed and registered")
	}

	h.Publish(context.Background(), Event{Type: TypeInvalidate, Topic: TableTopic("patients"), Table: "patients"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Table != "patients" {
		t.Errorf("expected patients, got %q", ev.Table)
	}
}
