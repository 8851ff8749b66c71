package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubPublishesToUserOnly(t *testing.T) {
	h := NewHub(nil, nil)
	mine, cancelMine := h.Subscribe("u1")
	defer cancelMine()
	other, cancelOther := h.Subscribe("u2")
	defer cancelOther()

	h.Publish("u1", Event{Type: EventUploadFailed, Filename: "a.png"})

	select {
	case ev := <-mine:
		if ev.Type != EventUploadFailed || ev.At.IsZero() {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event")
	}
	select {
	case ev := <-other:
		t.Fatalf("other user must not receive %+v", ev)
	default:
	}
}

func TestHubCancelReleasesSubscriber(t *testing.T) {
	h := NewHub(nil, nil)
	ch, cancel := h.Subscribe("u1")
	if h.Subscribers("u1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if h.Subscribers("u1") != 0 {
		t.Fatalf("expected subscriber removed")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	h.Publish("u1", Event{Type: EventChatFailed})
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	h := NewHub(nil, nil)
	_, cancel := h.Subscribe("u1")
	defer cancel()
	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			h.Publish("u1", Event{Type: EventDocumentStatus})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestHubServeWS(t *testing.T) {
	h := NewHub(nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "u1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	h.Publish("u1", Event{Type: EventDocumentStatus, DocumentID: "d1", Status: "complete"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.DocumentID != "d1" || ev.Status != "complete" {
		t.Fatalf("unexpected event %+v", ev)
	}

	_ = conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for h.Subscribers("u1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
