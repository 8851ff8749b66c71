// Package notify fans out per-user events to websocket subscribers.
package notify

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventDocumentStatus = "document.status"
	EventUploadFailed   = "upload.failed"
	EventChatFailed     = "chat.failed"
	EventSignedOut      = "session.signed_out"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Event is one notification pushed to a user's sessions.
type Event struct {
	Type       string    `json:"type"`
	DocumentID string    `json:"documentId,omitempty"`
	ChatID     string    `json:"chatId,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier publishes events for a user.
type Notifier interface {
	Publish(userID string, ev Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(string, Event) {}

type subscriber struct {
	ch chan Event
}

// Hub keeps the live subscribers of every user. Slow subscribers lose events
// rather than block publishers.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub builds a hub. allowedOrigins empty means same-origin only.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	h := &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			if _, ok := allowed[origin]; ok {
				return true
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		},
	}
	return h
}

// Publish delivers ev to every subscriber of userID.
func (h *Hub) Publish(userID string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[userID] {
		select {
		case s.ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber", "user_id", userID, "type", ev.Type)
		}
	}
}

// Subscribe registers an in-process subscriber. The returned cancel func
// must be called to release it; the channel is closed afterwards.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, sendBuffer)}
	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], s)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers reports the number of live subscribers for a user.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// ServeWS upgrades the request and streams the user's events until the
// connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}
	events, cancel := h.Subscribe(userID)
	h.logger.Info("websocket connected", "user_id", userID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readPump(conn)
	}()
	writePump(conn, events, done)
	cancel()
	_ = conn.Close()
	h.logger.Info("websocket disconnected", "user_id", userID)
}

// readPump discards client messages and returns when the peer goes away.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, events <-chan Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
