package httpapi

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// StreamEvent is the frame pushed to websocket subscribers when a new
// announcement is published.
type StreamEvent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Hub fans announcements out to connected websocket clients. It satisfies
// notifywatch.Notifier so the poll watcher can push directly into it.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: map[*websocket.Conn]struct{}{}}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// Notify broadcasts the event to every subscriber. Slow or dead clients are
// dropped rather than allowed to stall the rest.
func (h *Hub) Notify(title, body string) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	event := StreamEvent{Title: title, Body: body}
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := wsjson.Write(ctx, c, event)
		cancel()
		if err != nil {
			h.remove(c)
			_ = c.Close(websocket.StatusPolicyViolation, "write timed out")
		}
	}
}

func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket accept: %v", err)
		return
	}
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()

	// Clients only listen; reading keeps control frames flowing and tells us
	// when the peer goes away.
	ctx := r.Context()
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}
