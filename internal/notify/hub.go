package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// Hub is the server side of the websocket notification channel: it accepts
// connections (wired from internal/httpserver) and broadcasts every
// AggregatedSignal frame to all of them, grounded on the teacher's
// context-scoped Read/Write usage of nhooyr.io/websocket in
// clients/tradernet/websocket_client.go (there dialing out; here accepting
// in, same library idiom).
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Register adds an accepted connection to the broadcast set and returns a
// function to remove it again when the connection's handler returns.
func (h *Hub) Register(conn *websocket.Conn) (unregister func()) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
	}
}

// Broadcast writes the JSON-encoded signal to every connected client. A
// write failure against one connection never aborts delivery to the others;
// that connection is dropped from the hub. The only error returned is a
// failure to encode the signal; zero subscribers is not an error.
func (h *Hub) Broadcast(ctx context.Context, signal domain.AggregatedSignal) error {
	body, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("hub: marshal signal: %w", err)
	}

	h.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := c.Write(writeCtx, websocket.MessageText, body)
		cancel()
		if err != nil {
			h.mu.Lock()
			delete(h.conns, c)
			h.mu.Unlock()
		}
	}
	return nil
}

// ConnectionCount reports the number of currently-registered clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
