// Package notify implements an optional websocket push channel that wakes
// idle workers as soon as a task is queued, shaving latency off the
// fetch_task long-poll loop. It is advisory only: a worker that misses a
// push (or never connects one) still finds the task on its next poll, so
// the hub carries none of the dispatch correctness — only adapted from the
// teacher's periodic metrics broadcaster into an event-driven nudge.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1percentsync/sakura-dispatch/internal/observability"
)

const maxConnections = 500

// Hub manages worker websocket connections and fans out "work available"
// pings. Single broadcaster goroutine, same shape as the teacher's
// MetricsHub, but event-triggered (Notify) rather than ticker-driven.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	notify     chan struct{}
	mu         sync.RWMutex
}

// NewHub creates an empty notification hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		notify:     make(chan struct{}, 1),
	}
}

// Run drives the hub's main loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("notify: connection rejected, max connections (%d) reached", maxConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			observability.ConnectedWorkers.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				observability.ConnectedWorkers.Set(float64(len(h.clients)))
			}
			h.mu.Unlock()

		case <-h.notify:
			h.broadcast()
		}
	}
}

// broadcast pushes a single "task_available" frame to every connected
// worker, dropping any connection that fails to accept the write promptly.
func (h *Hub) broadcast() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"task_available"}`)); err != nil {
			go h.Unregister(conn)
		}
	}
}

// shutdown closes every connected client.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	observability.ConnectedWorkers.Set(0)
}

// Register admits conn as a worker waiting for task-available pushes.
func (h *Hub) Register(conn *websocket.Conn) {
	h.register <- conn
}

// Unregister removes and closes conn.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// Notify signals the hub to broadcast a wake-up to all connected workers.
// Non-blocking: if a broadcast is already pending, this is a no-op, since
// the payload carries no per-task information for workers to act on beyond
// "go poll now".
func (h *Hub) Notify() {
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// ClientCount returns the number of currently connected workers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
