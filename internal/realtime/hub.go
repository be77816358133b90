// Package realtime pushes stock changes to browsers over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"checkout-engine/internal/events"
	"github.com/rs/zerolog"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 16
)

// Hub owns the set of connected clients. All membership changes happen on
// the Run goroutine.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	clients    map[*client]struct{}
	count      atomic.Int64
	logger     zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	h := &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
		logger:     zerolog.Nop(),
	}
	if logger != nil {
		h.logger = logger.With().Str("component", "realtime").Logger()
	}
	return h
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			h.logger.Debug().Int64("clients", h.count.Load()).Msg("client connected")
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn().Msg("slow client dropped")
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return nil
		}
	}
}

// Publish forwards StockChanged envelopes to every client. Other events are
// ignored. It never blocks; when the broadcast queue is full the event is
// dropped.
func (h *Hub) Publish(_ context.Context, env events.Envelope) error {
	if env.EventType != events.TypeStockChanged {
		return nil
	}
	msg, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn().Str("event_id", env.EventID).Msg("broadcast queue full, event dropped")
	}
	return nil
}

// ClientCount reports the connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
}

func (h *Hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
