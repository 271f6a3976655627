// Package ws streams pipeline events to connected websocket clients.
package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shato-ai/voice-server/internal/pipeline"
)

// subscriberBuffer bounds the per-client event queue. A client that falls this
// far behind starts losing events instead of stalling the pipeline.
const subscriberBuffer = 32

// Hub fans pipeline events out to every connected client. It implements
// pipeline.Sink; Publish never blocks.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[string]*subscriber
}

type subscriber struct {
	id     string
	conn   *websocket.Conn
	events chan pipeline.Event
	done   chan struct{}
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[string]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Publish implements pipeline.Sink. Events for slow subscribers are dropped.
func (h *Hub) Publish(event pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			h.logger.Debug("ws subscriber lagging; event dropped",
				zap.String("subscriber_id", sub.id),
				zap.String("stage", event.Stage),
			)
		}
	}
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Handle upgrades the request and streams events until the client disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := &subscriber{
		id:     fmt.Sprintf("%d", time.Now().UnixNano()),
		conn:   conn,
		events: make(chan pipeline.Event, subscriberBuffer),
		done:   make(chan struct{}),
	}
	h.register(sub)
	h.logger.Info("ws subscriber connected", zap.String("subscriber_id", sub.id))

	go sub.writeLoop(h.logger)

	// The read loop exists only to detect disconnects; inbound payloads are
	// ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(sub)
	close(sub.done)
	h.logger.Info("ws subscriber disconnected", zap.String("subscriber_id", sub.id))
}

func (s *subscriber) writeLoop(logger *zap.Logger) {
	for {
		select {
		case event := <-s.events:
			if err := s.conn.WriteJSON(event); err != nil {
				logger.Debug("ws send failed", zap.Error(err))
				return
			}
		case <-s.done:
			return
		}
	}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub.id)
	h.mu.Unlock()
}
