package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/campaign-engine/observe"
)

const (
	hubBuffer    = 128
	writeTimeout = 10 * time.Second
	pingInterval = 15 * time.Second
)

// Hub fans observe events out to websocket subscribers. Slow subscribers
// drop events rather than block the engine.
type Hub struct {
	mu       sync.RWMutex
	nextID   int
	watchers map[int]chan observe.Event
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		watchers: map[int]chan observe.Event{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Hub) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.watchers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (h *Hub) subscribe(buffer int) (int, <-chan observe.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if buffer <= 0 {
		buffer = hubBuffer
	}
	id := h.nextID
	h.nextID++
	ch := make(chan observe.Event, buffer)
	h.watchers[id] = ch
	return id, ch
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.watchers[id]; ok {
		delete(h.watchers, id)
		close(ch)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// ServeHTTP upgrades to a websocket and streams events as JSON messages.
// The optional campaign and kind query parameters filter the stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	campaignFilter := strings.TrimSpace(r.URL.Query().Get("campaign"))
	kindFilter := strings.TrimSpace(r.URL.Query().Get("kind"))

	id, ch := h.subscribe(hubBuffer)
	defer h.unsubscribe(id)

	// Reads only serve to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case event, ok := <-ch:
			if !ok {
				return
			}
			if campaignFilter != "" && event.CampaignID != campaignFilter {
				continue
			}
			if kindFilter != "" && string(event.Kind) != kindFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
