package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efreitasn/marketsim/internal/sim"
)

type subscription[T any] struct {
	ch chan T
}

// hub fans values out to subscribers. A subscriber whose buffer is full
// misses the value.
type hub[T any] struct {
	mu   sync.RWMutex
	subs map[*subscription[T]]struct{}
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[*subscription[T]]struct{})}
}

func (h *hub[T]) subscribe(buffer int) *subscription[T] {
	sub := &subscription[T]{ch: make(chan T, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub[T]) unsubscribe(sub *subscription[T]) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (h *hub[T]) broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- value:
		default:
		}
	}
}

func (h *hub[T]) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

func (h *hub[T]) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// outboundMessage is the websocket envelope.
type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	streamBuffer = 32
	writeWait    = 5 * time.Second
)

// RoundHub streams completed rounds to websocket clients. It is a
// sim.Observer and never slows the simulation down: slow clients drop
// rounds.
type RoundHub struct {
	hub      *hub[roundResponse]
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

var _ sim.Observer = (*RoundHub)(nil)

// NewRoundHub creates an empty hub.
func NewRoundHub(logger *slog.Logger) *RoundHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoundHub{
		hub:      newHub[roundResponse](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
	}
}

// ObserveRound broadcasts the round summary.
func (h *RoundHub) ObserveRound(_ context.Context, r *sim.RoundResult) error {
	h.hub.broadcast(buildRoundResponse(r))
	return nil
}

// Subscribers returns the number of connected clients.
func (h *RoundHub) Subscribers() int {
	return h.hub.count()
}

// Close disconnects every client.
func (h *RoundHub) Close() {
	h.hub.closeAll()
}

// Stream handles GET /ws/rounds.
func (h *RoundHub) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := h.hub.subscribe(streamBuffer)
	defer h.hub.unsubscribe(sub)

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case round, ok := <-sub.ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(outboundMessage{Type: "round", Data: round}); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
