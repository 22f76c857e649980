// Package live pushes playground state to connected host pages over a
// websocket and accepts their edits, chat requests and preview messages.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/vade/internal/agent"
	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/metrics"
	"github.com/ashureev/vade/internal/playground"
)

// sendBuffer is how many frames may queue for a slow client before it is
// disconnected.
const sendBuffer = 64

// DefaultReadLimit caps one client frame when HubConfig.ReadLimit is unset.
// Frames carry whole buffers, so it matches the HTTP body cap.
const DefaultReadLimit = 1 << 20

// TurnLimiter counts turn starts per client. *agent.RateLimiter
// implements it.
type TurnLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// HubConfig configures a Hub.
type HubConfig struct {
	// AllowedOrigin is the only Origin accepted outside development.
	// Empty or "*" accepts any.
	AllowedOrigin string
	IsDevelopment bool
	// ReadLimit is the largest frame a client may send, in bytes.
	ReadLimit int64
	// Limiter, when set, gates chat and element edit submissions.
	Limiter TurnLimiter
}

// Backend is the playground surface the live channel drives.
// *playground.Playground implements it.
type Backend interface {
	Snapshot() playground.State
	Subscribe(fn func(playground.Event)) func()
	SetCode(lang domain.Language, text string) error
	Chat(ctx context.Context, text string) (*agent.Turn, error)
	Debug(ctx context.Context, lang domain.Language) (bool, error)
	HandlePreviewMessage(raw []byte) error
	SubmitInlineEdit(ctx context.Context, instruction string) (*agent.Turn, error)
	CancelInlineEdit()
}

type client struct {
	id       string
	identity string
	conn     *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close(reason string) {
	c.once.Do(func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, reason)
	})
}

// Hub tracks connected clients and fans playground events out to them.
type Hub struct {
	backend       Backend
	metrics       *metrics.Metrics
	logger        *slog.Logger
	allowedOrigin string
	isDev         bool
	readLimit     int64
	limiter       TurnLimiter

	mu      sync.RWMutex
	clients map[string]*client

	unsubscribe func()
}

// NewHub creates a hub subscribed to backend. m may be nil.
func NewHub(backend Backend, m *metrics.Metrics, cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	h := &Hub{
		backend:       backend,
		metrics:       m,
		logger:        logger,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDevelopment,
		readLimit:     cfg.ReadLimit,
		limiter:       cfg.Limiter,
		clients:       make(map[string]*client),
	}
	h.unsubscribe = backend.Subscribe(h.broadcast)
	return h
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.setGauge(n)
	h.logger.Info("Live client registered", "client_id", c.id, "clients", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.setGauge(n)
		h.logger.Info("Live client unregistered", "client_id", c.id, "clients", n)
	}
}

func (h *Hub) setGauge(n int) {
	if h.metrics != nil {
		h.metrics.LiveClients.Set(float64(n))
	}
}

func (h *Hub) broadcast(ev playground.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode live event", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients {
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("Live client too slow, disconnecting", "client_id", c.id)
		h.unregister(c)
		c.close("client too slow")
	}
}

// Close disconnects every client and stops listening for events.
func (h *Hub) Close() {
	h.unsubscribe()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close("server shutting down")
	}
	h.setGauge(0)
}

func newClient(conn *websocket.Conn, identity string) *client {
	return &client{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
}
