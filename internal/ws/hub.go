package ws

import (
	"errors"
	"sync"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrTooManyConnections = errors.New("too many websocket connections")
	ErrDuplicateID        = errors.New("participant id already connected")
)

// Hub tracks open participant connections. Zero maxConns means unlimited.
type Hub struct {
	mu        sync.RWMutex
	clients   map[chain.ParticipantID]*client
	maxConns  int
	queueSize int
	log       zerolog.Logger
	onClose   func()
}

func NewHub(maxConns, queueSize int, log zerolog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		clients:   make(map[chain.ParticipantID]*client),
		maxConns:  maxConns,
		queueSize: queueSize,
		log:       log,
	}
}

// Add registers conn for id. The write pump is not started.
func (h *Hub) Add(id chain.ParticipantID, conn *websocket.Conn, authoritative bool) (*client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[id]; ok {
		return nil, ErrDuplicateID
	}
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		return nil, ErrTooManyConnections
	}
	c := &client{
		id:            id,
		authoritative: authoritative,
		conn:          conn,
		hub:           h,
		send:          make(chan []byte, h.queueSize),
		log:           h.log.With().Str("participant", string(id)).Logger(),
	}
	h.clients[id] = c
	return c, nil
}

// Remove unregisters c and closes its send queue. It is safe to call more
// than once.
func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	cur, ok := h.clients[c.id]
	if ok && cur == c {
		delete(h.clients, c.id)
	}
	h.mu.Unlock()

	if c.close() && h.onClose != nil {
		h.onClose()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll drops every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Remove(c)
	}
}
