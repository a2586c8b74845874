package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/notify"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// client is one websocket participant. It is the participant's notify.Handle:
// the coordinator enqueues onto send and writePump drains it.
type client struct {
	id            chain.ParticipantID
	authoritative bool
	conn          *websocket.Conn
	hub           *Hub
	log           zerolog.Logger

	mu     sync.Mutex
	send   chan []byte
	seq    uint64
	closed bool
}

var _ notify.Handle = (*client)(nil)

// Deliver never blocks. A client whose queue is full is disconnected.
func (c *client) Deliver(m notify.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return notify.ErrClosed
	}
	data, err := Encode(c.seq+1, m)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	select {
	case c.send <- data:
		c.seq++
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	c.log.Warn().Msg("ws client too slow, disconnecting")
	c.hub.Remove(c)
	return notify.ErrQueueFull
}

// refuse queues a rejection explaining why the session turned the
// connection away. writePump flushes it before the close frame.
func (c *client) refuse(err error) {
	_ = c.Deliver(notify.Message{Kind: notify.KindRejected, Reason: "connect: " + err.Error()})
}

// close reports whether this call closed the queue.
func (c *client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.Remove(c)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("ws write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes requests until the connection fails and hands each to
// handle. Malformed frames are answered with a rejection.
func (c *client) readPump(handle func(*client, Request)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("ws read failed")
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.Deliver(notify.Message{Kind: notify.KindRejected, Reason: "malformed request"})
			continue
		}
		handle(c, req)
	}
}
