// Package client talks to a chainhunt server as a participant or host.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/ws"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var ErrNotConnected = errors.New("not connected")

// WSClient manages one participant's websocket connection.
type WSClient struct {
	url string
	log zerolog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes
	conn    *websocket.Conn
	seq     uint64
	gaps    int
	pingCtx context.CancelFunc
}

// NewWSClient builds the /ws URL for id, name and token from a base such as
// ws://127.0.0.1:8080. An empty id lets the server assign one.
func NewWSClient(base, id, name, token string, log zerolog.Logger) (*WSClient, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	if id != "" {
		q.Set("id", id)
	}
	if name != "" {
		q.Set("name", name)
	}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return &WSClient{url: u.String(), log: log}, nil
}

// --- Bubble Tea messages ---

type WSConnectedMsg struct{}

type WSDisconnectedMsg struct{ Err error }

type WSWelcomeMsg struct{ Payload ws.WelcomePayload }

// WSTargetMsg carries the participant's target; empty means none.
type WSTargetMsg struct{ Target chain.ParticipantID }

type WSPursuersMsg struct{ Pursuers []chain.ParticipantID }

type WSStateMsg struct{ Payload ws.StatePayload }

type WSRejectedMsg struct{ Reason string }

// Listen returns a Bubble Tea command that connects, retrying with backoff
// until it succeeds or ctx is done.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		if err := c.Connect(ctx); err != nil {
			return WSDisconnectedMsg{Err: err}
		}
		return WSConnectedMsg{}
	}
}

// Connect dials with exponential backoff.
func (c *WSClient) Connect(ctx context.Context) error {
	delay := reconnectBaseDelay
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err == nil {
			c.attach(ctx, conn)
			return nil
		}
		c.log.Debug().Err(err).Dur("retry_in", delay).Msg("ws dial error")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}

func (c *WSClient) attach(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	pingCtx, pingCancel := context.WithCancel(ctx)
	c.conn = conn
	c.seq = 0
	c.pingCtx = pingCancel
	c.mu.Unlock()

	go c.pingLoop(pingCtx, conn)
}

// ReadLoop returns a Bubble Tea command that reads until the next message
// worth surfacing. Re-issue it after every message.
func (c *WSClient) ReadLoop() tea.Cmd {
	return func() tea.Msg {
		msg, err := c.Next()
		if err != nil {
			return WSDisconnectedMsg{Err: err}
		}
		return msg
	}
}

// Next blocks for the next decoded server message. A sequence gap triggers
// a resync request.
func (c *WSClient) Next() (tea.Msg, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
			return nil, err
		}

		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		c.mu.Lock()
		gap := c.seq != 0 && env.Seq != c.seq+1
		if gap {
			c.gaps++
		}
		c.seq = env.Seq
		c.mu.Unlock()
		if gap {
			c.log.Warn().Uint64("seq", env.Seq).Msg("sequence gap, resyncing")
			_ = c.Resync()
		}

		if msg := dispatch(env); msg != nil {
			return msg, nil
		}
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *WSClient) send(req ws.Request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(req)
}

// Resync asks the server to resend welcome, edges and state.
func (c *WSClient) Resync() error {
	return c.send(ws.Request{Type: ws.ReqResync})
}

// Start requests a session start. Only host connections are obeyed.
func (c *WSClient) Start() error {
	return c.send(ws.Request{Type: ws.ReqStart})
}

// End requests the session end. Only host connections are obeyed.
func (c *WSClient) End() error {
	return c.send(ws.Request{Type: ws.ReqEnd})
}

// ReportKill reports killer eliminating victim. Only host connections are
// obeyed; an empty killer means this connection's participant.
func (c *WSClient) ReportKill(killer, victim chain.ParticipantID) error {
	return c.send(ws.Request{Type: ws.ReqKill, Killer: killer, Target: victim})
}

// Close drops the connection and stops pinging.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Gaps returns how many sequence gaps were detected.
func (c *WSClient) Gaps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gaps
}

func dispatch(env ws.Envelope) tea.Msg {
	switch env.Type {
	case ws.MsgWelcome:
		var p ws.WelcomePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return WSWelcomeMsg{Payload: p}
		}
	case ws.MsgTarget:
		var p ws.TargetPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return WSTargetMsg{Target: p.Target}
		}
	case ws.MsgPursuers:
		var p ws.PursuersPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return WSPursuersMsg{Pursuers: p.Pursuers}
		}
	case ws.MsgState:
		var p ws.StatePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return WSStateMsg{Payload: p}
		}
	case ws.MsgRejected:
		var p ws.RejectedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			return WSRejectedMsg{Reason: p.Reason}
		}
	}
	return nil
}
