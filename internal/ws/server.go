package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/config"
	"github.com/chainhunt/backend/internal/logging"
	"github.com/chainhunt/backend/internal/metrics"
	"github.com/chainhunt/backend/internal/notify"
	"github.com/chainhunt/backend/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// TokenHeader carries the auth or host token when a query parameter or
// bearer token is not convenient.
const TokenHeader = "X-Chainhunt-Token"

const replyTimeout = 2 * time.Second

// Session is the coordinator surface the server drives.
type Session interface {
	Connect(ctx context.Context, id chain.ParticipantID, name string, authoritative bool, h notify.Handle) error
	Disconnect(id chain.ParticipantID, h notify.Handle)
	RequestStart(caller session.Caller, reply chan<- error) error
	ReportKill(caller session.Caller, killer, victim chain.ParticipantID, reply chan<- error) error
	End(caller session.Caller, reply chan<- error) error
	Resync(id chain.ParticipantID) error
	Snapshot() *session.Snapshot
	Edges() map[chain.ParticipantID]chain.ParticipantID
}

type Server struct {
	session        Session
	hub            *Hub
	log            zerolog.Logger
	metrics        *metrics.Metrics
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	hostToken      string
	started        time.Time
}

// NewServer wires the HTTP and websocket surface. m may be nil.
func NewServer(cfg *config.Config, sess Session, log zerolog.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		session:        sess,
		hub:            NewHub(cfg.Server.MaxConnections, cfg.Session.QueueSize, log.With().Str("component", "ws").Logger()),
		log:            log.With().Str("component", "http").Logger(),
		metrics:        m,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		hostToken:      cfg.Server.HostToken,
		started:        time.Now(),
	}
	if m != nil {
		s.hub.onClose = m.ConnectionClosed
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Hub exposes the connection tracker.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/kill", s.handleKill)
	mux.HandleFunc("POST /api/session/end", s.handleEnd)
	mux.HandleFunc("GET /api/graph", s.handleGraph)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// Handler returns the full route set behind the access log and security
// headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	var record logging.RequestFunc
	if s.metrics != nil {
		record = s.metrics.RecordHTTPRequest
	}
	return securityHeaders(logging.RequestLogger(s.log, record, mux))
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	authoritative := s.isHost(r)

	q := r.URL.Query()
	id := chain.ParticipantID(strings.TrimSpace(q.Get("id")))
	if id == "" {
		id = chain.ParticipantID(uuid.NewString())
	}
	name := strings.TrimSpace(q.Get("name"))

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade error")
		return
	}

	c, err := s.hub.Add(id, conn, authoritative)
	if err != nil {
		s.log.Warn().Err(err).Str("participant", string(id)).Msg("ws connection refused")
		code := websocket.ClosePolicyViolation
		if errors.Is(err, ErrTooManyConnections) {
			code = websocket.CloseTryAgainLater
		}
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	go c.writePump()

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	err = s.session.Connect(ctx, id, name, authoritative, c)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Str("participant", string(id)).Msg("session refused connection")
		c.refuse(err)
		s.hub.Remove(c)
		if !errors.Is(err, session.ErrAlreadyRegistered) {
			// A join that timed out may still be applied later.
			s.session.Disconnect(id, c)
		}
		return
	}
	s.log.Info().Str("participant", string(id)).Str("remote", r.RemoteAddr).
		Bool("authoritative", authoritative).Msg("ws client connected")

	go func() {
		defer func() {
			s.session.Disconnect(id, c)
			s.hub.Remove(c)
			s.log.Info().Str("participant", string(id)).Msg("ws client disconnected")
		}()
		c.readPump(s.handleRequest)
	}()
}

func (s *Server) handleRequest(c *client, req Request) {
	caller := session.Caller{ID: c.id, Authoritative: c.authoritative}
	var err error
	switch req.Type {
	case ReqStart:
		err = s.session.RequestStart(caller, nil)
	case ReqKill:
		killer := req.Killer
		if killer == "" {
			killer = c.id
		}
		err = s.session.ReportKill(caller, killer, req.Target, nil)
	case ReqEnd:
		err = s.session.End(caller, nil)
	case ReqResync:
		err = s.session.Resync(c.id)
	default:
		_ = c.Deliver(notify.Message{Kind: notify.KindRejected, Reason: "unknown request " + string(req.Type)})
		return
	}
	if err != nil {
		_ = c.Deliver(notify.Message{Kind: notify.KindRejected, Reason: string(req.Type) + ": " + err.Error()})
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if !s.isHost(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Edges())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.isHost(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.await(w, func(reply chan<- error) error {
		return s.session.RequestStart(session.Upstream, reply)
	})
}

type killRequest struct {
	Killer chain.ParticipantID `json:"killer"`
	Target chain.ParticipantID `json:"target"`
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	if !s.isHost(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req killRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil {
		http.Error(w, "invalid kill request", http.StatusBadRequest)
		return
	}
	s.await(w, func(reply chan<- error) error {
		return s.session.ReportKill(session.Upstream, req.Killer, req.Target, reply)
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if !s.isHost(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.await(w, func(reply chan<- error) error {
		return s.session.End(session.Upstream, reply)
	})
}

// await submits a request and waits for the coordinator's verdict.
func (s *Server) await(w http.ResponseWriter, submit func(chan<- error) error) {
	reply := make(chan error, 1)
	if err := submit(reply); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	select {
	case err := <-reply:
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, s.session.Snapshot())
	case <-time.After(replyTimeout):
		http.Error(w, "session did not answer", http.StatusGatewayTimeout)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, session.ErrUnknownParticipant):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSelfKill):
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

type healthResponse struct {
	Status      string  `json:"status"`
	Phase       string  `json:"phase"`
	Connections int     `json:"connections"`
	UptimeSec   int64   `json:"uptimeSec"`
	RSSBytes    uint64  `json:"rssBytes,omitempty"`
	CPUPercent  float64 `json:"cpuPercent,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Phase:       s.session.Snapshot().Phase.String(),
		Connections: s.hub.ClientCount(),
		UptimeSec:   int64(time.Since(s.started).Seconds()),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			resp.RSSBytes = mem.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = cpu
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if tok := r.Header.Get(TokenHeader); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authorize admits participants. The host token is always accepted.
func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	tok := requestToken(r)
	return tok == s.authToken || (s.hostToken != "" && tok == s.hostToken)
}

// isHost reports whether r carries the host token. Without a configured host
// token nobody is the host.
func (s *Server) isHost(r *http.Request) bool {
	return s.hostToken != "" && requestToken(r) == s.hostToken
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ListenAndServe serves until ctx is cancelled, then drains connections.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
