package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/config"
	"github.com/chainhunt/backend/internal/metrics"
	"github.com/chainhunt/backend/internal/notify"
	"github.com/chainhunt/backend/internal/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	testAuthToken = "players"
	testHostToken = "host"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			AuthToken:      testAuthToken,
			HostToken:      testHostToken,
			MaxConnections: 16,
		},
		Session: config.SessionConfig{
			Duration:     time.Minute,
			TickInterval: 10 * time.Millisecond,
			QueueSize:    64,
			InboxSize:    64,
		},
	}
}

type testEnv struct {
	t     *testing.T
	srv   *httptest.Server
	coord *session.Coordinator
	ws    *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	coord := session.NewCoordinator(session.Config{
		Duration:     cfg.Session.Duration,
		TickInterval: cfg.Session.TickInterval,
		InboxSize:    cfg.Session.InboxSize,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	m := metrics.New()
	coord.SetObserver(m)
	s := NewServer(cfg, coord, zerolog.Nop(), m)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-coord.Done()
	})
	return &testEnv{t: t, srv: srv, coord: coord, ws: s}
}

func (e *testEnv) dial(id, token string) *websocket.Conn {
	e.t.Helper()
	q := url.Values{"id": {id}, "name": {id}, "token": {token}}
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		e.t.Fatalf("dial %s: %v", id, err)
	}
	e.t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *testEnv) post(path, token, body string) *http.Response {
	e.t.Helper()
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("POST %s: %v", path, err)
	}
	e.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// waitFor reads envelopes until one of type typ satisfies match.
func waitFor(t *testing.T, conn *websocket.Conn, typ MessageType, match func(Envelope) bool) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if env.Type == typ && (match == nil || match(env)) {
			return env
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestAuthorize(t *testing.T) {
	s := NewServer(testConfig(), nil, zerolog.Nop(), nil)

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantAuth   bool
		wantIsHost bool
	}{
		{"no token", func(*http.Request) {}, false, false},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=" + testAuthToken }, true, false},
		{"header token", func(r *http.Request) { r.Header.Set(TokenHeader, testAuthToken) }, true, false},
		{"bearer host", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+testHostToken) }, true, true},
		{"wrong token", func(r *http.Request) { r.Header.Set(TokenHeader, "guess") }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			tt.setup(r)
			if got := s.authorize(r); got != tt.wantAuth {
				t.Errorf("authorize() = %v, want %v", got, tt.wantAuth)
			}
			if got := s.isHost(r); got != tt.wantIsHost {
				t.Errorf("isHost() = %v, want %v", got, tt.wantIsHost)
			}
		})
	}
}

func TestIsHostWithoutHostToken(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HostToken = ""
	s := NewServer(cfg, nil, zerolog.Nop(), nil)
	r := httptest.NewRequest(http.MethodPost, "/api/session/start", nil)
	if s.isHost(r) {
		t.Error("request without token is host when no host token is configured")
	}
}

func TestCheckOrigin(t *testing.T) {
	open := NewServer(testConfig(), nil, zerolog.Nop(), nil)
	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"https://game.example"}
	restricted := NewServer(cfg, nil, zerolog.Nop(), nil)

	tests := []struct {
		name   string
		s      *Server
		origin string
		want   bool
	}{
		{"no origin", open, "", true},
		{"localhost", open, "http://localhost:5173", true},
		{"loopback v6", open, "http://[::1]:3000", true},
		{"same host", open, "http://example.com", true},
		{"foreign", open, "http://evil.example", false},
		{"allowed", restricted, "https://game.example", true},
		{"not allowed", restricted, "http://localhost:5173", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := tt.s.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestWSRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?id=a"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestSessionFlowOverHTTPAndWS(t *testing.T) {
	e := newTestEnv(t)

	a := e.dial("a", testAuthToken)
	b := e.dial("b", testAuthToken)
	c := e.dial("c", testAuthToken)
	for _, conn := range []*websocket.Conn{a, b, c} {
		waitFor(t, conn, MsgWelcome, nil)
	}

	// A plain participant may not start the session.
	if err := a.WriteJSON(Request{Type: ReqStart}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, a, MsgRejected, nil)

	if resp := e.post("/api/session/start", testAuthToken, ""); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("start with player token = %d, want 403", resp.StatusCode)
	}
	resp := e.post("/api/session/start", testHostToken, "")
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("start = %d: %s", resp.StatusCode, body)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Phase != session.InProgress || snap.Active != 3 {
		t.Errorf("snapshot after start = %+v", snap)
	}

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/graph", nil)
	req.Header.Set(TokenHeader, testHostToken)
	gresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer gresp.Body.Close()
	var edges map[chain.ParticipantID]chain.ParticipantID
	if err := json.NewDecoder(gresp.Body).Decode(&edges); err != nil {
		t.Fatal(err)
	}
	if len(edges) != 3 {
		t.Fatalf("graph = %v, want 3 edges", edges)
	}
	victim := edges["a"]

	body := `{"killer":"a","target":"` + string(victim) + `"}`
	if resp := e.post("/api/session/kill", testHostToken, body); resp.StatusCode != http.StatusOK {
		t.Fatalf("kill = %d", resp.StatusCode)
	}
	inherited := edges[victim]
	waitFor(t, a, MsgTarget, func(env Envelope) bool {
		var p TargetPayload
		return json.Unmarshal(env.Payload, &p) == nil && p.Target == inherited
	})

	if resp := e.post("/api/session/kill", testHostToken, body); resp.StatusCode != http.StatusNotFound {
		t.Errorf("repeat kill = %d, want 404", resp.StatusCode)
	}
	if resp := e.post("/api/session/end", testHostToken, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("end = %d", resp.StatusCode)
	}
	if resp := e.post("/api/session/end", testHostToken, ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("second end = %d, want 409", resp.StatusCode)
	}
}

func TestResyncOverWS(t *testing.T) {
	e := newTestEnv(t)
	a := e.dial("a", testAuthToken)
	first := waitFor(t, a, MsgWelcome, nil)

	if err := a.WriteJSON(Request{Type: ReqResync}); err != nil {
		t.Fatal(err)
	}
	again := waitFor(t, a, MsgWelcome, nil)
	if again.Seq <= first.Seq {
		t.Errorf("seq did not advance: %d then %d", first.Seq, again.Seq)
	}
}

func TestMalformedRequestRejected(t *testing.T) {
	e := newTestEnv(t)
	a := e.dial("a", testAuthToken)
	waitFor(t, a, MsgWelcome, nil)

	if err := a.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	env := waitFor(t, a, MsgRejected, nil)
	var p RejectedPayload
	_ = json.Unmarshal(env.Payload, &p)
	if p.Reason != "malformed request" {
		t.Errorf("reason = %q", p.Reason)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Phase != "not_started" {
		t.Errorf("health = %+v", h)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("security headers missing on API: %q", got)
	}

	mresp, err := http.Get(e.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer mresp.Body.Close()
	body, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(body), "chainhunt_http_requests_total") {
		t.Error("metrics endpoint missing http counters")
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	e := newTestEnv(t)
	a := e.dial("a", testAuthToken)
	waitFor(t, a, MsgWelcome, nil)
	a.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.coord.Snapshot().Participants) == 0 && e.ws.Hub().ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("participant still registered: %+v", e.coord.Snapshot().Participants)
}

func TestKillOverWSUsesTargetField(t *testing.T) {
	e := newTestEnv(t)
	host := e.dial("host", testHostToken)
	a := e.dial("a", testAuthToken)
	b := e.dial("b", testAuthToken)
	for _, conn := range []*websocket.Conn{host, a, b} {
		waitFor(t, conn, MsgWelcome, nil)
	}
	if err := host.WriteJSON(Request{Type: ReqStart}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, a, MsgState, func(env Envelope) bool {
		var st StatePayload
		return json.Unmarshal(env.Payload, &st) == nil && st.InProgress
	})

	victim := e.coord.Edges()["a"]
	inherited := e.coord.Edges()[victim]
	frame := `{"type":"kill","killer":"a","target":"` + string(victim) + `"}`
	if err := host.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, a, MsgTarget, func(env Envelope) bool {
		var p TargetPayload
		return json.Unmarshal(env.Payload, &p) == nil && p.Target == inherited
	})
	if snap := e.coord.Snapshot(); snap.Active != 2 {
		t.Errorf("active = %d after kill, want 2", snap.Active)
	}
}

func TestDuplicateIDRefusedBySession(t *testing.T) {
	e := newTestEnv(t)
	bot := notify.NewQueue(64)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.coord.Connect(ctx, "bot-viper", "viper", false, bot); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	a := e.dial("a", testAuthToken)
	waitFor(t, a, MsgWelcome, nil)

	dup := e.dial("bot-viper", testAuthToken)
	env := waitFor(t, dup, MsgRejected, nil)
	var p RejectedPayload
	_ = json.Unmarshal(env.Payload, &p)
	if !strings.Contains(p.Reason, session.ErrAlreadyRegistered.Error()) {
		t.Errorf("refusal reason = %q", p.Reason)
	}
	_ = dup.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := dup.ReadMessage(); err != nil {
			break
		}
	}
	dup.Close()

	// Leave time for any departure to reach the coordinator.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(e.coord.Snapshot().Participants) != 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	ids := map[chain.ParticipantID]bool{}
	for _, p := range e.coord.Snapshot().Participants {
		ids[p.ID] = true
	}
	if len(ids) != 2 || !ids["bot-viper"] || !ids["a"] {
		t.Errorf("participants = %v, want bot-viper and a", ids)
	}
}
