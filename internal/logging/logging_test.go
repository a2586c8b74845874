package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{" WARN ", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"loud", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("chainhunt", "info", false, &buf)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("participant", "a").Msg("joined")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["app"] != "chainhunt" || entry["participant"] != "a" || entry["message"] != "joined" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New("x", "chatty", false, &bytes.Buffer{}); err == nil {
		t.Error("New() accepted an unknown level")
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var gotStatus int
	var gotPath string
	record := func(method, path string, status int, _ time.Duration) {
		gotPath, gotStatus = path, status
	}
	h := RequestLogger(logger, record, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if gotStatus != http.StatusForbidden || gotPath != "/api/session" {
		t.Errorf("recorded %s %d", gotPath, gotStatus)
	}
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), `"status":403`) {
		t.Errorf("log = %s", buf.String())
	}
}

func TestRequestLoggerDefaultsToOK(t *testing.T) {
	var status int
	h := RequestLogger(zerolog.Nop(), func(_, _ string, s int, _ time.Duration) { status = s },
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
}
