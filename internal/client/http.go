package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chainhunt/backend/internal/chain"
	"github.com/chainhunt/backend/internal/session"
)

// HTTPClient makes REST calls to the session API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Session fetches /api/session.
func (c *HTTPClient) Session() (*session.Snapshot, error) {
	var s session.Snapshot
	if err := c.get("/api/session", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Graph fetches /api/graph. Requires the host token.
func (c *HTTPClient) Graph() (map[chain.ParticipantID]chain.ParticipantID, error) {
	var out map[chain.ParticipantID]chain.ParticipantID
	if err := c.get("/api/graph", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) Start() (*session.Snapshot, error) {
	var s session.Snapshot
	if err := c.post("/api/session/start", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) Kill(killer, victim chain.ParticipantID) (*session.Snapshot, error) {
	body := map[string]chain.ParticipantID{"killer": killer, "target": victim}
	var s session.Snapshot
	if err := c.post("/api/session/kill", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) End() (*session.Snapshot, error) {
	var s session.Snapshot
	if err := c.post("/api/session/end", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) post(path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST %s: %d %s", path, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
