// Package trayctl implements the command-line client for the daemon.
package trayctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"llmtrayd/pkg/types"
)

// Client is a thin HTTP client for the daemon API.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient builds a Client for the given daemon address.
func NewClient(base string) *Client {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		// No client timeout: chat and pull streams run long, the
		// context bounds each call instead.
		hc: &http.Client{Timeout: 0},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// stream issues a request whose response is NDJSON, invoking onLine for
// each line until EOF.
func (c *Client) stream(ctx context.Context, method, path string, in any, onLine func([]byte) error) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	s := bufio.NewScanner(resp.Body)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for s.Scan() {
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := onLine(line); err != nil {
			return err
		}
	}
	return s.Err()
}

func apiError(resp *http.Response) error {
	var er types.ErrorResponse
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		return errors.New(er.Error)
	}
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
}

func (c *Client) Connections(ctx context.Context) (types.ConnectionsResponse, error) {
	var out types.ConnectionsResponse
	err := c.doJSON(ctx, http.MethodGet, "/connections", nil, &out)
	return out, err
}

func (c *Client) AddConnection(ctx context.Context, conn types.Connection) (types.Connection, error) {
	var out types.Connection
	err := c.doJSON(ctx, http.MethodPost, "/connections", conn, &out)
	return out, err
}

func (c *Client) RemoveConnection(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/connections/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Active(ctx context.Context) ([]string, error) {
	var out struct {
		IDs []string `json:"ids"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/active", nil, &out)
	return out.IDs, err
}

func (c *Client) SetActive(ctx context.Context, ids []string) error {
	return c.doJSON(ctx, http.MethodPut, "/active", types.ActiveRequest{IDs: ids}, nil)
}

func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var out types.StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Chat streams the dispatch, calling onEvent per NDJSON event.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest, onEvent func(types.ChatEvent) error) error {
	return c.stream(ctx, http.MethodPost, "/chat", req, func(line []byte) error {
		var ev types.ChatEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("malformed chat event: %w", err)
		}
		return onEvent(ev)
	})
}

func (c *Client) Models(ctx context.Context, connID string) (types.ModelsResponse, error) {
	var out types.ModelsResponse
	err := c.doJSON(ctx, http.MethodGet, "/models"+connQuery(connID), nil, &out)
	return out, err
}

// PullModel streams pull progress lines to onLine.
func (c *Client) PullModel(ctx context.Context, connID, name string, onLine func(string) error) error {
	var pullErr error
	err := c.stream(ctx, http.MethodPost, "/models/pull"+connQuery(connID), types.PullRequest{Name: name}, func(line []byte) error {
		var ev struct {
			Line  string `json:"line"`
			Done  bool   `json:"done"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("malformed pull event: %w", err)
		}
		if ev.Done && ev.Error != "" {
			pullErr = errors.New(ev.Error)
			return nil
		}
		if ev.Line != "" {
			return onLine(ev.Line)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return pullErr
}

func (c *Client) RemoveModel(ctx context.Context, connID, name string) error {
	return c.doJSON(ctx, http.MethodDelete, "/models/"+url.PathEscape(name)+connQuery(connID), nil, nil)
}

// Process mirrors the daemon's view of one running container.
type Process struct {
	Name    string `json:"name"`
	Image   string `json:"image,omitempty"`
	Status  string `json:"status,omitempty"`
	Running bool   `json:"running"`
}

func (c *Client) Processes(ctx context.Context) ([]Process, error) {
	var out struct {
		Processes []Process `json:"processes"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/server/processes", nil, &out)
	return out.Processes, err
}

func (c *Client) ServerStart(ctx context.Context, connID string) error {
	return c.doJSON(ctx, http.MethodPost, "/server/start"+connQuery(connID), nil, nil)
}

func (c *Client) ServerStop(ctx context.Context, connID string) error {
	return c.doJSON(ctx, http.MethodPost, "/server/stop"+connQuery(connID), nil, nil)
}

func (c *Client) Settings(ctx context.Context) (types.SettingsResponse, error) {
	var out types.SettingsResponse
	err := c.doJSON(ctx, http.MethodGet, "/settings", nil, &out)
	return out, err
}

func (c *Client) SetPollInterval(ctx context.Context, seconds int) (types.SettingsResponse, error) {
	var out types.SettingsResponse
	err := c.doJSON(ctx, http.MethodPut, "/settings", types.SettingsRequest{PollIntervalSeconds: seconds}, &out)
	return out, err
}

func (c *Client) SetProbeTimeout(ctx context.Context, seconds int) (types.SettingsResponse, error) {
	var out types.SettingsResponse
	err := c.doJSON(ctx, http.MethodPut, "/settings", types.SettingsRequest{ProbeTimeoutSeconds: seconds}, &out)
	return out, err
}

func connQuery(connID string) string {
	if connID == "" {
		return ""
	}
	return "?connection_id=" + url.QueryEscape(connID)
}

// waitCtx is the default per-command deadline for non-streaming calls.
func waitCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}
