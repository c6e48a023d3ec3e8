package trayctl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"llmtrayd/pkg/types"
)

func TestClientConnections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/connections" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"connections":[{"id":"a","kind":"remote-api","base_url":"http://h"}],"active":["a"]}`)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)
	resp, err := c.Connections(context.Background())
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	if len(resp.Connections) != 1 || resp.Connections[0].ID != "a" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"base_url is required","code":400}`)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)
	_, err := c.AddConnection(context.Background(), types.Connection{})
	if err == nil || err.Error() != "base_url is required" {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestClientChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"connection_id":"a","delta":"hel"}`)
		fmt.Fprintln(w, `{"connection_id":"a","delta":"lo"}`)
		fmt.Fprintln(w, `{"connection_id":"a","record":{"connection_id":"a","text":"hello","state":"complete"}}`)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)
	var text string
	var terminal *types.ChatRecord
	err := c.Chat(context.Background(), types.ChatRequest{
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
		Model:    "m",
	}, func(ev types.ChatEvent) error {
		text += ev.Delta
		if ev.Record != nil {
			terminal = ev.Record
		}
		return nil
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if text != "hello" || terminal == nil || terminal.State != types.RecordComplete {
		t.Fatalf("unexpected stream result: text=%q record=%+v", text, terminal)
	}
}

func TestClientPullModelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"line":"pulling manifest"}`)
		fmt.Fprintln(w, `{"done":true,"error":"manifest unknown"}`)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL)
	var lines []string
	err := c.PullModel(context.Background(), "", "nope", func(line string) error {
		lines = append(lines, line)
		return nil
	})
	if err == nil || err.Error() != "manifest unknown" {
		t.Fatalf("expected pull failure, got %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("progress lines lost: %v", lines)
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	c := NewClient("127.0.0.1:8080")
	if c.base != "http://127.0.0.1:8080" {
		t.Fatalf("scheme not added: %q", c.base)
	}
}
