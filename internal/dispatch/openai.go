package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"llmtrayd/pkg/types"
)

// chatClient speaks the OpenAI-compatible chat-completion protocol.
// Both connection kinds use it; the registry's kind only decides
// whether container lifecycle controls apply.
type chatClient struct {
	httpClient *http.Client
}

func newChatClient(connectTimeout time.Duration) *chatClient {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	// Timeout stays 0: per-request deadlines come from the context so a
	// caller-side cancel releases the transport promptly.
	return &chatClient{httpClient: &http.Client{Transport: tr, Timeout: 0}}
}

type chatCompletionRequest struct {
	Model         string              `json:"model"`
	Messages      []types.ChatMessage `json:"messages"`
	Stream        bool                `json:"stream"`
	StreamOptions *streamOptions      `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *types.Usage `json:"usage"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *types.Usage `json:"usage"`
}

// chatResult is one backend's complete answer.
type chatResult struct {
	Text  string
	Usage *types.Usage
}

// complete issues one chat-completion request. When stream is set,
// onDelta is invoked for each text chunk in arrival order; the final
// payload's usage counters are returned either way.
func (c *chatClient) complete(ctx context.Context, conn types.Connection, model string, msgs []types.ChatMessage, stream bool, onDelta func(string) error) (chatResult, error) {
	payload := chatCompletionRequest{Model: model, Messages: msgs, Stream: stream}
	if stream {
		payload.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return chatResult{}, err
	}
	u := strings.TrimRight(conn.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return chatResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if conn.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+conn.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return chatResult{}, ctx.Err()
		}
		return chatResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return chatResult{}, classifyHTTPError(resp, model)
	}
	if stream && strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return c.consumeStream(ctx, resp.Body, onDelta)
	}
	return c.consumeSingle(resp.Body, onDelta)
}

// consumeSingle parses a non-streamed completion payload.
func (c *chatClient) consumeSingle(body io.Reader, onDelta func(string) error) (chatResult, error) {
	var out chatCompletionResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return chatResult{}, ErrProtocol("malformed completion payload: " + err.Error())
	}
	if len(out.Choices) == 0 {
		return chatResult{}, ErrProtocol("completion payload has no choices")
	}
	text := out.Choices[0].Message.Content
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return chatResult{}, err
		}
	}
	return chatResult{Text: text, Usage: out.Usage}, nil
}

// consumeStream parses Server-Sent Events, appending delta chunks in
// send order. The final event before [DONE] carries usage when the
// backend reports it.
func (c *chatClient) consumeStream(ctx context.Context, body io.Reader, onDelta func(string) error) (chatResult, error) {
	r := bufio.NewReader(body)
	var b strings.Builder
	var usage *types.Usage
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSpace(line)
			if line != "" && strings.HasPrefix(strings.ToLower(line), "data:") {
				data := strings.TrimSpace(line[len("data:"):])
				if data == "[DONE]" {
					break
				}
				var msg chatStreamResponse
				if uerr := json.Unmarshal([]byte(data), &msg); uerr != nil {
					return chatResult{}, ErrProtocol("malformed stream chunk: " + uerr.Error())
				}
				if msg.Usage != nil {
					usage = msg.Usage
				}
				if len(msg.Choices) > 0 {
					if frag := msg.Choices[0].Delta.Content; frag != "" {
						b.WriteString(frag)
						if onDelta != nil {
							if cbErr := onDelta(frag); cbErr != nil {
								return chatResult{Text: b.String(), Usage: usage}, cbErr
							}
						}
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return chatResult{Text: b.String(), Usage: usage}, ctx.Err()
			}
			return chatResult{Text: b.String(), Usage: usage}, err
		}
	}
	return chatResult{Text: b.String(), Usage: usage}, nil
}

// classifyHTTPError maps a non-success completion response onto the
// error taxonomy. A 404, or a body blaming the model, means the model
// is not served there; dispatch must not fall back silently.
func classifyHTTPError(resp *http.Response, model string) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(b))
	low := strings.ToLower(msg)
	if resp.StatusCode == http.StatusNotFound ||
		(strings.Contains(low, "model") && strings.Contains(low, "not found")) {
		return ErrModelUnavailable(model)
	}
	return fmt.Errorf("chat request failed: %s: %s", resp.Status, msg)
}
