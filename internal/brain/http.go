package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okibrian/valet/internal/reliability"
)

const (
	httpChatAttempts    = 3
	httpChatBackoffBase = 500 * time.Millisecond
	httpChatBackoffCap  = 5 * time.Second
)

// HTTPChatter posts to an OpenAI-compatible chat-completions endpoint.
type HTTPChatter struct {
	url    string
	client *http.Client
}

func NewHTTPChatter(url string) *HTTPChatter {
	return &HTTPChatter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

func (c *HTTPChatter) Name() string { return "http" }

type httpChatPayload struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

func (c *HTTPChatter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	payload, err := json.Marshal(httpChatPayload{
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpChatAttempts; attempt++ {
		if attempt > 0 {
			backoff := reliability.ExponentialBackoff(attempt, httpChatBackoffBase, httpChatBackoffCap)
			select {
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, retryable, err := c.doChat(ctx, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return ChatResponse{}, lastErr
}

// doChat performs a single request. The second return reports whether
// the failure is transient and worth retrying.
func (c *HTTPChatter) doChat(ctx context.Context, payload []byte) (ChatResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return ChatResponse{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, reliability.IsRetryableSendError(err), fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("brain http status %d: %s", res.StatusCode, string(body))
		return ChatResponse{}, reliability.IsRetryableHTTPStatus(res.StatusCode), err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return ChatResponse{}, false, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text := strings.TrimSpace(string(body))
		return ChatResponse{Content: text}, false, nil
	}
	return ChatResponse{Content: extractText(obj)}, false, nil
}

// extractText pulls the reply out of the common response shapes:
// a bare {"content": ...} object or OpenAI-style choices.
func extractText(obj map[string]any) string {
	for _, k := range []string{"content", "text", "output", "message"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	if msg, ok := first["message"].(map[string]any); ok {
		if s, ok := msg["content"].(string); ok {
			return s
		}
	}
	if s, ok := first["text"].(string); ok {
		return s
	}
	return ""
}
