// Package brain is the LLM adapter layer. Everything that needs model
// output (the agent runner, the blocked-task judge, chat replies)
// talks to a Chatter; providers are selected by mode with a mock for
// dev and tests.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type ChatResponse struct {
	Content string `json:"content"`
}

// Chatter is the narrow surface the rest of the server consumes.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Name() string
}

// Config controls provider construction.
type Config struct {
	Mode          string
	DeepSeekKey   string
	DeepSeekModel string
	HTTPURL       string
}

func NewChatter(cfg Config) (Chatter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoChatter(cfg)
	case "deepseek":
		if strings.TrimSpace(cfg.DeepSeekKey) == "" {
			return nil, errors.New("DEEPSEEK_API_KEY is required for deepseek mode")
		}
		return NewDeepSeekChatter(cfg.DeepSeekKey, cfg.DeepSeekModel)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPChatter(cfg.HTTPURL), nil
	case "mock":
		return NewMockChatter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}

func newAutoChatter(cfg Config) (Chatter, error) {
	if strings.TrimSpace(cfg.DeepSeekKey) != "" {
		primary, err := NewDeepSeekChatter(cfg.DeepSeekKey, cfg.DeepSeekModel)
		if err != nil {
			return nil, err
		}
		return NewFallbackChatter(primary, newAutoSecondary(cfg)), nil
	}
	return newAutoSecondary(cfg), nil
}

func newAutoSecondary(cfg Config) Chatter {
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		return NewHTTPChatter(cfg.HTTPURL)
	}
	return NewMockChatter()
}

// ChatText is a convenience wrapper for single-shot system+user calls.
func ChatText(ctx context.Context, c Chatter, system, user string, maxTokens int, temperature float64) (string, error) {
	if c == nil {
		return "", errors.New("no chatter configured")
	}
	var msgs []Message
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: user})
	resp, err := c.Chat(ctx, ChatRequest{Messages: msgs, MaxTokens: maxTokens, Temperature: temperature})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
