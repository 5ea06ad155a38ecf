package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackChatter attempts a primary provider first and falls back on
// error. Context cancellation is passed through, never retried.
type FallbackChatter struct {
	primary  Chatter
	fallback Chatter
}

func NewFallbackChatter(primary, fallback Chatter) *FallbackChatter {
	return &FallbackChatter{primary: primary, fallback: fallback}
}

func (c *FallbackChatter) Name() string {
	if c == nil || c.primary == nil {
		return "fallback"
	}
	return c.primary.Name() + "+fallback"
}

// Primary returns the preferred provider used before fallback.
func (c *FallbackChatter) Primary() Chatter {
	if c == nil {
		return nil
	}
	return c.primary
}

func (c *FallbackChatter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if c == nil || c.primary == nil {
		if c != nil && c.fallback != nil {
			return c.fallback.Chat(ctx, req)
		}
		return ChatResponse{}, errors.New("fallback chatter misconfigured")
	}

	resp, err := c.primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ChatResponse{}, err
	}
	if c.fallback == nil {
		return ChatResponse{}, err
	}
	fallbackResp, fallbackErr := c.fallback.Chat(ctx, req)
	if fallbackErr != nil {
		return ChatResponse{}, fmt.Errorf("primary brain error: %w; fallback brain error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
