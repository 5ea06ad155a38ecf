package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockChatter provides deterministic local replies when no real
// provider is configured.
type MockChatter struct{}

func NewMockChatter() *MockChatter { return &MockChatter{} }

func (c *MockChatter) Name() string { return "mock" }

func (c *MockChatter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	select {
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	default:
	}

	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	if last == "" {
		return ChatResponse{Content: "I am listening."}, nil
	}
	return ChatResponse{Content: fmt.Sprintf("I heard you: %s", last)}, nil
}
