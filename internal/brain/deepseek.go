package brain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	deepseek "github.com/trustsight-io/deepseek-go"
)

// DeepSeekChatter talks to the DeepSeek chat-completion API.
type DeepSeekChatter struct {
	client *deepseek.Client
	model  string
}

func NewDeepSeekChatter(apiKey, model string) (*DeepSeekChatter, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = "deepseek-chat"
	}
	client, err := deepseek.NewClient(
		strings.TrimSpace(apiKey),
		deepseek.WithHTTPClient(&http.Client{Timeout: 90 * time.Second}),
		deepseek.WithMaxRetries(2),
	)
	if err != nil {
		return nil, fmt.Errorf("create deepseek client: %w", err)
	}
	return &DeepSeekChatter{client: client, model: model}, nil
}

func (c *DeepSeekChatter) Name() string { return "deepseek" }

func (c *DeepSeekChatter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	msgs := make([]deepseek.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := deepseek.RoleUser
		switch m.Role {
		case RoleSystem:
			role = deepseek.RoleSystem
		case RoleAssistant:
			role = deepseek.RoleAssistant
		}
		msgs = append(msgs, deepseek.Message{Role: role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, &deepseek.ChatCompletionRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    msgs,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("deepseek chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, errors.New("deepseek chat: empty choices")
	}
	return ChatResponse{Content: resp.Choices[0].Message.Content}, nil
}

func (c *DeepSeekChatter) Close() error {
	return c.client.Close()
}
