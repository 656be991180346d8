package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
)

var ErrDisabled = errors.New("ai completion is disabled")

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	httpClient *resty.Client
	model      string
	enabled    bool
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func NewClient(cfg environments.AIConfig) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey)

	return &Client{
		httpClient: client,
		model:      cfg.Model,
		enabled:    cfg.Enabled && cfg.APIKey != "",
	}
}

// Enabled reports whether completions will be attempted.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Complete sends the system prompt, the prior turns and the new user text and
// returns the assistant reply.
func (c *Client) Complete(ctx context.Context, systemPrompt string, history []domain.ConversationTurn, userText string) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}

	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, turn := range history {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userText})

	var result chatResponse
	var failure chatError

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: 0.4,
			MaxTokens:   300,
		}).
		SetResult(&result).
		SetError(&failure).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to call completion provider: %w", err)
	}

	logger.Debugf("Completion with %d turns finished in %v (status: %d)", len(history), time.Since(startTime), resp.StatusCode())

	if resp.IsError() {
		return "", fmt.Errorf("completion provider returned status %d: %s", resp.StatusCode(), failure.Error.Message)
	}

	if len(result.Choices) == 0 {
		return "", errors.New("completion provider returned no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
