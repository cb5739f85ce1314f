package expand

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/kayz/sdxlprompt/internal/config"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicExpander uses the Messages API. Only temperature is sent;
// newer models reject temperature and top_p together.
type AnthropicExpander struct {
	client      *anthropic.Client
	model       string
	temperature float32
	maxTokens   int
	retry       RetryPolicy
}

func NewAnthropic(cfg config.LLMConfig) (*AnthropicExpander, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(&http.Client{Timeout: timeout})}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		opts = append(opts, anthropic.WithBaseURL(base))
	}

	return &AnthropicExpander{
		client:      anthropic.NewClient(cfg.APIKey, opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retry:       RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
	}, nil
}

func (a *AnthropicExpander) Name() string  { return "anthropic" }
func (a *AnthropicExpander) Model() string { return a.model }

func (a *AnthropicExpander) Expand(ctx context.Context, req Request) (string, error) {
	temperature := a.temperature
	msgReq := anthropic.MessagesRequest{
		Model:       anthropic.Model(a.model),
		System:      systemFor(req),
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(UserInstruction(req.Idea))},
		MaxTokens:   a.maxTokens,
		Temperature: &temperature,
	}

	return a.retry.do(ctx, "anthropic", func() (string, error) {
		resp, err := a.client.CreateMessages(ctx, msgReq)
		if err != nil {
			return "", fmt.Errorf("anthropic API error: %w", err)
		}
		text := strings.TrimSpace(resp.GetFirstContentText())
		if text == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})
}
