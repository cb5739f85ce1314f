package expand

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kayz/sdxlprompt/internal/config"
)

const (
	defaultOpenAIURL   = "http://localhost:11434/v1"
	defaultOpenAIModel = "llama3"
)

// OpenAICompatExpander covers any OpenAI-compatible chat API: Ollama's /v1,
// LM Studio, LocalAI, vLLM or OpenAI itself.
type OpenAICompatExpander struct {
	client      *openai.Client
	model       string
	temperature float32
	topP        float32
	maxTokens   int
	retry       RetryPolicy
}

func NewOpenAICompat(cfg config.LLMConfig) *OpenAICompatExpander {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAICompatExpander{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   cfg.MaxTokens,
		retry:       RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
	}
}

func (p *OpenAICompatExpander) Name() string  { return "openai" }
func (p *OpenAICompatExpander) Model() string { return p.model }

func (p *OpenAICompatExpander) Expand(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemFor(req)},
			{Role: openai.ChatMessageRoleUser, Content: UserInstruction(req.Idea)},
		},
		Temperature: p.temperature,
		TopP:        p.topP,
	}
	if p.maxTokens > 0 {
		chatReq.MaxTokens = p.maxTokens
	}

	return p.retry.do(ctx, "openai", func() (string, error) {
		resp, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return "", fmt.Errorf("openai API error: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return "", ErrEmptyResponse
		}
		return text, nil
	})
}
