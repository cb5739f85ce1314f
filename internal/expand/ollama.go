package expand

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kayz/sdxlprompt/internal/config"
	"github.com/kayz/sdxlprompt/internal/logger"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama2-uncensored:latest"
)

// OllamaExpander talks to Ollama's native /api/generate endpoint and
// assembles the streamed fragments.
type OllamaExpander struct {
	baseURL     string
	model       string
	temperature float32
	topP        float32
	httpClient  *http.Client
	retry       RetryPolicy
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewOllama(cfg config.LLMConfig) *OllamaExpander {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaExpander{
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		httpClient:  &http.Client{Timeout: timeout},
		retry:       RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
	}
}

func (o *OllamaExpander) Name() string  { return "ollama" }
func (o *OllamaExpander) Model() string { return o.model }

func (o *OllamaExpander) Expand(ctx context.Context, req Request) (string, error) {
	payload := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: systemFor(req) + UserInstruction(req.Idea),
		Stream: true,
		Options: map[string]any{
			"temperature": o.temperature,
			"top_p":       o.topP,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	out, err := o.retry.do(ctx, "ollama", func() (string, error) {
		return o.generate(ctx, body)
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (o *OllamaExpander) generate(ctx context.Context, body []byte) (string, error) {
	endpoint := o.baseURL + "/api/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Debug("ollama generate: model=%s url=%s", o.model, endpoint)
	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2000))
		return "", &StatusError{Backend: "ollama", Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return readGenerateStream(resp.Body)
}

// readGenerateStream concatenates the "response" fragments of an NDJSON
// stream until a chunk reports done. A non-streamed single object is
// handled the same way.
func readGenerateStream(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaGenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama error: %s", chunk.Error)
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}
