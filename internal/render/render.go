// Package render sends a finished prompt to an OpenAI-compatible image
// endpoint serving SDXL and writes the PNG it returns.
package render

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kayz/sdxlprompt/internal/config"
	"github.com/kayz/sdxlprompt/internal/logger"
	"github.com/kayz/sdxlprompt/internal/promptfile"
	"github.com/kayz/sdxlprompt/internal/reconcile"
)

const (
	defaultModel = "stabilityai/stable-diffusion-xl-base-1.0"
	defaultSize  = "1024x1024"
)

var ErrNoImage = errors.New("image backend returned no image")

type RenderRequest struct {
	Prompt string
	Output string
	// Size and MaxTokens override the configured values when set.
	Size      string
	MaxTokens int
}

type RenderResult struct {
	Path      string
	Prompt    string
	Truncated bool
	MaxTokens int
	Bytes     int
}

// Renderer is safe for concurrent use.
type Renderer struct {
	client     *openai.Client
	httpClient *http.Client
	model      string
	size       string
	quality    string
	maxTokens  int
}

func New(cfg config.RenderConfig) *Renderer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	httpClient := &http.Client{Timeout: timeout}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		clientCfg.BaseURL = base
	}
	clientCfg.HTTPClient = httpClient

	r := &Renderer{
		client:     openai.NewClientWithConfig(clientCfg),
		httpClient: httpClient,
		model:      cfg.Model,
		size:       cfg.Size,
		quality:    cfg.Quality,
		maxTokens:  cfg.MaxTokens,
	}
	if r.model == "" {
		r.model = defaultModel
	}
	if r.size == "" {
		r.size = defaultSize
	}
	if r.maxTokens <= 0 {
		r.maxTokens = config.DefaultRenderMaxTokens
	}
	return r
}

// Render truncates the prompt to the render budget, generates one image and
// writes it to req.Output.
func (r *Renderer) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if strings.TrimSpace(req.Output) == "" {
		return nil, fmt.Errorf("render: output path is required")
	}
	maxTokens := r.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	prompt, truncated := reconcile.TruncateTokens(reconcile.Normalize(req.Prompt), maxTokens)
	if prompt == "" {
		return nil, fmt.Errorf("render: prompt is empty")
	}
	size := r.size
	if req.Size != "" {
		size = req.Size
	}

	imgReq := openai.ImageRequest{
		Prompt:         prompt,
		Model:          r.model,
		N:              1,
		Size:           size,
		Quality:        r.quality,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}
	logger.Info("rendering with %s at %s", r.model, size)
	resp, err := r.client.CreateImage(ctx, imgReq)
	if err != nil {
		return nil, fmt.Errorf("image API error: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoImage
	}

	data, err := r.imageBytes(ctx, resp.Data[0])
	if err != nil {
		return nil, err
	}
	if err := promptfile.WriteBytes(req.Output, data); err != nil {
		return nil, err
	}
	return &RenderResult{Path: req.Output, Prompt: prompt, Truncated: truncated, MaxTokens: maxTokens, Bytes: len(data)}, nil
}

// imageBytes decodes b64_json, falling back to downloading the URL for
// backends that ignore response_format.
func (r *Renderer) imageBytes(ctx context.Context, img openai.ImageResponseDataInner) ([]byte, error) {
	if img.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return data, nil
	}
	if img.URL == "" {
		return nil, ErrNoImage
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("new image request: %w", err)
	}
	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
