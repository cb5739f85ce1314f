// Package expand asks an LLM to elaborate a short image idea into an SDXL
// prompt. The returned text is raw; callers reconcile it against the idea.
package expand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kayz/sdxlprompt/internal/config"
)

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Request is one expansion. An empty System uses SystemInstruction().
type Request struct {
	Idea   string
	System string
}

// Expander is an LLM backend that turns an idea into a prompt draft.
type Expander interface {
	Expand(ctx context.Context, req Request) (string, error)
	Name() string
	Model() string
}

// SystemInstruction is the instruction sent ahead of every idea.
func SystemInstruction() string {
	var b strings.Builder
	b.WriteString("You are an SDXL prompt expander.\n")
	b.WriteString("INPUT: a very short user hint about an image.\n")
	b.WriteString("TASK: expand the hint into ONE single-line SDXL-ready prompt suitable for Stable Diffusion XL 1.0.\n")
	b.WriteString("HARD RULES:\n")
	b.WriteString("1. Do NOT remove user concepts. You may ADD detail, but you may NOT drop what the user asked for.\n")
	b.WriteString("2. Output the prompt only. No explanations. No quotes. No markdown.\n")
	b.WriteString("3. Keep it concise; target 85-90 words so it fits a 77-token cap after postprocessing.\n")
	b.WriteString("4. Always specify (in this order): subject, location/context, composition/camera, lighting, style, quality, negatives.\n")
	b.WriteString("5. Prefer photorealistic and highly detailed.\n")
	b.WriteString("6. Always include a negatives segment starting with 'negative:'. If you must shorten, shorten the negatives first.\n")
	b.WriteString("STRUCTURE:\n")
	b.WriteString("<subject>, <location/context>, <composition/camera>, <lighting>, <style>, <quality>, negative: blurry, lowres, deformed, watermark, text, logo\n")
	b.WriteString("EXAMPLE:\n")
	b.WriteString("photorealistic, highly detailed ultra sharp, negative: blurry, lowres, deformed, watermark, text, logo\n")
	b.WriteString("NOW EXPAND THIS HINT:\n")
	return b.String()
}

// UserInstruction is the idea as sent to the model.
func UserInstruction(idea string) string {
	return strings.TrimSpace(idea)
}

func systemFor(req Request) string {
	if strings.TrimSpace(req.System) != "" {
		if !strings.HasSuffix(req.System, "\n") {
			return req.System + "\n"
		}
		return req.System
	}
	return SystemInstruction()
}

// New returns the expander selected by cfg.Provider.
func New(cfg config.LLMConfig) (Expander, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "ollama":
		return NewOllama(cfg), nil
	case "openai":
		return NewOpenAICompat(cfg), nil
	case "anthropic":
		a, err := NewAnthropic(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
