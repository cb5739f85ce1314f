package promptbuild

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kayz/sdxlprompt/internal/cache"
	"github.com/kayz/sdxlprompt/internal/config"
	"github.com/kayz/sdxlprompt/internal/expand"
	"github.com/kayz/sdxlprompt/internal/logger"
	"github.com/kayz/sdxlprompt/internal/persist"
	"github.com/kayz/sdxlprompt/internal/reconcile"
)

var (
	ErrEmptyIdea      = errors.New("idea is empty")
	ErrEmptyExpansion = errors.New("model returned an empty expansion")
)

// HistoryStore records finished generations.
type HistoryStore interface {
	SaveGeneration(g *persist.Generation) error
}

// Builder turns ideas into reconciled prompts: expand, reconcile, record.
type Builder struct {
	cfg      *config.Config
	expander expand.Expander
	counter  reconcile.Counter
	cache    cache.Cache
	store    HistoryStore
}

type Option func(*Builder)

// WithCache caches raw expansions. A nil cache disables caching.
func WithCache(c cache.Cache) Option {
	return func(b *Builder) { b.cache = c }
}

// WithStore records every generation. A nil store disables history.
func WithStore(s HistoryStore) Option {
	return func(b *Builder) { b.store = s }
}

// NewBuilder creates a Builder from config and an expander.
func NewBuilder(cfg *config.Config, exp expand.Expander, opts ...Option) (*Builder, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if exp == nil {
		return nil, fmt.Errorf("promptbuild: expander is required")
	}
	counter, err := reconcile.NewCounter(cfg.Prompt.Counter, cfg.Prompt.Encoding)
	if err != nil {
		return nil, err
	}
	b := &Builder{cfg: cfg, expander: exp, counter: counter}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build expands req.Idea and fits the result to the token budget.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	idea := reconcile.Normalize(req.Idea)
	if idea == "" {
		return nil, ErrEmptyIdea
	}

	preset, err := b.loadPreset(req)
	if err != nil {
		return nil, err
	}
	rec := b.reconcilerFor(preset, req.MaxTokens)

	system := ""
	presetName := ""
	if preset != nil {
		system = preset.SystemInstruction
		presetName = preset.Name
	}

	raw, hit, err := b.expand(ctx, idea, system, req.NoCache)
	if err != nil {
		return nil, err
	}

	res := rec.EnforceTokenCap(idea, raw)
	out := &BuildResult{
		Idea:      idea,
		RawOutput: raw,
		Prompt:    res.Prompt,
		Provider:  b.expander.Name(),
		Model:     b.expander.Model(),
		Preset:    presetName,
		MaxTokens: rec.MaxTokens(),
		CacheHit:  hit,
		Reconcile: res,
	}
	if res.IdeaTruncated {
		logger.Warn("idea alone exceeds %d tokens; prompt holds only its prefix", rec.MaxTokens())
	} else if res.NegativesDropped {
		logger.Warn("no room left for a negative segment")
	}
	logger.Debug("reconciled: branch=%s cost=%d/%d counter=%s", res.Branch, res.Cost, rec.MaxTokens(), rec.Counter().Name())

	if b.store != nil {
		g := &persist.Generation{
			Idea:             out.Idea,
			RawOutput:        out.RawOutput,
			FinalPrompt:      out.Prompt,
			Provider:         out.Provider,
			Model:            out.Model,
			Preset:           out.Preset,
			MaxTokens:        out.MaxTokens,
			TokenCost:        res.Cost,
			Branch:           string(res.Branch),
			IdeaTruncated:    res.IdeaTruncated,
			NegativesDropped: res.NegativesDropped,
		}
		if err := b.store.SaveGeneration(g); err != nil {
			logger.Warn("save generation: %v", err)
		} else {
			out.ID = g.ID
		}
	}
	if err := b.writeAuditRecord(req, out); err != nil {
		logger.Warn("write audit record: %v", err)
	}
	return out, nil
}

// Reconciler returns the reconciler Build would use without a preset.
func (b *Builder) Reconciler(maxTokens int) *reconcile.Reconciler {
	return b.reconcilerFor(nil, maxTokens)
}

func (b *Builder) reconcilerFor(preset *Preset, maxTokens int) *reconcile.Reconciler {
	opts := reconcile.Options{
		MaxTokens: b.cfg.Prompt.MaxTokens,
		Marker:    b.cfg.Prompt.Marker,
		Negative:  reconcile.Tokens(b.cfg.Prompt.NegativeBlock),
		Counter:   b.counter,
	}
	if preset != nil {
		if preset.MaxTokens > 0 {
			opts.MaxTokens = preset.MaxTokens
		}
		if m := strings.TrimSpace(preset.Marker); m != "" {
			opts.Marker = m
		}
		if neg := reconcile.Tokens(preset.Negative); len(neg) > 0 {
			opts.Negative = neg
		}
	}
	if maxTokens > 0 {
		opts.MaxTokens = maxTokens
	}
	return reconcile.New(opts)
}

func (b *Builder) expand(ctx context.Context, idea, system string, noCache bool) (string, bool, error) {
	instruction := system
	if strings.TrimSpace(instruction) == "" {
		instruction = expand.SystemInstruction()
	}
	key := cache.Key(b.expander.Name(), b.expander.Model(), instruction, idea)

	if b.cache != nil && !noCache {
		if raw, ok := b.cache.Get(ctx, key); ok {
			logger.Debug("expansion cache hit: %s", key[:12])
			return raw, true, nil
		}
	}

	logger.Info("expanding idea with %s (%s)", b.expander.Name(), b.expander.Model())
	raw, err := b.expander.Expand(ctx, expand.Request{Idea: idea, System: system})
	if err != nil {
		if errors.Is(err, expand.ErrEmptyResponse) {
			return "", false, fmt.Errorf("%w: %s", ErrEmptyExpansion, b.expander.Name())
		}
		return "", false, fmt.Errorf("expand idea: %w", err)
	}
	raw = reconcile.Normalize(raw)
	if raw == "" {
		return "", false, fmt.Errorf("%w: %s", ErrEmptyExpansion, b.expander.Name())
	}

	if b.cache != nil && !noCache {
		b.cache.Put(ctx, key, raw)
	}
	return raw, false, nil
}
