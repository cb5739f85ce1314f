package promptbuild

import "github.com/kayz/sdxlprompt/internal/reconcile"

// BuildRequest defines inputs for one idea-to-prompt run.
type BuildRequest struct {
	Idea string `json:"idea"`

	// Preset selects a named preset from the presets directory.
	Preset string `json:"preset,omitempty"`
	// PresetPath explicitly sets the preset file path.
	PresetPath string `json:"preset_path,omitempty"`

	// MaxTokens overrides the configured and preset budget when > 0.
	MaxTokens int `json:"max_tokens,omitempty"`

	NoCache bool `json:"no_cache,omitempty"`
}

// BuildResult is the reconciled prompt plus what produced it.
type BuildResult struct {
	// ID is the history row id, empty when no store is wired.
	ID        string
	Idea      string
	RawOutput string
	Prompt    string
	Provider  string
	Model     string
	Preset    string
	MaxTokens int
	CacheHit  bool

	Reconcile reconcile.Result
}

// Degraded reports whether the prompt lost part of the idea or negatives.
func (r *BuildResult) Degraded() bool {
	return r.Reconcile.IdeaTruncated || r.Reconcile.NegativesDropped
}
