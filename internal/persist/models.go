package persist

import (
	"time"
)

// Generation is one idea-to-prompt run
type Generation struct {
	ID               string
	Idea             string
	RawOutput        string
	FinalPrompt      string
	Provider         string
	Model            string
	Preset           string
	MaxTokens        int
	TokenCost        int
	Branch           string // "present" | "rebuilt"
	IdeaTruncated    bool
	NegativesDropped bool
	CreatedAt        time.Time
}

// scanner interface for both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
