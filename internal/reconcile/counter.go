package reconcile

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter prices a single word against the budget. Swapping the counter
// changes how the budget is measured without touching the algorithm.
type Counter interface {
	Cost(token string) int
	Name() string
}

// WordCounter charges one unit per whitespace-delimited word.
type WordCounter struct{}

func (WordCounter) Cost(string) int { return 1 }
func (WordCounter) Name() string    { return "word" }

// TiktokenCounter charges the number of BPE tokens a word encodes to when
// it follows a space, which is how it appears inside a prompt.
type TiktokenCounter struct {
	enc      *tiktoken.Tiktoken
	encoding string

	mu    sync.RWMutex
	cache map[string]int
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: get encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc, encoding: encoding, cache: make(map[string]int)}, nil
}

func (c *TiktokenCounter) Cost(token string) int {
	c.mu.RLock()
	n, ok := c.cache[token]
	c.mu.RUnlock()
	if ok {
		return n
	}
	n = len(c.enc.Encode(" "+token, nil, nil))
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.cache[token] = n
	c.mu.Unlock()
	return n
}

func (c *TiktokenCounter) Name() string { return "tiktoken/" + c.encoding }

// NewCounter builds a counter by name: "word" (or empty) and "tiktoken".
func NewCounter(name, encoding string) (Counter, error) {
	switch name {
	case "", "word":
		return WordCounter{}, nil
	case "tiktoken":
		c, err := NewTiktokenCounter(encoding)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown token counter %q", name)
	}
}

func costOf(c Counter, tokens []string) int {
	total := 0
	for _, t := range tokens {
		total += c.Cost(t)
	}
	return total
}

// fitPrefix returns the longest leading run of tokens whose cost stays
// within budget.
func fitPrefix(c Counter, tokens []string, budget int) []string {
	used := 0
	for i, t := range tokens {
		used += c.Cost(t)
		if used > budget {
			return tokens[:i]
		}
	}
	return tokens
}
