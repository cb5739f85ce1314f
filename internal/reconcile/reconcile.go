// Package reconcile fits a user idea and an LLM expansion of it into a
// single-line prompt under a fixed token budget.
//
// Priority, highest first: the user's own tokens, the generated body, the
// negative segment. The negative segment absorbs truncation first, but once
// any room is left its marker token is kept so consumers can tell a
// negative segment was attempted.
package reconcile

import "strings"

const (
	DefaultMaxTokens = 77
	DefaultMarker    = "negative:"
)

// DefaultNegativeBlock is the canonical negative segment, marker first.
var DefaultNegativeBlock = []string{"negative:", "blurry,", "lowres,", "deformed,", "watermark,", "text,", "logo"}

// Branch records which path produced a Result.
type Branch string

const (
	// BranchPresent: the merged text already carried a negative marker.
	BranchPresent Branch = "present"
	// BranchRebuilt: the negative segment was appended by the reconciler.
	BranchRebuilt Branch = "rebuilt"
)

type Options struct {
	MaxTokens int
	Marker    string
	Negative  []string
	Counter   Counter
}

// Result is the reconciled prompt plus the degraded-output signals.
type Result struct {
	Prompt string
	Tokens []string
	Cost   int
	Branch Branch

	IdeaTruncated    bool
	BodyTruncated    bool
	NegativesTrimmed bool
	NegativesDropped bool
}

// Reconciler is immutable after New and safe for concurrent use.
type Reconciler struct {
	max      int
	marker   string
	negative []string
	counter  Counter
}

// New builds a Reconciler. Without a negative block the default one is used
// under the configured marker; a block that does not open with the marker
// gets the marker put in front.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		max:     opts.MaxTokens,
		marker:  strings.TrimSpace(opts.Marker),
		counter: opts.Counter,
	}
	if r.max <= 0 {
		r.max = DefaultMaxTokens
	}
	if r.marker == "" {
		r.marker = DefaultMarker
	}
	if r.counter == nil {
		r.counter = WordCounter{}
	}
	neg := opts.Negative
	if neg == nil {
		neg = append([]string{r.marker}, DefaultNegativeBlock[1:]...)
	}
	r.negative = make([]string, 0, len(neg)+1)
	if len(neg) == 0 || neg[0] != r.marker {
		r.negative = append(r.negative, r.marker)
	}
	r.negative = append(r.negative, neg...)
	return r
}

func (r *Reconciler) MaxTokens() int   { return r.max }
func (r *Reconciler) Marker() string   { return r.marker }
func (r *Reconciler) Counter() Counter { return r.counter }

// NegativeBlock returns a copy of the configured negative segment.
func (r *Reconciler) NegativeBlock() []string {
	return append([]string(nil), r.negative...)
}

// Reconcile runs EnforceTokenCap with the default negative block and word
// counter under the given budget.
func Reconcile(userIdea, modelText string, maxTokens int) string {
	return New(Options{MaxTokens: maxTokens}).EnforceTokenCap(userIdea, modelText).Prompt
}

// EnforceTokenCap merges the idea with the model text, minus any
// restatement of the idea the model opened with, and fits the result to
// the budget. The output always starts with the whole idea unless the
// idea alone exceeds the budget.
func (r *Reconciler) EnforceTokenCap(userIdea, modelText string) Result {
	user := Tokens(Normalize(userIdea))
	model := Tokens(Normalize(modelText))

	body := model[CommonPrefixLength(user, model):]
	merged := concat(user, body)

	if !containsToken(merged, r.marker) {
		tokens, res := r.rebuild(user, body)
		return r.finish(tokens, res)
	}

	res := Result{Branch: BranchPresent}
	var tokens []string
	switch {
	case costOf(r.counter, merged) <= r.max:
		tokens = merged
	default:
		allowedTail := r.max - costOf(r.counter, user)
		if allowedTail < 0 {
			tokens = fitPrefix(r.counter, user, r.max)
			res.IdeaTruncated = true
		} else {
			tail := fitPrefix(r.counter, merged[len(user):], allowedTail)
			tokens = concat(user, tail)
		}
	}
	if len(tokens) < len(merged) && !res.IdeaTruncated {
		res.BodyTruncated = true
	}
	res.NegativesDropped = !containsToken(tokens, r.marker)
	return r.finish(tokens, res)
}

// RebuildWithNegatives appends as much of the negative block as fits after
// prefix and body. Content that alone meets the budget gets no negatives.
func (r *Reconciler) RebuildWithNegatives(prefix, body []string) []string {
	tokens, _ := r.rebuild(prefix, body)
	return tokens
}

func (r *Reconciler) rebuild(prefix, body []string) ([]string, Result) {
	res := Result{Branch: BranchRebuilt}
	content := concat(prefix, body)
	room := r.max - costOf(r.counter, content)

	if room <= 0 {
		kept := fitPrefix(r.counter, content, r.max)
		res.NegativesDropped = true
		if len(kept) < len(prefix) {
			res.IdeaTruncated = true
		} else if len(kept) < len(content) {
			res.BodyTruncated = true
		}
		return kept, res
	}

	if room >= costOf(r.counter, r.negative) {
		return concat(content, r.negative), res
	}

	neg := r.partialNegative(room)
	if len(neg) == 0 {
		res.NegativesDropped = true
		return content, res
	}
	res.NegativesTrimmed = true
	return concat(content, neg), res
}

// partialNegative cuts the negative block down to room, keeping the marker
// in front. Returns nil when not even the marker fits.
func (r *Reconciler) partialNegative(room int) []string {
	slice := fitPrefix(r.counter, r.negative, room)
	adjusted := EnsureMarker(slice, r.marker)
	for len(adjusted) > 0 && costOf(r.counter, adjusted) > room {
		adjusted = adjusted[:len(adjusted)-1]
	}
	if len(adjusted) == 0 || adjusted[0] != r.marker {
		return nil
	}
	return adjusted
}

// EnsureMarker makes a truncated negative slice lead with marker without
// growing it: a slice that already starts with marker is returned as is,
// an empty slice becomes just the marker, anything else has the marker
// put in front and its last token dropped.
func EnsureMarker(slice []string, marker string) []string {
	if len(slice) == 0 {
		return []string{marker}
	}
	if slice[0] == marker {
		return slice
	}
	out := make([]string, 0, len(slice))
	out = append(out, marker)
	return append(out, slice[:len(slice)-1]...)
}

func (r *Reconciler) finish(tokens []string, res Result) Result {
	res.Tokens = tokens
	res.Prompt = strings.Join(tokens, " ")
	res.Cost = costOf(r.counter, tokens)
	return res
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
