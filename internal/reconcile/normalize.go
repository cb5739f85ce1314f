package reconcile

import "strings"

// Normalize collapses every whitespace run, newlines included, into a
// single space and trims both ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Tokens splits text into whitespace-delimited words.
func Tokens(text string) []string {
	return strings.Fields(text)
}

// CommonPrefixLength counts the leading tokens shared by user and model,
// compared case-insensitively. Matching stops at the first mismatch or
// when either sequence runs out.
func CommonPrefixLength(user, model []string) int {
	i := 0
	for i < len(user) && i < len(model) && strings.EqualFold(user[i], model[i]) {
		i++
	}
	return i
}

// TruncateTokens keeps the first max whitespace tokens of prompt. A prompt
// that already fits is returned untouched.
func TruncateTokens(prompt string, max int) (string, bool) {
	parts := strings.Fields(prompt)
	if len(parts) <= max {
		return prompt, false
	}
	if max < 0 {
		max = 0
	}
	return strings.Join(parts[:max], " "), true
}

func containsToken(tokens []string, tok string) bool {
	for _, t := range tokens {
		if t == tok {
			return true
		}
	}
	return false
}
