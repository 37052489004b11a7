package intent

import "strings"

// DefaultConfirmationPhrases is the English phrase set. A message is
// plausibly a confirmation when, after normalization, it equals a phrase or
// begins with one at a word boundary ("yes, go ahead" matches "yes").
var DefaultConfirmationPhrases = []string{
	"yes",
	"yep",
	"yeah",
	"sure",
	"ok",
	"okay",
	"confirm",
	"confirmed",
	"go ahead",
	"do it",
	"proceed",
	"sounds good",
	"that's right",
	"correct",
}

// Matcher tests whether an incoming message is plausibly a confirmation of
// a pending intent. It is a cheap lexical pre-filter: a positive match only
// earns an atomic store lookup, never an execution by itself.
type Matcher struct {
	phrases []string
}

// NewMatcher creates a matcher with the given phrase set, falling back to
// the default set when none is provided.
func NewMatcher(phrases []string) *Matcher {
	if len(phrases) == 0 {
		phrases = DefaultConfirmationPhrases
	}
	normalized := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = normalize(p); p != "" {
			normalized = append(normalized, p)
		}
	}
	return &Matcher{phrases: normalized}
}

// Matches reports whether the message is plausibly a confirmation.
func (m *Matcher) Matches(message string) bool {
	msg := normalize(message)
	if msg == "" {
		return false
	}
	for _, phrase := range m.phrases {
		if msg == phrase {
			return true
		}
		if strings.HasPrefix(msg, phrase) && boundaryAfter(msg, len(phrase)) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?")
}

// boundaryAfter reports whether the rune at offset ends a word, so "yes,
// go ahead" matches the phrase "yes" but "yesterday" does not.
func boundaryAfter(s string, offset int) bool {
	if offset >= len(s) {
		return true
	}
	switch s[offset] {
	case ' ', ',', ';', ':', '!', '.', '?':
		return true
	}
	return false
}
