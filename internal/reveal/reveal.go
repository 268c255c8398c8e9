// Package reveal computes the progressive reveal timing used when a
// brand-new assistant message is rendered for the first time. The timing
// logic is kept as pure functions over (content, elapsed time) so it can be
// unit tested without timers and driven by any rendering target.
package reveal

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Step delays per character, chosen by the total content length. Short
// messages type slowly enough to read along, long ones speed up so the user
// is not left waiting.
const (
	shortStep  = 30 * time.Millisecond
	mediumStep = 20 * time.Millisecond
	longStep   = 10 * time.Millisecond

	shortLimit  = 50
	mediumLimit = 200
)

// Step is one revealed character with the delay at which it becomes visible,
// measured from the start of the message's animation.
type Step struct {
	Char  rune
	Delay time.Duration
}

// StepFor returns the per-character delay step for content of the given
// length, counted in characters rather than bytes.
func StepFor(length int) time.Duration {
	switch {
	case length < shortLimit:
		return shortStep
	case length < mediumLimit:
		return mediumStep
	default:
		return longStep
	}
}

// Schedule splits content into word tokens preserving whitespace and assigns
// each character within each word a monotonically non-decreasing delay.
// Whitespace characters are inserted immediately, carrying the delay reached
// so far without advancing it. Delays always start at zero for a new message.
func Schedule(content string) []Step {
	step := StepFor(utf8.RuneCountInString(content))

	var steps []Step
	var delay time.Duration
	for _, token := range splitWords(content) {
		if isWhitespace(token) {
			for _, r := range token {
				steps = append(steps, Step{Char: r, Delay: delay})
			}
			continue
		}
		for _, r := range token {
			steps = append(steps, Step{Char: r, Delay: delay})
			delay += step
		}
	}
	return steps
}

// VisibleLength reports how many characters of content are visible after the
// given elapsed time. It is the pure form of the animation: rendering targets
// can poll it instead of keeping per-character timers.
func VisibleLength(content string, elapsed time.Duration) int {
	if elapsed < 0 {
		return 0
	}
	visible := 0
	for _, s := range Schedule(content) {
		if s.Delay > elapsed {
			break
		}
		visible++
	}
	return visible
}

// splitWords splits content into alternating word and whitespace tokens,
// preserving every character of the input.
func splitWords(content string) []string {
	var tokens []string
	var current strings.Builder
	currentIsSpace := false
	for _, r := range content {
		isSpace := unicode.IsSpace(r)
		if current.Len() > 0 && isSpace != currentIsSpace {
			tokens = append(tokens, current.String())
			current.Reset()
		}
		current.WriteRune(r)
		currentIsSpace = isSpace
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func isWhitespace(token string) bool {
	for _, r := range token {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return len(token) > 0
}

// Tracker remembers which message IDs have already played their reveal
// animation, so re-rendering a message after a reload or an in-place update
// never re-triggers it. Safe for use from the request goroutines that share
// one session.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// FirstReveal reports whether the message should animate, and marks it as
// revealed. Only the first call for a given ID returns true.
func (t *Tracker) FirstReveal(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[messageID]; ok {
		return false
	}
	t.seen[messageID] = struct{}{}
	return true
}

// Reset forgets all revealed messages, used when the active conversation is
// replaced.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = make(map[string]struct{})
}
