// Package intervention contains the hostility classifier, the intervention
// state machine, and the voice session orchestrator.
//
// The classifier is a deliberately coarse lexical trigger, not a clinical
// judgment system. It errs toward sensitivity: single keywords like "no" or
// "stop" count as hostile, and by default every diarized speaker is
// evaluated because speaker identity is unreliable without calibration.
// The rolling window and trigger-pending delay exist to debounce the false
// positives this policy produces.
package intervention

import (
	"regexp"
	"sync"
)

// DefaultWindowSize is the capacity of the rolling utterance window.
const DefaultWindowSize = 5

var (
	// refusalPattern matches explicit rejection and refusal phrases.
	refusalPattern = regexp.MustCompile(`(?i)\b(no|stop|leave|get out|don't touch|get away|back off|i won't|i refuse|i hate|this is ridiculous|i don't want|leave me alone|stop it|get off|enough|i said no)\b`)

	// affectPattern matches explicit agitation and distress vocabulary.
	affectPattern = regexp.MustCompile(`(?i)\b(screaming|yelling|angry|furious|upset|agitated|frustrated)\b`)

	// deferralPattern matches polite postponements. A deferral never counts
	// as hostile even when a hostility keyword co-occurs.
	deferralPattern = regexp.MustCompile(`(?i)\b(maybe later|not right now|in a little while|give me a minute|just a moment|i'm tired)\b`)

	// compliancePattern matches affirmative responses. Callers must apply
	// hostility precedence: an utterance that is hostile is never compliant.
	compliancePattern = regexp.MustCompile(`(?i)\b(okay|ok|fine|alright|yes|sure|i will|i'll)\b`)
)

// IsHostile reports whether text matches the hostility lexicon. Polite
// deferrals ("maybe later", "give me a minute") short-circuit to false.
func IsHostile(text string) bool {
	if deferralPattern.MatchString(text) {
		return false
	}
	return refusalPattern.MatchString(text) || affectPattern.MatchString(text)
}

// IsCompliant reports whether text matches the affirmative-response lexicon.
// It does not check hostility; callers evaluate IsHostile first.
func IsCompliant(text string) bool {
	return compliancePattern.MatchString(text)
}

// Window is a fixed-capacity FIFO of the most recent evaluated utterances.
// The oldest entry is evicted when a new one arrives at capacity.
//
// Safe for concurrent use.
type Window struct {
	mu       sync.Mutex
	capacity int
	entries  []string
}

// NewWindow returns a Window with the given capacity. Non-positive
// capacities fall back to DefaultWindowSize.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{capacity: capacity}
}

// Append adds text to the window, evicting the oldest entry at capacity.
func (w *Window) Append(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, text)
	if len(w.entries) > w.capacity {
		w.entries = w.entries[1:]
	}
}

// HostileCount returns the number of entries currently classified hostile.
func (w *Window) HostileCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := 0
	for _, text := range w.entries {
		if IsHostile(text) {
			count++
		}
	}
	return count
}

// Len returns the number of entries in the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Entries returns a copy of the window contents, oldest first.
func (w *Window) Entries() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.entries))
	copy(out, w.entries)
	return out
}

// Clear empties the window.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
}
