package transcript

import (
	"strings"

	"github.com/carescript/carescript/internal/transcript/phonetic"
)

// Correction captures a single substitution made by the Corrector.
type Correction struct {
	// Original is the phrase as produced by the transcription provider.
	Original string

	// Corrected is the keyterm it was replaced with.
	Corrected string

	// Confidence is the matcher's confidence in this substitution (0.0-1.0).
	Confidence float64
}

// PhoneticMatcher resolves a word or short phrase to a known keyterm based on
// pronunciation similarity. It must be fast enough for per-segment use: no
// network calls.
//
// When matched is false, corrected must equal word unchanged and confidence
// must be 0.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	Match(word string, terms []string) (corrected string, confidence float64, matched bool)
}

// Corrector fixes misheard clinical vocabulary in final transcript segments.
//
// Speech recognition routinely garbles drug names, procedures, and family
// names ("meta-pro-lol" for metoprolol, "Rosa" heard as "roast"). The
// Corrector tests every n-gram window of a segment against the patient's
// keyterm list using phonetic matching and substitutes the best hit.
//
// Corrector is safe for concurrent use.
type Corrector struct {
	matcher PhoneticMatcher
}

// NewCorrector returns a Corrector backed by the given matcher. A nil matcher
// yields a Corrector whose Correct is the identity function.
func NewCorrector(matcher PhoneticMatcher) *Corrector {
	return &Corrector{matcher: matcher}
}

// Correct applies phonetic keyterm matching to text and returns the corrected
// text plus an itemised record of every substitution. When no corrections are
// needed, the returned text equals the input and the correction list is empty.
//
// The algorithm:
//  1. Tokenise the text into whitespace-separated words.
//  2. Determine the maximum number of words in any keyterm.
//  3. At each token position, try n-gram windows from that maximum down to 1.
//     The longest matching window wins so multi-word terms take precedence
//     over partial single-word matches.
//  4. Append matched (or unmatched) tokens to the output and advance the
//     cursor by the number of tokens consumed.
func (c *Corrector) Correct(text string, terms []string) (string, []Correction) {
	if c.matcher == nil || len(terms) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	maxTermWords := 1
	for _, term := range terms {
		if n := len(strings.Fields(term)); n > maxTermWords {
			maxTermWords = n
		}
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := c.matcher.Match(window, terms)
			if !ok {
				continue
			}

			// An exact hit needs no correction record, only canonical casing.
			if strings.EqualFold(window, term) {
				output = append(output, strings.Fields(term)...)
				i += n
				matched = true
				break
			}

			output = append(output, strings.Fields(term)...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// Ensure the phonetic matcher satisfies the interface at compile time.
var _ PhoneticMatcher = (*phonetic.Matcher)(nil)
