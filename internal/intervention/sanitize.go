package intervention

import (
	"regexp"
	"strings"
)

// Sanitizer scrubs direct identifiers from text before it is sent to the
// voice agent provider. Names become dynamic-variable placeholders that the
// provider substitutes at session start, so the rendered speech is personal
// while the server-side payload is not; email addresses and phone numbers
// are redacted outright. Utterances coming back from the agent may still
// carry placeholders, so Hydrate restores the names before display and
// persistence.
type Sanitizer struct {
	rules  []nameRule
	values map[string]string
}

type nameRule struct {
	re          *regexp.Regexp
	placeholder string
}

var (
	emailPattern = regexp.MustCompile(`\b[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`)

	placeholderPattern = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)
)

// NewSanitizer builds a Sanitizer for one patient context. Empty name fields
// produce no rules.
func NewSanitizer(pc PatientContext) *Sanitizer {
	s := &Sanitizer{values: map[string]string{}}
	s.addName(pc.PatientFirstName, "patient_name")
	s.addName(pc.NurseFirstName, "nurse_name")
	s.addName(pc.LovedOneName, "loved_one_name")
	return s
}

func (s *Sanitizer) addName(name, key string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.rules = append(s.rules, nameRule{
		re:          regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`),
		placeholder: "{{" + key + "}}",
	})
	s.values[key] = name
}

// Sanitize redacts email addresses and phone numbers, then replaces known
// names with their placeholders. Contact details go first so an address
// containing a name is removed whole. Name matching is case-insensitive on
// whole words.
func (s *Sanitizer) Sanitize(text string) string {
	text = emailPattern.ReplaceAllString(text, "[redacted email]")
	text = phonePattern.ReplaceAllString(text, "[redacted number]")
	for _, r := range s.rules {
		text = r.re.ReplaceAllString(text, r.placeholder)
	}
	return text
}

// Hydrate substitutes real names back into placeholder-bearing text.
// Unknown placeholders are left untouched.
func (s *Sanitizer) Hydrate(text string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := s.values[key]; ok {
			return v
		}
		return match
	})
}

// Values returns the placeholder substitutions, keyed without braces, in the
// shape the provider's dynamic variables expect.
func (s *Sanitizer) Values() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
