package phonetic_test

import (
	"testing"

	"github.com/carescript/carescript/internal/transcript/phonetic"
)

func TestMatcher_SingleWordMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	// "metopralol" is a common mishearing of the drug name "Metoprolol".
	terms := []string{"Metoprolol", "Warfarin", "physical therapy"}

	corrected, conf, matched := m.Match("metopralol", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "metopralol")
	}
	if corrected != "Metoprolol" {
		t.Errorf("Match(%q): corrected=%q, want %q", "metopralol", corrected, "Metoprolol")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "metopralol", conf)
	}
}

func TestMatcher_MultiWordTermMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	terms := []string{"physical therapy", "Metoprolol", "Warfarin"}

	// "physical therapee" should match the multi-word term "physical therapy".
	corrected, conf, matched := m.Match("physical therapee", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "physical therapee")
	}
	if corrected != "physical therapy" {
		t.Errorf("Match(%q): corrected=%q, want %q", "physical therapee", corrected, "physical therapy")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "physical therapee", conf)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"Metoprolol", "Warfarin"}

	corrected, conf, matched := m.Match("hello", terms)
	if matched {
		t.Fatalf("Match(%q, terms): matched=true, want false", "hello")
	}
	if corrected != "hello" {
		t.Errorf("Match(%q): corrected=%q, want original word %q", "hello", corrected, "hello")
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "hello", conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"Metoprolol"}

	corrected, _, matched := m.Match("METOPROLOL", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "METOPROLOL")
	}
	// Should return the original term casing.
	if corrected != "Metoprolol" {
		t.Errorf("Match(%q): corrected=%q, want %q", "METOPROLOL", corrected, "Metoprolol")
	}
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	terms := []string{"Warfarin", "Metoprolol"}

	corrected, conf, matched := m.Match("warfarin", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "warfarin")
	}
	if corrected != "Warfarin" {
		t.Errorf("Match(%q): corrected=%q, want %q", "warfarin", corrected, "Warfarin")
	}
	if conf < 0.9 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.9 for near-exact match", "warfarin", conf)
	}
}

func TestMatcher_PhoneticThresholdFiltering(t *testing.T) {
	t.Parallel()

	// Set a very high phonetic threshold so near-matches are rejected.
	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	terms := []string{"Metoprolol"}

	_, _, matched := m.Match("metopralul", terms)
	if matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}

func TestMatcher_EmptyTerms(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("metoprolol", nil)
	if matched {
		t.Fatal("Match with nil terms should return matched=false")
	}
	if corrected != "metoprolol" {
		t.Errorf("corrected=%q, want original", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestMatcher_EmptyWord(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("", []string{"Metoprolol"})
	if matched {
		t.Fatal("Match with empty word should return matched=false")
	}
	if corrected != "" {
		t.Errorf("corrected=%q, want empty string", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.75),
		phonetic.WithFuzzyThreshold(0.90),
	)
	if m == nil {
		t.Fatal("New returned nil")
	}
}
