package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/carescript/carescript/pkg/provider/transcribe"
)

// ---- URL / query-param tests ----

func TestBuildStreamURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := transcribe.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en",
	}

	rawURL, err := p.buildStreamURL(cfg)
	if err != nil {
		t.Fatalf("buildStreamURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3-medical", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
	assertEqual(t, "diarize", "true", q.Get("diarize"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildStreamURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("nova-3"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildStreamURL(transcribe.StreamConfig{})
	if err != nil {
		t.Fatalf("buildStreamURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildStreamURL_LanguageOverriddenByCfg(t *testing.T) {
	// cfg.Language should take precedence over the provider-level default.
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildStreamURL(transcribe.StreamConfig{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildStreamURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildStreamURL_Keyterms(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := transcribe.StreamConfig{
		SampleRate: 16000,
		Keyterms:   []string{"metoprolol", "dialysis"},
	}

	rawURL, err := p.buildStreamURL(cfg)
	if err != nil {
		t.Fatalf("buildStreamURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	terms := u.Query()["keyterm"]
	if len(terms) != 2 {
		t.Fatalf("expected 2 keyterms, got %d: %v", len(terms), terms)
	}

	found := map[string]bool{}
	for _, term := range terms {
		found[term] = true
	}
	if !found["metoprolol"] || !found["dialysis"] {
		t.Errorf("missing keyterms in %v", terms)
	}
}

func TestBuildBatchURL(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildBatchURL(transcribe.BatchConfig{Keyterms: []string{"insulin"}})
	if err != nil {
		t.Fatalf("buildBatchURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "nova-3-medical", q.Get("model"))
	assertEqual(t, "diarize", "true", q.Get("diarize"))
	assertEqual(t, "utterances", "true", q.Get("utterances"))
	assertEqual(t, "filler_words", "true", q.Get("filler_words"))
	assertEqual(t, "keyterm", "insulin", q.Get("keyterm"))
}

// ---- streaming JSON parsing tests ----

func TestParseStreamResponse_FinalWithSpeaker(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "I said no",
				"confidence": 0.95,
				"words": [
					{"word": "I", "start": 0.1, "end": 0.2, "speaker": 1},
					{"word": "said", "start": 0.2, "end": 0.5, "speaker": 1},
					{"word": "no", "start": 0.5, "end": 0.8, "speaker": 1}
				]
			}]
		}
	}`)

	seg, ok := parseStreamResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}

	if !seg.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "I said no", seg.Text)
	assertEqual(t, "speaker", "speaker_1", seg.SpeakerID)
	if !seg.Timed {
		t.Error("expected Timed=true when words are present")
	}
	if seg.StartTime != 0.1 || seg.EndTime != 0.8 {
		t.Errorf("unexpected timing: [%f, %f]", seg.StartTime, seg.EndTime)
	}
}

func TestParseStreamResponse_Partial(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {
			"alternatives": [{
				"transcript": "Hello",
				"confidence": 0.7,
				"words": []
			}]
		}
	}`)

	seg, ok := parseStreamResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if seg.IsFinal {
		t.Error("expected IsFinal=false for partial result")
	}
	if seg.Timed {
		t.Error("expected Timed=false when no words are present")
	}
	if seg.SpeakerID != "" {
		t.Errorf("expected empty speaker, got %q", seg.SpeakerID)
	}
	assertEqual(t, "text", "Hello", seg.Text)
}

func TestParseStreamResponse_NoDiarization(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "Hello",
				"words": [{"word": "Hello", "start": 0.1, "end": 0.5}]
			}]
		}
	}`)

	seg, ok := parseStreamResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if seg.SpeakerID != "" {
		t.Errorf("expected empty speaker without diarization, got %q", seg.SpeakerID)
	}
	if !seg.Timed {
		t.Error("expected Timed=true")
	}
}

func TestParseStreamResponse_NonResultsType(t *testing.T) {
	raw := []byte(`{"type":"Metadata","request_id":"abc"}`)
	_, ok := parseStreamResponse(raw)
	if ok {
		t.Error("expected ok=false for non-Results message")
	}
}

func TestParseStreamResponse_EmptyTranscript(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`)
	_, ok := parseStreamResponse(raw)
	if ok {
		t.Error("expected ok=false for empty transcript")
	}
}

func TestParseStreamResponse_InvalidJSON(t *testing.T) {
	_, ok := parseStreamResponse([]byte(`{invalid`))
	if ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

// ---- batch tests ----

const batchResponseJSON = `{
	"results": {
		"channels": [{
			"detected_language": "en",
			"alternatives": [{
				"transcript": "Good morning. Leave me alone.",
				"words": [
					{"word": "good", "punctuated_word": "Good", "start": 0.5, "end": 0.9, "speaker": 0},
					{"word": "morning", "punctuated_word": "morning.", "start": 0.9, "end": 1.4, "speaker": 0},
					{"word": "leave", "punctuated_word": "Leave", "start": 2.0, "end": 2.3, "speaker": 1},
					{"word": "me", "punctuated_word": "me", "start": 2.3, "end": 2.5, "speaker": 1},
					{"word": "alone", "punctuated_word": "alone.", "start": 2.5, "end": 3.0, "speaker": 1}
				]
			}]
		}]
	}
}`

func TestParseBatchResponse(t *testing.T) {
	result, err := parseBatchResponse([]byte(batchResponseJSON))
	if err != nil {
		t.Fatalf("parseBatchResponse: %v", err)
	}

	assertEqual(t, "text", "Good morning. Leave me alone.", result.Text)
	assertEqual(t, "detected language", "en", result.DetectedLanguage)
	if len(result.Segments) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(result.Segments))
	}

	first := result.Segments[0]
	assertEqual(t, "segment text", "Good", first.Text)
	assertEqual(t, "segment speaker", "speaker_0", first.SpeakerID)
	if !first.Timed || first.StartTime != 0.5 || first.EndTime != 0.9 {
		t.Errorf("unexpected timing on first segment: %+v", first)
	}
	if !first.IsFinal {
		t.Error("batch segments must be final")
	}

	last := result.Segments[4]
	assertEqual(t, "last speaker", "speaker_1", last.SpeakerID)
}

func TestParseBatchResponse_Empty(t *testing.T) {
	_, err := parseBatchResponse([]byte(`{"results":{"channels":[]}}`))
	if err == nil {
		t.Error("expected error for empty channels")
	}
}

func TestTranscribeBatch(t *testing.T) {
	var gotAuth, gotContentType string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(batchResponseJSON))
	}))
	defer srv.Close()

	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.batchURL = srv.URL

	result, err := p.TranscribeBatch(context.Background(), []byte("RIFF..."), transcribe.BatchConfig{})
	if err != nil {
		t.Fatalf("TranscribeBatch: %v", err)
	}

	assertEqual(t, "authorization", "Token test-key", gotAuth)
	assertEqual(t, "content type", "audio/wav", gotContentType)
	assertEqual(t, "model", "nova-3-medical", gotQuery.Get("model"))
	if len(result.Segments) != 5 {
		t.Errorf("expected 5 segments, got %d", len(result.Segments))
	}
}

func TestTranscribeBatch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("bad-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.batchURL = srv.URL

	_, err = p.TranscribeBatch(context.Background(), []byte("RIFF..."), transcribe.BatchConfig{})
	if err == nil {
		t.Error("expected error for non-200 response")
	}
}

// ---- constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
