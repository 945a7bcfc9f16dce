package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/carescript/carescript/internal/app"
	"github.com/carescript/carescript/internal/config"
	"github.com/carescript/carescript/internal/httpapi"
	"github.com/carescript/carescript/pkg/audio"
	"github.com/carescript/carescript/pkg/provider/transcribe"
	trmock "github.com/carescript/carescript/pkg/provider/transcribe/mock"
	vamock "github.com/carescript/carescript/pkg/provider/voiceagent/mock"
	"github.com/carescript/carescript/pkg/store"
	storemock "github.com/carescript/carescript/pkg/store/mock"
)

// fixture bundles the server under test with its mocks.
type fixture struct {
	srv    *httptest.Server
	stream *trmock.Stream
	trp    *trmock.Provider
	st     *storemock.Store
	mgr    *app.SessionManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	stream := &trmock.Stream{
		PartialsCh: make(chan transcribe.Segment, 16),
		FinalsCh:   make(chan transcribe.Segment, 16),
	}
	trp := &trmock.Provider{Stream: stream}

	st := storemock.NewStore()
	st.Patients["p1"] = &store.PatientContext{
		PatientID:        "p1",
		Name:             "Maria Alvarez",
		PreferredName:    "Maria",
		LovedOneName:     "Rosa",
		LovedOneRelation: "daughter",
	}

	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Transcription: config.ProviderEntry{Name: "deepgram"},
			VoiceAgent:    config.VoiceAgentEntry{Name: "elevenlabs", AgentID: "agent-1"},
		},
		Intervention: config.InterventionConfig{
			TriggerDelay: config.Duration(time.Minute),
			Cooldown:     config.Duration(time.Minute),
		},
	}

	mgr := app.NewSessionManager(app.SessionManagerConfig{
		Config:    cfg,
		Providers: &app.Providers{Transcription: trp, VoiceAgent: &vamock.Provider{}},
		Patients:  st,
		Sessions:  st,
	})

	server := httpapi.NewServer(httpapi.ServerConfig{
		Addr:         ":0",
		Sessions:     mgr,
		Patients:     st,
		Calibrations: st,
		Records:      st,
		Transcriber:  trp,
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		if mgr.IsActive() {
			_ = mgr.Stop(context.Background())
		}
		ts.Close()
	})
	return &fixture{srv: ts, stream: stream, trp: trp, st: st, mgr: mgr}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func startSession(t *testing.T, f *fixture) map[string]any {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/sessions",
		strings.NewReader(`{"patient_id":"p1","nurse_name":"Jon"}`), "application/json")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session status = %d, want 201", resp.StatusCode)
	}
	return decode[map[string]any](t, resp)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	// No session yet.
	resp := f.do(t, http.MethodGet, "/api/sessions/current", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET current status = %d, want 404", resp.StatusCode)
	}

	body := startSession(t, f)
	if body["session_id"] == "" {
		t.Error("session_id missing in start response")
	}
	if body["state"] != "monitoring" {
		t.Errorf("state = %v, want monitoring", body["state"])
	}

	resp = f.do(t, http.MethodGet, "/api/sessions/current", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET current status = %d, want 200", resp.StatusCode)
	}
	info := decode[map[string]any](t, resp)
	if info["patient_id"] != "p1" || info["nurse_name"] != "Jon" {
		t.Errorf("session info = %v", info)
	}

	// Starting twice conflicts.
	resp = f.do(t, http.MethodPost, "/api/sessions",
		strings.NewReader(`{"patient_id":"p1"}`), "application/json")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}

	resp = f.do(t, http.MethodDelete, "/api/sessions/current", nil, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", resp.StatusCode)
	}
	resp = f.do(t, http.MethodDelete, "/api/sessions/current", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionStart_Errors(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/sessions",
		strings.NewReader(`{"patient_id":"nobody"}`), "application/json")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown patient status = %d, want 404", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/sessions",
		strings.NewReader(`{"nurse_name":"Jon"}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing patient_id status = %d, want 400", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/sessions", strings.NewReader(`{nope`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", resp.StatusCode)
	}
}

func TestInterventionEndpoints(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/intervention", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d, want 200", resp.StatusCode)
	}
	state := decode[map[string]any](t, resp)
	if state["state"] != "monitoring" || state["session_active"] != false {
		t.Errorf("state body = %v", state)
	}

	// Control endpoints need a session.
	resp = f.do(t, http.MethodPost, "/api/intervention/trigger", nil, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("trigger without session status = %d, want 409", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/api/intervention/cancel", nil, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel without session status = %d, want 409", resp.StatusCode)
	}

	startSession(t, f)

	resp = f.do(t, http.MethodPost, "/api/intervention/trigger", nil, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("trigger status = %d, want 202", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/api/intervention/cancel", nil, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("cancel status = %d, want 202", resp.StatusCode)
	}
}

func TestCalibrationClipRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/patients/p1/calibration", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing clip status = %d, want 404", resp.StatusCode)
	}

	clip := []byte("RIFF-not-really-but-opaque-here")
	resp = f.do(t, http.MethodPost, "/api/patients/p1/calibration",
		bytes.NewReader(clip), "audio/wav")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("POST clip status = %d, want 204", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/patients/p1/calibration", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET clip status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	if !bytes.Equal(got, clip) {
		t.Error("clip bytes differ after round trip")
	}

	resp = f.do(t, http.MethodPost, "/api/patients/p1/calibration", bytes.NewReader(nil), "audio/wav")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty clip status = %d, want 400", resp.StatusCode)
	}
}

// makeWAV builds n samples of silence at 16 kHz.
func makeWAV(n int) []byte {
	return audio.EncodeWAV(make([]float32, n), 16000)
}

func TestRecordingTranscription(t *testing.T) {
	f := newFixture(t)

	// One second of calibration audio: offset 1.0s after resampling.
	f.st.Clips["p1"] = &store.CalibrationClip{
		PatientID: "p1",
		Audio:     makeWAV(16000),
		MimeType:  "audio/wav",
	}

	f.trp.BatchResult = &transcribe.BatchResult{
		Segments: []transcribe.Segment{
			// Calibration prefix, dropped by the offset cut.
			{Text: "testing", SpeakerID: "speaker_0", StartTime: 0.2, EndTime: 0.8, Timed: true, IsFinal: true},
			{Text: "good", SpeakerID: "speaker_0", StartTime: 1.2, EndTime: 1.5, Timed: true, IsFinal: true},
			{Text: "morning", SpeakerID: "speaker_0", StartTime: 1.5, EndTime: 1.9, Timed: true, IsFinal: true},
		},
		DetectedLanguage: "en",
	}

	resp := f.do(t, http.MethodPost, "/api/patients/p1/recordings?session_id=s-42",
		bytes.NewReader(makeWAV(32000)), "audio/wav")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recording status = %d, want 200", resp.StatusCode)
	}

	body := decode[map[string]any](t, resp)
	if body["session_id"] != "s-42" {
		t.Errorf("session_id = %v, want s-42", body["session_id"])
	}
	if body["calibration_offset_seconds"].(float64) != 1.0 {
		t.Errorf("offset = %v, want 1.0", body["calibration_offset_seconds"])
	}
	if body["segments"].(float64) != 2 {
		t.Errorf("segments = %v, want 2 after the calibration cut", body["segments"])
	}
	transcript := body["transcript"].(string)
	if !strings.Contains(transcript, "good morning") {
		t.Errorf("transcript = %q, want the post-calibration text", transcript)
	}
	if strings.Contains(transcript, "testing") {
		t.Errorf("transcript = %q, calibration prefix not removed", transcript)
	}

	rec, ok := f.st.Transcripts["s-42"]
	if !ok {
		t.Fatal("transcript not persisted")
	}
	if rec.PatientID != "p1" {
		t.Errorf("record PatientID = %q, want p1", rec.PatientID)
	}

	// The batch call received the spliced WAV, not the raw upload.
	if len(f.trp.TranscribeBatchCalls) != 1 {
		t.Fatalf("TranscribeBatch calls = %d, want 1", len(f.trp.TranscribeBatchCalls))
	}
	spliced := f.trp.TranscribeBatchCalls[0].Audio
	combined, err := audio.Decode(spliced)
	if err != nil {
		t.Fatalf("decode spliced WAV: %v", err)
	}
	if combined.Frames() != 48000 {
		t.Errorf("spliced frames = %d, want 48000 (calibration + session)", combined.Frames())
	}
}

func TestRecording_Errors(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/patients/nobody/recordings",
		bytes.NewReader(makeWAV(16000)), "audio/wav")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown patient status = %d, want 404", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/patients/p1/recordings",
		strings.NewReader("definitely not audio"), "audio/wav")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("corrupt audio status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/readyz", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/metrics", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/intervention", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Correlation-ID") == "" {
		t.Skip("no global tracer provider registered; correlation ID absent")
	}
}
