package intervention

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carescript/carescript/pkg/provider/voiceagent"
	vamock "github.com/carescript/carescript/pkg/provider/voiceagent/mock"
)

func testPatient() PatientContext {
	return PatientContext{
		PatientFirstName: "Maria",
		NurseFirstName:   "Jon",
		LovedOneName:     "Rosa",
		LovedOneRelation: "daughter",
		ClonedVoiceID:    "voice-rosa",
	}
}

func TestOrchestratorStartBuildsSessionConfig(t *testing.T) {
	provider := &vamock.Provider{Session: vamock.NewSession()}
	o := NewOrchestrator(provider, testPatient())

	if err := o.Start(context.Background(), TriggerAuto); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.End()

	if len(provider.StartSessionCalls) != 1 {
		t.Fatalf("StartSession calls = %d, want 1", len(provider.StartSessionCalls))
	}
	cfg := provider.StartSessionCalls[0].Cfg

	if cfg.VoiceID != "voice-rosa" {
		t.Errorf("VoiceID = %q, want voice-rosa", cfg.VoiceID)
	}
	if !strings.Contains(cfg.Prompt, "{{loved_one_name}}") || !strings.Contains(cfg.Prompt, "daughter") {
		t.Errorf("prompt not personalized:\n%s", cfg.Prompt)
	}
	// Names travel as dynamic variables, never inline in agent-bound text.
	for _, name := range []string{"Maria", "Rosa", "Jon"} {
		if strings.Contains(cfg.Prompt, name) {
			t.Errorf("prompt leaks name %s:\n%s", name, cfg.Prompt)
		}
	}
	if !strings.Contains(cfg.FirstMessage, "Hi {{patient_name}}, it's {{loved_one_name}}.") {
		t.Errorf("first message = %q", cfg.FirstMessage)
	}
	if cfg.DynamicVariables["patient_name"] != "Maria" ||
		cfg.DynamicVariables["nurse_name"] != "Jon" ||
		cfg.DynamicVariables["loved_one_name"] != "Rosa" {
		t.Errorf("dynamic variables = %v", cfg.DynamicVariables)
	}
}

func TestOrchestratorStartWhileRunning(t *testing.T) {
	provider := &vamock.Provider{Session: vamock.NewSession()}
	o := NewOrchestrator(provider, testPatient())

	if err := o.Start(context.Background(), TriggerNurse); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.End()

	if err := o.Start(context.Background(), TriggerNurse); err == nil {
		t.Fatal("second Start succeeded, want error")
	}
	if len(provider.StartSessionCalls) != 1 {
		t.Fatalf("StartSession calls = %d, want 1", len(provider.StartSessionCalls))
	}
}

func TestOrchestratorUtterancesAndSpeaking(t *testing.T) {
	sess := vamock.NewSession()
	provider := &vamock.Provider{Session: sess}
	o := NewOrchestrator(provider, testPatient())

	var mu sync.Mutex
	var utterances []string
	o.OnUtterance(func(speaker, text string) {
		mu.Lock()
		utterances = append(utterances, speaker+": "+text)
		mu.Unlock()
	})

	if err := o.Start(context.Background(), TriggerAuto); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.End()

	sess.AudioCh <- []byte{1, 2, 3}
	waitFor(t, func() bool { return o.AgentSpeaking() }, "agent speaking after audio")

	sess.EventsCh <- voiceagent.Event{Type: voiceagent.EventAgentResponse, Text: "Hi Maria, it's Rosa."}
	sess.EventsCh <- voiceagent.Event{Type: voiceagent.EventUserTranscript, Text: "Okay, fine."}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(utterances) == 2
	}, "both utterances delivered")

	mu.Lock()
	defer mu.Unlock()
	if utterances[0] != "agent: Hi Maria, it's Rosa." {
		t.Errorf("utterances[0] = %q", utterances[0])
	}
	if utterances[1] != "patient: Okay, fine." {
		t.Errorf("utterances[1] = %q", utterances[1])
	}
	if o.AgentSpeaking() {
		t.Error("agent still marked speaking after a user transcript")
	}
}

func TestOrchestratorInterruptionStopsSpeaking(t *testing.T) {
	sess := vamock.NewSession()
	provider := &vamock.Provider{Session: sess}
	o := NewOrchestrator(provider, testPatient())

	if err := o.Start(context.Background(), TriggerAuto); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.End()

	sess.AudioCh <- []byte{1}
	waitFor(t, func() bool { return o.AgentSpeaking() }, "agent speaking")

	sess.EventsCh <- voiceagent.Event{Type: voiceagent.EventInterruption}
	waitFor(t, func() bool { return !o.AgentSpeaking() }, "speaking cleared on interruption")
}

func TestOrchestratorReportsDisconnect(t *testing.T) {
	sess := vamock.NewSession()
	provider := &vamock.Provider{Session: sess}
	o := NewOrchestrator(provider, testPatient())

	disconnected := make(chan error, 1)
	o.OnDisconnect(func(err error) { disconnected <- err })

	if err := o.Start(context.Background(), TriggerAuto); err != nil {
		t.Fatalf("Start: %v", err)
	}

	close(sess.AudioCh)
	close(sess.EventsCh)

	select {
	case err := <-disconnected:
		if err != nil {
			t.Fatalf("disconnect err = %v, want nil for clean close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never reported")
	}
}

func TestOrchestratorEndSuppressesDisconnect(t *testing.T) {
	sess := vamock.NewSession()
	provider := &vamock.Provider{Session: sess}
	o := NewOrchestrator(provider, testPatient())

	disconnected := make(chan error, 1)
	o.OnDisconnect(func(err error) { disconnected <- err })

	if err := o.Start(context.Background(), TriggerAuto); err != nil {
		t.Fatalf("Start: %v", err)
	}

	o.End()
	close(sess.AudioCh)
	close(sess.EventsCh)

	select {
	case err := <-disconnected:
		t.Fatalf("disconnect reported after End: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if got := sess.EndCalls(); got != 1 {
		t.Fatalf("End calls = %d, want 1", got)
	}
}

func TestOrchestratorEndIsIdempotent(t *testing.T) {
	sess := vamock.NewSession()
	provider := &vamock.Provider{Session: sess}
	o := NewOrchestrator(provider, testPatient())

	if err := o.Start(context.Background(), TriggerNurse); err != nil {
		t.Fatalf("Start: %v", err)
	}

	o.End()
	o.End()
	if got := sess.EndCalls(); got != 1 {
		t.Fatalf("End calls = %d, want 1", got)
	}
	if o.AgentSpeaking() {
		t.Error("speaking flag set after End")
	}
}

func TestOrchestratorSendAudio(t *testing.T) {
	sess := vamock.NewSession()
	provider := &vamock.Provider{Session: sess}
	o := NewOrchestrator(provider, testPatient())

	// Without a running session a chunk is dropped silently.
	if err := o.SendAudio([]byte{9}); err != nil {
		t.Fatalf("SendAudio without session: %v", err)
	}
	if len(sess.SentAudio) != 0 {
		t.Fatal("chunk forwarded without a session")
	}

	if err := o.Start(context.Background(), TriggerAuto); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.End()

	if err := o.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if len(sess.SentAudio) != 1 {
		t.Fatalf("forwarded chunks = %d, want 1", len(sess.SentAudio))
	}
}

func TestOrchestratorHydratesAgentPlaceholders(t *testing.T) {
	sess := vamock.NewSession()
	provider := &vamock.Provider{Session: sess}
	o := NewOrchestrator(provider, testPatient())

	var mu sync.Mutex
	var got []string
	o.OnUtterance(func(speaker, text string) {
		mu.Lock()
		got = append(got, speaker+": "+text)
		mu.Unlock()
	})

	if err := o.Start(context.Background(), TriggerAuto); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.End()

	sess.EventsCh <- voiceagent.Event{Type: voiceagent.EventAgentResponse, Text: "Hi {{patient_name}}, it's {{loved_one_name}}."}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "utterance delivered")

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "agent: Hi Maria, it's Rosa." {
		t.Errorf("utterance = %q", got[0])
	}
}

// gatedProvider stalls StartSession until its gate closes, standing in for a
// slow provider handshake.
type gatedProvider struct {
	*vamock.Provider
	gate chan struct{}
}

func (p *gatedProvider) StartSession(ctx context.Context, cfg voiceagent.SessionConfig) (voiceagent.Session, error) {
	<-p.gate
	return p.Provider.StartSession(ctx, cfg)
}

func TestOrchestratorEndDuringStartTearsDownLateSession(t *testing.T) {
	sess := vamock.NewSession()
	provider := &gatedProvider{
		Provider: &vamock.Provider{Session: sess},
		gate:     make(chan struct{}),
	}
	o := NewOrchestrator(provider, testPatient())

	done := make(chan error, 1)
	go func() { done <- o.Start(context.Background(), TriggerNurse) }()

	// The cancel lands while the provider handshake is still in flight.
	waitFor(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.starting
	}, "start in flight")
	o.End()
	close(provider.gate)

	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return sess.EndCalls() == 1 }, "late session torn down")

	// The session was never installed, so audio is dropped.
	if err := o.SendAudio([]byte{7}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if len(sess.SentAudio) != 0 {
		t.Fatal("audio forwarded to a torn-down session")
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
