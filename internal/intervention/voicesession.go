package intervention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/carescript/carescript/pkg/provider/voiceagent"
)

// Orchestrator opens and closes voice agent sessions on behalf of the state
// machine. It builds the persona from the patient context, strips direct
// identifiers from agent-bound text, selects the cloned voice when one
// exists, and watches the live session so connection loss is reported as an
// event rather than discovered by polling.
//
// Orchestrator implements SessionRunner. Safe for concurrent use.
type Orchestrator struct {
	provider  voiceagent.Provider
	patient   PatientContext
	sanitizer *Sanitizer
	logger    *slog.Logger

	mu       sync.Mutex
	sess     voiceagent.Session
	speaking bool

	// starting marks a StartSession call in flight; endedWhileStarting
	// records an End that arrived during it, so the session is torn down
	// instead of installed when the provider finally answers.
	starting           bool
	endedWhileStarting bool

	onDisconnect func(err error)
	onUtterance  func(speaker, text string)
}

// OrchestratorOption is a functional option for configuring an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the structured logger. Defaults to slog.Default.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator returns an Orchestrator for one care session.
func NewOrchestrator(provider voiceagent.Provider, patient PatientContext, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider:  provider,
		patient:   patient,
		sanitizer: NewSanitizer(patient),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnDisconnect registers a callback invoked once when a live session closes
// for any reason other than End. err is nil for a provider-side clean close.
// Must be set before Start.
func (o *Orchestrator) OnDisconnect(fn func(err error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onDisconnect = fn
}

// OnUtterance registers a callback for agent and patient utterances
// surfaced by the session, for display and persistence. Must be set before
// Start.
func (o *Orchestrator) OnUtterance(fn func(speaker, text string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onUtterance = fn
}

// Start opens a voice session. A credential failure or session-start failure
// is returned synchronously; the caller decides what state to fall back to.
// Starting while a session is already live is an error.
func (o *Orchestrator) Start(ctx context.Context, trigger Trigger) error {
	o.mu.Lock()
	if o.sess != nil || o.starting {
		o.mu.Unlock()
		return fmt.Errorf("intervention: voice session already running")
	}
	o.starting = true
	o.endedWhileStarting = false
	o.mu.Unlock()

	// Agent-bound text carries placeholders instead of names; the provider
	// substitutes the dynamic variables at session start.
	cfg := voiceagent.SessionConfig{
		Prompt:           o.sanitizer.Sanitize(BuildPersona(o.patient)),
		FirstMessage:     o.sanitizer.Sanitize(FirstUtterance(o.patient)),
		VoiceID:          o.patient.ClonedVoiceID,
		DynamicVariables: o.sanitizer.Values(),
	}

	sess, err := o.provider.StartSession(ctx, cfg)

	o.mu.Lock()
	o.starting = false
	if err != nil {
		o.endedWhileStarting = false
		o.mu.Unlock()
		return fmt.Errorf("intervention: start voice session: %w", err)
	}
	if o.endedWhileStarting {
		o.endedWhileStarting = false
		o.mu.Unlock()
		if err := sess.End(); err != nil {
			o.logger.Warn("voice session end", "err", err)
		}
		o.logger.Info("voice session ended before start completed",
			"trigger", string(trigger),
		)
		return nil
	}
	o.sess = sess
	o.mu.Unlock()

	o.logger.Info("voice session started",
		"trigger", string(trigger),
		"cloned_voice", o.patient.ClonedVoiceID != "",
	)

	go o.watch(sess)
	return nil
}

// watch drains the session's audio and event channels, maintains the
// agent-speaking flag, and reports disconnects. It exits when both channels
// close.
func (o *Orchestrator) watch(sess voiceagent.Session) {
	audio := sess.Audio()
	events := sess.Events()

	for audio != nil || events != nil {
		select {
		case _, ok := <-audio:
			if !ok {
				audio = nil
				continue
			}
			o.setSpeaking(true)

		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch evt.Type {
			case voiceagent.EventAgentResponse:
				o.emitUtterance("agent", o.sanitizer.Hydrate(evt.Text))
			case voiceagent.EventUserTranscript:
				o.setSpeaking(false)
				o.emitUtterance("patient", o.sanitizer.Hydrate(evt.Text))
			case voiceagent.EventInterruption:
				o.setSpeaking(false)
			}
		}
	}

	o.setSpeaking(false)

	o.mu.Lock()
	ended := o.sess == nil // End already ran
	o.sess = nil
	fn := o.onDisconnect
	o.mu.Unlock()

	if ended {
		return
	}

	err := sess.Err()
	if err != nil {
		o.logger.Warn("voice session lost", "err", err)
	} else {
		o.logger.Info("voice session closed by provider")
	}
	if fn != nil {
		fn(err)
	}
}

// SendAudio forwards a patient-side PCM chunk to the live session. A no-op
// when no session is running.
func (o *Orchestrator) SendAudio(chunk []byte) error {
	o.mu.Lock()
	sess := o.sess
	o.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.SendAudio(chunk)
}

// End closes the current session. Idempotent: ending an already-closed or
// never-opened session is a no-op. An End that lands while Start is waiting
// on the provider marks the pending session for teardown on arrival.
func (o *Orchestrator) End() {
	o.mu.Lock()
	sess := o.sess
	o.sess = nil
	o.speaking = false
	if sess == nil && o.starting {
		o.endedWhileStarting = true
	}
	o.mu.Unlock()

	if sess == nil {
		return
	}
	if err := sess.End(); err != nil {
		o.logger.Warn("voice session end", "err", err)
	}
}

// AgentSpeaking reports whether the agent is currently producing speech.
func (o *Orchestrator) AgentSpeaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

func (o *Orchestrator) setSpeaking(v bool) {
	o.mu.Lock()
	o.speaking = v
	o.mu.Unlock()
}

func (o *Orchestrator) emitUtterance(speaker, text string) {
	o.mu.Lock()
	fn := o.onUtterance
	o.mu.Unlock()
	if fn != nil {
		fn(speaker, text)
	}
}

// Ensure Orchestrator satisfies SessionRunner at compile time.
var _ SessionRunner = (*Orchestrator)(nil)
