package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carescript/carescript/internal/config"
	"github.com/carescript/carescript/internal/intervention"
	"github.com/carescript/carescript/internal/observe"
	"github.com/carescript/carescript/internal/transcript"
	"github.com/carescript/carescript/internal/transcript/phonetic"
	"github.com/carescript/carescript/pkg/audio"
	"github.com/carescript/carescript/pkg/provider/transcribe"
	"github.com/carescript/carescript/pkg/provider/voiceagent"
	"github.com/carescript/carescript/pkg/store"
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	Transcription transcribe.Provider
	VoiceAgent    voiceagent.Provider
}

// SessionInfo holds metadata about the active care session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// PatientID identifies the patient being monitored.
	PatientID string

	// NurseName is the first name of the caregiver running the session.
	NurseName string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// UpdateKind discriminates session updates pushed to subscribers.
type UpdateKind string

const (
	// UpdatePreview is an interim transcript segment that later results
	// supersede.
	UpdatePreview UpdateKind = "preview"

	// UpdateFinal is a durable transcript segment.
	UpdateFinal UpdateKind = "final"

	// UpdateState is an intervention state transition.
	UpdateState UpdateKind = "state"

	// UpdateUtterance is an agent or patient utterance from a live
	// intervention.
	UpdateUtterance UpdateKind = "utterance"
)

// Update is one session event pushed to subscribers (the nurse dashboard
// WebSocket). Exactly one of the optional field groups is populated,
// depending on Kind.
type Update struct {
	Kind UpdateKind `json:"kind"`

	// Text and SpeakerID are set for preview, final, and utterance updates.
	Text      string `json:"text,omitempty"`
	SpeakerID string `json:"speaker_id,omitempty"`

	// From and To are set for state updates.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// subscriberBuffer bounds each subscriber channel. A subscriber that stops
// draining loses updates rather than stalling the session pipeline.
const subscriberBuffer = 64

// persistTimeout bounds background writes of intervention records.
const persistTimeout = 5 * time.Second

// SessionManager manages the lifecycle of live care sessions.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu          sync.Mutex
	active      bool
	info        SessionInfo
	stream      transcribe.StreamHandle
	machine     *intervention.Machine
	orch        *intervention.Orchestrator
	mapper      *transcript.Mapper
	keyterms    []string
	activeSince time.Time
	cancel      context.CancelFunc

	// closers are called in reverse order during Stop.
	closers []func() error

	subscribers map[int]chan Update
	nextSubID   int

	// Dependencies injected at construction.
	cfg       *config.Config
	providers *Providers
	patients  store.PatientStore
	sessions  store.SessionStore
	corrector *transcript.Corrector
	metrics   *observe.Metrics
	logger    *slog.Logger
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Config    *config.Config
	Providers *Providers
	Patients  store.PatientStore
	Sessions  store.SessionStore

	// Metrics defaults to observe.DefaultMetrics when nil.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		cfg:         cfg.Config,
		providers:   cfg.Providers,
		patients:    cfg.Patients,
		sessions:    cfg.Sessions,
		corrector:   transcript.NewCorrector(phonetic.New()),
		metrics:     m,
		logger:      logger,
		subscribers: map[int]chan Update{},
	}
}

// Start begins a new care session for the given patient. It looks up the
// patient context, opens the live transcription stream, and wires the
// classifier, state machine, and voice session orchestrator together.
//
// Returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context, patientID, nurseName string) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return SessionInfo{}, fmt.Errorf("session: a session is already active (id=%s)", sm.info.SessionID)
	}

	pc, err := sm.patients.PatientContext(ctx, patientID)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("session: patient context: %w", err)
	}

	sessionID := uuid.NewString()
	now := time.Now().UTC()

	// The stream and its drain goroutines outlive this call: ctx here is
	// typically an HTTP request context that dies when the handler returns,
	// so the live pipeline runs on a session-scoped context instead.
	sessionCtx, cancel := context.WithCancel(context.Background())

	stream, err := sm.providers.Transcription.StartStream(sessionCtx, transcribe.StreamConfig{
		SampleRate: audio.DefaultTargetRate,
		Channels:   1,
		Language:   sm.cfg.Providers.Transcription.Language,
		Keyterms:   pc.Keyterms,
	})
	if err != nil {
		cancel()
		sm.metrics.RecordProviderError(ctx, sm.cfg.Providers.Transcription.Name, "transcription")
		return SessionInfo{}, fmt.Errorf("session: start transcription stream: %w", err)
	}
	sm.metrics.RecordProviderRequest(ctx, sm.cfg.Providers.Transcription.Name, "transcription", "ok")

	var closers []func() error
	closers = append(closers, stream.Close)

	orch := intervention.NewOrchestrator(sm.providers.VoiceAgent, intervention.PatientContext{
		PatientFirstName: firstNonEmpty(pc.PreferredName, pc.Name),
		NurseFirstName:   nurseName,
		LovedOneName:     pc.LovedOneName,
		LovedOneRelation: pc.LovedOneRelation,
		ClonedVoiceID:    pc.ClonedVoiceID,
	}, intervention.WithOrchestratorLogger(sm.logger))

	machine := intervention.NewMachine(
		&timedRunner{
			inner:    orch,
			provider: sm.cfg.Providers.VoiceAgent.Name,
			metrics:  sm.metrics,
		},
		intervention.WithConfig(machineConfig(sm.cfg.Intervention)),
		intervention.WithLogger(sm.logger),
		intervention.WithStateHandler(func(from, to intervention.State) {
			sm.onStateChange(from, to)
		}),
		intervention.WithEndHandler(func(trigger intervention.Trigger, reason intervention.EndReason) {
			sm.onInterventionEnd(sessionID, patientID, trigger, reason)
		}),
	)
	closers = append(closers, func() error {
		machine.Close()
		return nil
	})

	orch.OnDisconnect(func(error) {
		machine.NotifyAgentDisconnected()
	})
	orch.OnUtterance(func(speaker, text string) {
		sm.broadcast(Update{Kind: UpdateUtterance, SpeakerID: speaker, Text: text})
	})

	mapper := transcript.NewMapper()

	go sm.drainFinals(sessionCtx, stream, mapper, machine, pc.Keyterms)
	go sm.drainPartials(sessionCtx, stream, mapper)

	sm.active = true
	sm.stream = stream
	sm.machine = machine
	sm.orch = orch
	sm.mapper = mapper
	sm.keyterms = pc.Keyterms
	sm.cancel = cancel
	sm.closers = closers
	sm.info = SessionInfo{
		SessionID: sessionID,
		PatientID: patientID,
		NurseName: nurseName,
		StartedAt: now,
	}

	sm.metrics.ActiveCareSessions.Add(ctx, 1)

	sm.logger.Info("care session started",
		"session_id", sessionID,
		"patient_id", patientID,
		"keyterms", len(pc.Keyterms),
		"cloned_voice", pc.ClonedVoiceID != "",
	)

	return sm.info, nil
}

// Stop gracefully ends the active session. It ends any running intervention,
// tears down the stream and machine, and persists the session transcript.
//
// Returns an error if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	if !sm.active {
		sm.mu.Unlock()
		return fmt.Errorf("session: no active session to stop")
	}

	info := sm.info
	machine := sm.machine
	mapper := sm.mapper
	cancel := sm.cancel
	closers := sm.closers

	// Clear state up front so concurrent Start and Stop calls fail fast.
	sm.active = false
	sm.stream = nil
	sm.machine = nil
	sm.orch = nil
	sm.mapper = nil
	sm.keyterms = nil
	sm.cancel = nil
	sm.closers = nil
	sm.info = SessionInfo{}
	sm.mu.Unlock()

	// Ends any in-flight intervention first, so the end handler records it
	// before the session record is written. The handlers take the manager
	// lock, which is why Stop releases it before this call.
	machine.Close()

	// Stop the drain goroutines, then run closers (stream, machine) in
	// reverse order.
	cancel()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			sm.logger.Warn("session: closer error", "session_id", info.SessionID, "index", i, "err", err)
		}
	}

	// Persist the final transcript.
	finals := mapper.Finals()
	if len(finals) > 0 {
		rec := &store.TranscriptRecord{
			SessionID:  info.SessionID,
			PatientID:  info.PatientID,
			StartedAt:  info.StartedAt,
			EndedAt:    time.Now().UTC(),
			Transcript: transcript.FormatSpeakerLines(finals),
		}
		if err := sm.sessions.SaveTranscript(ctx, rec); err != nil {
			sm.logger.Error("session: save transcript", "session_id", info.SessionID, "err", err)
		}
	}

	sm.mu.Lock()
	for id, ch := range sm.subscribers {
		close(ch)
		delete(sm.subscribers, id)
	}
	sm.mu.Unlock()

	sm.metrics.ActiveCareSessions.Add(ctx, -1)

	sm.logger.Info("care session stopped", "session_id", info.SessionID)

	return nil
}

// SendAudio forwards a PCM chunk from the bedside device to the live
// transcription stream, and to the voice session when one is running.
func (sm *SessionManager) SendAudio(chunk []byte) error {
	sm.mu.Lock()
	stream := sm.stream
	orch := sm.orch
	sm.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("session: no active session")
	}
	if err := stream.SendAudio(chunk); err != nil {
		return fmt.Errorf("session: send audio: %w", err)
	}
	// The orchestrator drops audio when no voice session is live.
	return orch.SendAudio(chunk)
}

// NurseTrigger starts an intervention on nurse authority.
func (sm *SessionManager) NurseTrigger() error {
	sm.mu.Lock()
	machine := sm.machine
	sm.mu.Unlock()
	if machine == nil {
		return fmt.Errorf("session: no active session")
	}
	machine.NurseTrigger()
	return nil
}

// NurseCancel cancels a pending trigger or ends an active intervention.
func (sm *SessionManager) NurseCancel() error {
	sm.mu.Lock()
	machine := sm.machine
	sm.mu.Unlock()
	if machine == nil {
		return fmt.Errorf("session: no active session")
	}
	machine.NurseCancel()
	return nil
}

// State returns the intervention state of the active session, or Monitoring
// when no session is running.
func (sm *SessionManager) State() intervention.State {
	sm.mu.Lock()
	machine := sm.machine
	sm.mu.Unlock()
	if machine == nil {
		return intervention.StateMonitoring
	}
	return machine.State()
}

// HostileCount returns the hostile entries in the active session's rolling
// window, or 0 when no session is running.
func (sm *SessionManager) HostileCount() int {
	sm.mu.Lock()
	machine := sm.machine
	sm.mu.Unlock()
	if machine == nil {
		return 0
	}
	return machine.HostileCount()
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Subscribe registers for session updates. The returned channel is closed
// when the session stops or when the returned cancel function runs. Slow
// subscribers lose updates rather than blocking the pipeline.
func (sm *SessionManager) Subscribe() (<-chan Update, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	id := sm.nextSubID
	sm.nextSubID++
	ch := make(chan Update, subscriberBuffer)
	sm.subscribers[id] = ch

	cancel := func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if c, ok := sm.subscribers[id]; ok {
			delete(sm.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// UpdateTuning replaces the intervention tuning used by the next session.
// The active session keeps its machine configuration; hot reload applies at
// the following Start.
func (sm *SessionManager) UpdateTuning(ic config.InterventionConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg.Intervention = ic
}

// drainFinals consumes durable segments: keyterm correction, timeline
// mapping, hostility classification, and subscriber fan-out.
func (sm *SessionManager) drainFinals(ctx context.Context, stream transcribe.StreamHandle, mapper *transcript.Mapper, machine *intervention.Machine, keyterms []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-stream.Finals():
			if !ok {
				return
			}
			corrected, corrections := sm.corrector.Correct(seg.Text, keyterms)
			if len(corrections) > 0 {
				sm.logger.Debug("keyterm correction applied",
					"original", seg.Text,
					"corrected", corrected,
					"count", len(corrections),
				)
			}
			seg.Text = corrected

			mapper.Apply(seg)
			machine.HandleSegment(seg.Text, seg.SpeakerID)
			sm.metrics.RecordSegment(ctx, intervention.IsHostile(seg.Text))
			sm.broadcast(Update{Kind: UpdateFinal, Text: seg.Text, SpeakerID: seg.SpeakerID})
		}
	}
}

// drainPartials consumes interim segments for live display only. Partials
// never reach the classifier.
func (sm *SessionManager) drainPartials(ctx context.Context, stream transcribe.StreamHandle, mapper *transcript.Mapper) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg, ok := <-stream.Partials():
			if !ok {
				return
			}
			mapper.Apply(seg)
			sm.broadcast(Update{Kind: UpdatePreview, Text: seg.Text, SpeakerID: seg.SpeakerID})
		}
	}
}

// onStateChange tracks the active-intervention gauge and fans the transition
// out to subscribers. Runs on the machine's dispatching goroutine, so it must
// not call back into the machine.
func (sm *SessionManager) onStateChange(from, to intervention.State) {
	ctx := context.Background()
	if to == intervention.StateActive {
		sm.mu.Lock()
		sm.activeSince = time.Now().UTC()
		sm.mu.Unlock()
		sm.metrics.ActiveInterventions.Add(ctx, 1)
	}
	if from == intervention.StateActive {
		sm.metrics.ActiveInterventions.Add(ctx, -1)
	}
	sm.broadcast(Update{Kind: UpdateState, From: string(from), To: string(to)})
}

// onInterventionEnd records one intervention attempt. It runs on the
// machine's dispatching goroutine, which holds the machine lock, so the
// record is captured synchronously and the database write moves to its own
// goroutine with a bounded context. A slow store must never stall a nurse
// cancel.
func (sm *SessionManager) onInterventionEnd(sessionID, patientID string, trigger intervention.Trigger, reason intervention.EndReason) {
	sm.mu.Lock()
	startedAt := sm.activeSince
	sm.mu.Unlock()

	endedAt := time.Now().UTC()

	rec := &store.InterventionRecord{
		SessionID:   sessionID,
		PatientID:   patientID,
		TriggeredBy: string(trigger),
		TriggeredAt: startedAt,
		EndedAt:     endedAt,
		EndReason:   string(reason),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := sm.sessions.SaveIntervention(ctx, rec); err != nil {
			sm.logger.Error("session: save intervention", "session_id", sessionID, "err", err)
		}
		sm.metrics.RecordIntervention(ctx, string(trigger), string(reason), endedAt.Sub(startedAt).Seconds())
	}()
}

// broadcast fans an update out to all subscribers without blocking.
func (sm *SessionManager) broadcast(u Update) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, ch := range sm.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

// machineConfig converts the YAML tuning block to the machine's Config. Zero
// values fall through to the machine defaults.
func machineConfig(ic config.InterventionConfig) intervention.Config {
	return intervention.Config{
		Threshold:            ic.Threshold,
		WindowSize:           ic.WindowSize,
		TriggerDelay:         ic.TriggerDelay.Std(),
		Cooldown:             ic.Cooldown.Std(),
		StartTimeout:         ic.StartTimeout.Std(),
		AttributeAllSpeakers: ic.AttributeAllSpeakers,
		PatientSpeakerID:     ic.PatientSpeakerID,
	}
}

// timedRunner wraps the orchestrator so every voice session start is timed
// and provider failures are counted.
type timedRunner struct {
	inner    intervention.SessionRunner
	provider string
	metrics  *observe.Metrics
}

func (r *timedRunner) Start(ctx context.Context, trigger intervention.Trigger) error {
	started := time.Now()
	err := r.inner.Start(ctx, trigger)
	r.metrics.SessionStartDuration.Record(ctx, time.Since(started).Seconds())
	if err != nil {
		r.metrics.RecordProviderError(ctx, r.provider, "voice_agent")
		return err
	}
	r.metrics.RecordProviderRequest(ctx, r.provider, "voice_agent", "ok")
	return nil
}

func (r *timedRunner) End() { r.inner.End() }

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

var _ intervention.SessionRunner = (*timedRunner)(nil)
