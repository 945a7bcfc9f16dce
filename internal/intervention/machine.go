package intervention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State identifies the intervention lifecycle phase. Exactly one Machine
// exists per care session and it is the sole owner of its State.
type State string

const (
	// StateMonitoring is the resting state: segments are classified and the
	// rolling window is maintained, nothing else happens.
	StateMonitoring State = "monitoring"

	// StateTriggerPending means the hostility threshold was crossed and the
	// trigger delay is running. De-escalation or a nurse cancel during the
	// delay returns to Monitoring without an intervention.
	StateTriggerPending State = "trigger_pending"

	// StateActive means a voice session is starting or running.
	StateActive State = "active"

	// StateCooldown is the mandatory quiet period after an intervention
	// ends. Automatic triggering is suppressed until it elapses; a nurse
	// trigger bypasses it.
	StateCooldown State = "cooldown"
)

// EndReason explains why an intervention left the Active state.
type EndReason string

const (
	ReasonPatientComplied   EndReason = "patient_complied"
	ReasonNurseOverride     EndReason = "nurse_override"
	ReasonError             EndReason = "error"
	ReasonAgentDisconnected EndReason = "agent_disconnected"
)

// Trigger identifies what started an intervention.
type Trigger string

const (
	TriggerAuto  Trigger = "auto"
	TriggerNurse Trigger = "nurse"
)

// Config tunes the state machine. Zero values select the defaults.
type Config struct {
	// Threshold is the hostile count in the window that arms the trigger.
	Threshold int

	// WindowSize is the rolling window capacity.
	WindowSize int

	// TriggerDelay is how long the machine waits in TriggerPending before
	// starting an intervention, giving the patient time to de-escalate and
	// the nurse time to cancel.
	TriggerDelay time.Duration

	// Cooldown is the quiet period after an intervention ends.
	Cooldown time.Duration

	// StartTimeout bounds the credential request plus session start.
	StartTimeout time.Duration

	// AttributeAllSpeakers evaluates every diarized speaker for hostility
	// when true. When false only PatientSpeakerID is evaluated. The default
	// is true: diarization identity is unreliable without calibration, so
	// the classifier trades specificity for sensitivity.
	AttributeAllSpeakers *bool

	// PatientSpeakerID is the diarization label treated as the patient when
	// AttributeAllSpeakers is false.
	PatientSpeakerID string
}

const (
	defaultThreshold    = 1
	defaultTriggerDelay = 3 * time.Second
	defaultCooldown     = 105 * time.Second
	defaultStartTimeout = 10 * time.Second
	defaultPatientID    = "speaker_1"
)

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.TriggerDelay <= 0 {
		c.TriggerDelay = defaultTriggerDelay
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = defaultStartTimeout
	}
	if c.AttributeAllSpeakers == nil {
		t := true
		c.AttributeAllSpeakers = &t
	}
	if c.PatientSpeakerID == "" {
		c.PatientSpeakerID = defaultPatientID
	}
	return c
}

// SessionRunner is what the machine needs from the voice session
// orchestrator. Start blocks until the session is live or failed; End is
// idempotent.
type SessionRunner interface {
	Start(ctx context.Context, trigger Trigger) error
	End()
}

// ---- events ----

type eventKind int

const (
	evSegment eventKind = iota
	evTriggerFired
	evCooldownFired
	evNurseTrigger
	evNurseCancel
	evSessionStarted
	evSessionStartFailed
	evAgentDisconnected
)

// event is the single inbound message type the machine consumes. Transcript
// segments, timer firings, nurse commands, and orchestrator callbacks all
// arrive as events and are processed one at a time.
type event struct {
	kind      eventKind
	text      string
	speakerID string
	gen       uint64
	err       error
}

// ---- effects ----

type effectKind int

const (
	effStartTriggerTimer effectKind = iota
	effCancelTriggerTimer
	effStartCooldownTimer
	effCancelCooldownTimer
	effStartSession
	effStopSession
	effInterventionEnded
)

// effect is an instruction from the pure transition core to the runtime
// shell: arm or cancel a timer, start or stop the voice session, or report
// an intervention outcome.
type effect struct {
	kind    effectKind
	gen     uint64
	trigger Trigger
	reason  EndReason
}

// ---- pure transition core ----

// core holds the machine's logical state. Its apply method is the entire
// transition function; it never touches timers, goroutines, or the network.
// Timer generations guard against ghost firings: a timer that was superseded
// carries a stale generation and its event is ignored.
type core struct {
	cfg    Config
	state  State
	window *Window

	triggerGen  uint64
	cooldownGen uint64

	// trigger records what started the current or pending intervention.
	trigger Trigger
}

func newCore(cfg Config) *core {
	cfg = cfg.withDefaults()
	return &core{
		cfg:    cfg,
		state:  StateMonitoring,
		window: NewWindow(cfg.WindowSize),
	}
}

func (c *core) apply(ev event) []effect {
	switch ev.kind {
	case evSegment:
		return c.applySegment(ev.text, ev.speakerID)
	case evTriggerFired:
		if c.state != StateTriggerPending || ev.gen != c.triggerGen {
			return nil
		}
		return c.enterActive(TriggerAuto)
	case evCooldownFired:
		if c.state != StateCooldown || ev.gen != c.cooldownGen {
			return nil
		}
		c.state = StateMonitoring
		c.window.Clear()
		return nil
	case evNurseTrigger:
		return c.applyNurseTrigger()
	case evNurseCancel:
		return c.applyNurseCancel()
	case evSessionStarted:
		if c.state != StateActive {
			// The intervention ended while the start was in flight. The
			// session that just came up has no owner; tear it down.
			return []effect{{kind: effStopSession}}
		}
		return nil
	case evSessionStartFailed:
		if c.state != StateActive {
			return nil
		}
		return c.endActive(ReasonError)
	case evAgentDisconnected:
		if c.state != StateActive {
			return nil
		}
		return c.endActive(ReasonAgentDisconnected)
	}
	return nil
}

func (c *core) applySegment(text, speakerID string) []effect {
	if !*c.cfg.AttributeAllSpeakers && speakerID != c.cfg.PatientSpeakerID {
		return nil
	}

	hostile := IsHostile(text)
	c.window.Append(text)
	count := c.window.HostileCount()

	switch c.state {
	case StateMonitoring:
		if count >= c.cfg.Threshold {
			c.state = StateTriggerPending
			c.trigger = TriggerAuto
			// The window restarts at the threshold crossing so that the
			// pending period is judged on post-threshold speech alone. A
			// single non-hostile utterance can then drive the count to 0
			// and cancel the trigger.
			c.window.Clear()
			c.triggerGen++
			return []effect{{kind: effStartTriggerTimer, gen: c.triggerGen}}
		}
	case StateTriggerPending:
		if count == 0 {
			c.state = StateMonitoring
			c.window.Clear()
			return []effect{{kind: effCancelTriggerTimer}}
		}
	case StateActive:
		// Hostility takes precedence: "no, but okay fine" is not compliance.
		if !hostile && IsCompliant(text) {
			return c.endActive(ReasonPatientComplied)
		}
	case StateCooldown:
		// Automatic triggering is suppressed until the cooldown elapses.
	}
	return nil
}

// applyNurseTrigger starts an intervention unconditionally. It cancels any
// pending timer and bypasses Cooldown: nurse authority overrides automatic
// pacing. Already Active is a no-op.
func (c *core) applyNurseTrigger() []effect {
	switch c.state {
	case StateActive:
		return nil
	case StateTriggerPending:
		effs := []effect{{kind: effCancelTriggerTimer}}
		return append(effs, c.enterActive(TriggerNurse)...)
	case StateCooldown:
		effs := []effect{{kind: effCancelCooldownTimer}}
		c.state = StateMonitoring
		return append(effs, c.enterActive(TriggerNurse)...)
	default: // Monitoring
		return c.enterActive(TriggerNurse)
	}
}

// applyNurseCancel ends whatever is in flight. Canceling from TriggerPending
// returns directly to Monitoring with no cooldown, since no intervention
// actually occurred. Canceling from Monitoring or Cooldown is a no-op.
func (c *core) applyNurseCancel() []effect {
	switch c.state {
	case StateTriggerPending:
		c.state = StateMonitoring
		c.window.Clear()
		return []effect{{kind: effCancelTriggerTimer}}
	case StateActive:
		return c.endActive(ReasonNurseOverride)
	default:
		return nil
	}
}

// enterActive is only reachable from Monitoring or TriggerPending; callers
// guard Active and Cooldown explicitly.
func (c *core) enterActive(trigger Trigger) []effect {
	c.state = StateActive
	c.trigger = trigger
	// The hostility that armed the trigger is consumed by the intervention.
	c.window.Clear()
	return []effect{{kind: effStartSession, trigger: trigger}}
}

func (c *core) endActive(reason EndReason) []effect {
	c.state = StateCooldown
	c.cooldownGen++
	return []effect{
		{kind: effStopSession, reason: reason},
		{kind: effInterventionEnded, trigger: c.trigger, reason: reason},
		{kind: effStartCooldownTimer, gen: c.cooldownGen},
	}
}

// ---- runtime shell ----

// Option is a functional option for configuring a Machine.
type Option func(*Machine)

// WithConfig replaces the default tuning parameters.
func WithConfig(cfg Config) Option {
	return func(m *Machine) { m.cfg = cfg }
}

// WithClock replaces the system clock, letting tests drive timers manually.
func WithClock(clock Clock) Option {
	return func(m *Machine) { m.clock = clock }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithStateHandler registers a callback invoked after every state change.
// The callback runs on the dispatching goroutine and must not call back
// into the Machine.
func WithStateHandler(fn func(from, to State)) Option {
	return func(m *Machine) { m.onState = fn }
}

// WithEndHandler registers a callback invoked when an intervention ends,
// with what triggered it and why it ended. Same constraints as
// WithStateHandler.
func WithEndHandler(fn func(trigger Trigger, reason EndReason)) Option {
	return func(m *Machine) { m.onEnd = fn }
}

// Machine is the intervention state machine runtime. It serializes all
// events through a mutex so transitions never race, owns the trigger and
// cooldown timers, and executes the effects the pure core emits.
type Machine struct {
	cfg    Config
	clock  Clock
	runner SessionRunner
	logger *slog.Logger

	onState func(from, to State)
	onEnd   func(trigger Trigger, reason EndReason)

	mu            sync.Mutex
	core          *core
	triggerTimer  Timer
	cooldownTimer Timer
	closed        bool
}

// NewMachine creates a Machine in the Monitoring state. runner must not be
// nil.
func NewMachine(runner SessionRunner, opts ...Option) *Machine {
	m := &Machine{
		clock:  SystemClock(),
		runner: runner,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.cfg = m.cfg.withDefaults()
	m.core = newCore(m.cfg)
	return m
}

// HandleSegment feeds one finalized transcript segment into the machine.
func (m *Machine) HandleSegment(text, speakerID string) {
	m.dispatch(event{kind: evSegment, text: text, speakerID: speakerID})
}

// NurseTrigger starts an intervention on nurse authority, bypassing any
// cooldown. A no-op when an intervention is already active.
func (m *Machine) NurseTrigger() {
	m.dispatch(event{kind: evNurseTrigger})
}

// NurseCancel cancels a pending trigger or ends an active intervention.
// Callable from any state.
func (m *Machine) NurseCancel() {
	m.dispatch(event{kind: evNurseCancel})
}

// NotifyAgentDisconnected reports that the voice session closed on its own.
func (m *Machine) NotifyAgentDisconnected() {
	m.dispatch(event{kind: evAgentDisconnected})
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.state
}

// HostileCount returns the hostile entries in the rolling window.
func (m *Machine) HostileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.window.HostileCount()
}

// WindowEntries returns a copy of the rolling window, oldest first.
func (m *Machine) WindowEntries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.window.Entries()
}

// Close cancels all timers and ends any active intervention. Idempotent.
func (m *Machine) Close() {
	m.dispatch(event{kind: evNurseCancel})
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.triggerTimer != nil {
		m.triggerTimer.Stop()
	}
	if m.cooldownTimer != nil {
		m.cooldownTimer.Stop()
	}
}

// dispatch runs one event through the core and executes its effects, all
// under the machine lock so transitions are strictly serialized.
func (m *Machine) dispatch(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	from := m.core.state
	effects := m.core.apply(ev)
	to := m.core.state

	for _, eff := range effects {
		m.execute(eff)
	}

	if from != to {
		m.logger.Debug("intervention state changed",
			"from", string(from),
			"to", string(to),
			"hostile_count", m.core.window.HostileCount(),
		)
		if m.onState != nil {
			m.onState(from, to)
		}
	}
}

// execute runs one effect. Called with the machine lock held; anything that
// can block leaves the lock via a goroutine.
func (m *Machine) execute(eff effect) {
	switch eff.kind {
	case effStartTriggerTimer:
		if m.triggerTimer != nil {
			m.triggerTimer.Stop()
		}
		gen := eff.gen
		m.triggerTimer = m.clock.AfterFunc(m.cfg.TriggerDelay, func() {
			m.dispatch(event{kind: evTriggerFired, gen: gen})
		})

	case effCancelTriggerTimer:
		if m.triggerTimer != nil {
			m.triggerTimer.Stop()
			m.triggerTimer = nil
		}

	case effStartCooldownTimer:
		if m.cooldownTimer != nil {
			m.cooldownTimer.Stop()
		}
		gen := eff.gen
		m.cooldownTimer = m.clock.AfterFunc(m.cfg.Cooldown, func() {
			m.dispatch(event{kind: evCooldownFired, gen: gen})
		})

	case effCancelCooldownTimer:
		if m.cooldownTimer != nil {
			m.cooldownTimer.Stop()
			m.cooldownTimer = nil
		}

	case effStartSession:
		trigger := eff.trigger
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StartTimeout)
			defer cancel()
			if err := m.runner.Start(ctx, trigger); err != nil {
				m.logger.Error("voice session start failed", "err", err, "trigger", string(trigger))
				m.dispatch(event{kind: evSessionStartFailed, err: err})
				return
			}
			m.dispatch(event{kind: evSessionStarted})
		}()

	case effStopSession:
		go m.runner.End()

	case effInterventionEnded:
		m.logger.Info("intervention ended",
			"trigger", string(eff.trigger),
			"reason", string(eff.reason),
		)
		if m.onEnd != nil {
			m.onEnd(eff.trigger, eff.reason)
		}
	}
}
