// Package voiceagent defines the Provider interface for conversational voice
// agent backends.
//
// A voice agent wraps a real-time conversational AI service that accepts raw
// audio input and returns synthesised speech in a single, stateful session.
// The intervention pipeline opens one session per intervention attempt: the
// agent speaks to the patient in a familiar voice and tries to de-escalate.
//
// Credentials are always minted server-side. Raw provider API keys must never
// reach a browser or bedside device; RequestCredential exchanges the key for
// a short-lived session credential that is safe to hand out.
//
// All implementations must be safe for concurrent use.
package voiceagent

import "context"

// Credential is a short-lived, client-safe token for opening one session.
type Credential struct {
	// SignedURL is a pre-authorized WebSocket URL. It embeds the session
	// grant; no additional authentication header is required to dial it.
	SignedURL string
}

// SessionConfig is the initial configuration for a new agent session.
type SessionConfig struct {
	// Prompt is the persona instruction set for the agent: who it is to the
	// patient, what it knows about them, and how it should de-escalate.
	Prompt string

	// FirstMessage is the opening line the agent speaks when the session
	// starts. Empty lets the agent wait for the patient.
	FirstMessage string

	// VoiceID selects a synthesised voice, typically one cloned from a
	// recording of the patient's loved one. Empty uses the agent's default.
	VoiceID string

	// DynamicVariables are substituted into the agent's prompt template by
	// the provider (patient name, caregiver name, current task).
	DynamicVariables map[string]string
}

// EventType discriminates Session events.
type EventType string

const (
	// EventAgentResponse carries the text of an utterance the agent spoke.
	EventAgentResponse EventType = "agent_response"

	// EventUserTranscript carries the provider's transcription of patient
	// speech during the session.
	EventUserTranscript EventType = "user_transcript"

	// EventInterruption signals that the patient spoke over the agent and
	// the provider cut the current response short.
	EventInterruption EventType = "interruption"
)

// Event is a non-audio occurrence within a session.
type Event struct {
	Type EventType

	// Text is the utterance for agent_response and user_transcript events.
	Text string
}

// Session represents an open conversation between the agent and the patient.
//
// Audio and event channels are closed when the session ends, whether by End,
// a provider-side hangup, or a transport failure. After both channels close,
// call Err to distinguish a clean shutdown from a failure.
//
// Callers must call End when the session is no longer needed.
type Session interface {
	// SendAudio delivers a raw PCM chunk of patient-side audio to the agent.
	// Returns an error if the session is closed.
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel emitting the agent's synthesised
	// speech as PCM byte slices. Consumers must drain it promptly.
	Audio() <-chan []byte

	// Events returns a read-only channel of non-audio session events.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly. Only meaningful after the Audio and Events channels close.
	Err() error

	// End terminates the session and releases all resources. Calling End
	// more than once is safe and returns nil.
	End() error
}

// Provider is the abstraction over any conversational voice agent backend.
type Provider interface {
	// RequestCredential mints a short-lived session credential. The raw API
	// key stays on the server; only the credential travels further.
	RequestCredential(ctx context.Context) (Credential, error)

	// StartSession opens a conversation with the given configuration. The
	// returned Session is ready to accept audio immediately. The caller owns
	// the Session and is responsible for calling End.
	StartSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
