// Package mock provides test doubles for the voiceagent package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// SessionConfig and to inject start failures. Use Session to feed controlled
// audio and events and inspect what the caller sent.
package mock

import (
	"context"
	"sync"

	"github.com/carescript/carescript/pkg/provider/voiceagent"
)

// StartSessionCall records a single invocation of Provider.StartSession.
type StartSessionCall struct {
	// Ctx is the context passed to StartSession.
	Ctx context.Context
	// Cfg is the SessionConfig passed to StartSession.
	Cfg voiceagent.SessionConfig
}

// Provider is a mock implementation of voiceagent.Provider.
type Provider struct {
	mu sync.Mutex

	// Credential is returned by RequestCredential when CredentialErr is nil.
	Credential voiceagent.Credential

	// CredentialErr, if non-nil, is returned by RequestCredential.
	CredentialErr error

	// Session is returned by StartSession. If nil, StartSession returns a
	// new default Session with buffered channels.
	Session voiceagent.Session

	// StartSessionErr, if non-nil, is returned as the error from StartSession.
	StartSessionErr error

	// RequestCredentialCalls counts invocations of RequestCredential.
	RequestCredentialCalls int

	// StartSessionCalls records every call to StartSession.
	StartSessionCalls []StartSessionCall
}

// RequestCredential records the call and returns Credential, CredentialErr.
func (p *Provider) RequestCredential(ctx context.Context) (voiceagent.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RequestCredentialCalls++
	if p.CredentialErr != nil {
		return voiceagent.Credential{}, p.CredentialErr
	}
	return p.Credential, nil
}

// StartSession records the call and returns Session, StartSessionErr.
func (p *Provider) StartSession(ctx context.Context, cfg voiceagent.SessionConfig) (voiceagent.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartSessionCalls = append(p.StartSessionCalls, StartSessionCall{Ctx: ctx, Cfg: cfg})
	if p.StartSessionErr != nil {
		return nil, p.StartSessionErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// StartSessionCallCount returns the number of StartSession invocations.
// Thread-safe.
func (p *Provider) StartSessionCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartSessionCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RequestCredentialCalls = 0
	p.StartSessionCalls = nil
}

// Ensure Provider implements voiceagent.Provider at compile time.
var _ voiceagent.Provider = (*Provider)(nil)

// Session is a mock implementation of voiceagent.Session.
// Callers should send on AudioCh and EventsCh to simulate agent activity and
// close them to simulate the session ending.
type Session struct {
	mu sync.Mutex

	// AudioCh is the channel returned by Audio(). Callers own this channel.
	AudioCh chan []byte

	// EventsCh is the channel returned by Events(). Callers own this channel.
	EventsCh chan voiceagent.Event

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// ErrVal is returned by Err.
	ErrVal error

	// EndErr, if non-nil, is returned by the first End call.
	EndErr error

	// SentAudio records every chunk passed to SendAudio.
	SentAudio [][]byte

	// EndCallCount is the number of times End was called.
	EndCallCount int
}

// NewSession returns a Session with buffered channels ready for use.
func NewSession() *Session {
	return &Session{
		AudioCh:  make(chan []byte, 16),
		EventsCh: make(chan voiceagent.Event, 16),
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentAudio = append(s.SentAudio, cp)
	return s.SendAudioErr
}

// Audio returns AudioCh.
func (s *Session) Audio() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.AudioCh
}

// Events returns EventsCh.
func (s *Session) Events() <-chan voiceagent.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Err returns ErrVal.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrVal
}

// End records the call. The first call returns EndErr; repeat calls return
// nil, matching the idempotency contract.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndCallCount++
	if s.EndCallCount == 1 {
		return s.EndErr
	}
	return nil
}

// EndCalls returns the number of End invocations. Thread-safe.
func (s *Session) EndCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndCallCount
}

// Ensure Session implements voiceagent.Session at compile time.
var _ voiceagent.Session = (*Session)(nil)
