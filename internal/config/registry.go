package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/carescript/carescript/pkg/provider/transcribe"
	"github.com/carescript/carescript/pkg/provider/voiceagent"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	transcription map[string]func(ProviderEntry) (transcribe.Provider, error)
	voiceAgent    map[string]func(VoiceAgentEntry) (voiceagent.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcription: make(map[string]func(ProviderEntry) (transcribe.Provider, error)),
		voiceAgent:    make(map[string]func(VoiceAgentEntry) (voiceagent.Provider, error)),
	}
}

// RegisterTranscription registers a transcription provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscription(name string, factory func(ProviderEntry) (transcribe.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcription[name] = factory
}

// RegisterVoiceAgent registers a voice agent provider factory under name.
func (r *Registry) RegisterVoiceAgent(name string, factory func(VoiceAgentEntry) (voiceagent.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceAgent[name] = factory
}

// CreateTranscription instantiates a transcription provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscription(entry ProviderEntry) (transcribe.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcription[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcription/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVoiceAgent instantiates a voice agent provider using the factory
// registered under entry.Name.
func (r *Registry) CreateVoiceAgent(entry VoiceAgentEntry) (voiceagent.Provider, error) {
	r.mu.RLock()
	factory, ok := r.voiceAgent[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voice_agent/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
