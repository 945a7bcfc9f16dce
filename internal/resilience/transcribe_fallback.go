package resilience

import (
	"context"

	"github.com/carescript/carescript/pkg/provider/transcribe"
)

// TranscriptionGroup implements [transcribe.Provider] with automatic failover
// across multiple transcription backends. Each backend has its own circuit
// breaker, so a backend that keeps failing is bypassed until its reset
// timeout elapses.
type TranscriptionGroup struct {
	group *FallbackGroup[transcribe.Provider]
}

// Compile-time interface assertion.
var _ transcribe.Provider = (*TranscriptionGroup)(nil)

// NewTranscriptionGroup creates a [TranscriptionGroup] with primary as the
// preferred backend.
func NewTranscriptionGroup(primary transcribe.Provider, primaryName string, cfg FallbackConfig) *TranscriptionGroup {
	return &TranscriptionGroup{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (g *TranscriptionGroup) AddFallback(name string, provider transcribe.Provider) {
	g.group.AddFallback(name, provider)
}

// StartStream opens a live transcription stream against the first healthy
// backend. Failover covers stream establishment only; an open stream stays
// pinned to the backend that opened it.
func (g *TranscriptionGroup) StartStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.StreamHandle, error) {
	return ExecuteWithResult(g.group, func(p transcribe.Provider) (transcribe.StreamHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// TranscribeBatch transcribes a completed recording against the first healthy
// backend.
func (g *TranscriptionGroup) TranscribeBatch(ctx context.Context, audio []byte, cfg transcribe.BatchConfig) (*transcribe.BatchResult, error) {
	return ExecuteWithResult(g.group, func(p transcribe.Provider) (*transcribe.BatchResult, error) {
		return p.TranscribeBatch(ctx, audio, cfg)
	})
}
