// Package mock provides test doubles for the transcribe package interfaces.
//
// Use Provider to verify that the caller starts streams with the expected
// StreamConfig or submits the expected batch audio. Use Stream to feed
// controlled Segment values and inspect which audio chunks were delivered.
//
// Example:
//
//	stream := &mock.Stream{
//	    PartialsCh: make(chan transcribe.Segment, 1),
//	    FinalsCh:   make(chan transcribe.Segment, 1),
//	}
//	p := &mock.Provider{Stream: stream}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/carescript/carescript/pkg/provider/transcribe"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg transcribe.StreamConfig
}

// TranscribeBatchCall records a single invocation of Provider.TranscribeBatch.
type TranscribeBatchCall struct {
	// Audio is a copy of the recording bytes passed to TranscribeBatch.
	Audio []byte
	// Cfg is the BatchConfig passed to TranscribeBatch.
	Cfg transcribe.BatchConfig
}

// Provider is a mock implementation of transcribe.Provider.
type Provider struct {
	mu sync.Mutex

	// Stream is the StreamHandle returned by StartStream. If nil, StartStream
	// returns a new default Stream with buffered channels.
	Stream transcribe.StreamHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// BatchResult is returned by TranscribeBatch when BatchErr is nil.
	BatchResult *transcribe.BatchResult

	// BatchErr, if non-nil, is returned as the error from TranscribeBatch.
	BatchErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// TranscribeBatchCalls records every call to TranscribeBatch.
	TranscribeBatchCalls []TranscribeBatchCall
}

// StartStream records the call and returns Stream, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.StreamHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Stream != nil {
		return p.Stream, nil
	}
	return &Stream{
		PartialsCh: make(chan transcribe.Segment, 16),
		FinalsCh:   make(chan transcribe.Segment, 16),
	}, nil
}

// TranscribeBatch records the call and returns BatchResult, BatchErr.
func (p *Provider) TranscribeBatch(ctx context.Context, audio []byte, cfg transcribe.BatchConfig) (*transcribe.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.TranscribeBatchCalls = append(p.TranscribeBatchCalls, TranscribeBatchCall{Audio: cp, Cfg: cfg})
	if p.BatchErr != nil {
		return nil, p.BatchErr
	}
	if p.BatchResult != nil {
		return p.BatchResult, nil
	}
	return &transcribe.BatchResult{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.TranscribeBatchCalls = nil
}

// Ensure Provider implements transcribe.Provider at compile time.
var _ transcribe.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Stream.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Stream is a mock implementation of transcribe.StreamHandle.
// Callers should pre-populate PartialsCh and FinalsCh with the Segment values
// they want the consumer to receive, then close them when done.
type Stream struct {
	mu sync.Mutex

	// PartialsCh is the channel returned by Partials(). Callers own this
	// channel and are responsible for sending to and closing it in tests.
	PartialsCh chan transcribe.Segment

	// FinalsCh is the channel returned by Finals(). Callers own this channel.
	FinalsCh chan transcribe.Segment

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Partials returns PartialsCh. The caller must have initialised PartialsCh
// before calling this method.
func (s *Stream) Partials() <-chan transcribe.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

// Finals returns FinalsCh.
func (s *Stream) Finals() <-chan transcribe.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Stream) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Close records the call and returns CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Stream) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.CloseCallCount = 0
}

// Ensure Stream implements transcribe.StreamHandle at compile time.
var _ transcribe.StreamHandle = (*Stream)(nil)
