// Package transcribe defines the transcription provider abstraction used by
// the care-session pipeline: a live streaming session for in-progress
// recordings and a batch call for completed recordings.
package transcribe

import "context"

// Segment is a single speech-recognition result. Segments arrive in
// provider order, which is not necessarily time order.
type Segment struct {
	// Text is the transcribed content.
	Text string

	// SpeakerID labels the diarized speaker (e.g. "speaker_0"). Empty when
	// diarization produced no label.
	SpeakerID string

	// StartTime and EndTime are seconds from the start of the audio. Only
	// meaningful when Timed is true.
	StartTime float64
	EndTime   float64

	// Timed reports whether the provider supplied word timings for this
	// segment.
	Timed bool

	// IsFinal marks a durable result. Non-final segments are interim
	// previews that later results supersede.
	IsFinal bool
}

// StreamConfig configures a live transcription stream.
type StreamConfig struct {
	// SampleRate of the PCM audio in Hz.
	SampleRate int

	// Channels in the PCM audio.
	Channels int

	// Language is a BCP-47 or ISO 639-1 code. Empty selects the provider
	// default.
	Language string

	// Keyterms biases recognition toward clinical vocabulary (drug names,
	// procedures, conditions).
	Keyterms []string
}

// BatchConfig configures a one-shot transcription of a completed recording.
type BatchConfig struct {
	Language string
	Keyterms []string
}

// BatchResult is the outcome of a batch transcription.
type BatchResult struct {
	// Text is the full concatenated transcript.
	Text string

	// Segments holds per-word detail with timing and speaker labels.
	Segments []Segment

	// DetectedLanguage is set when the provider reports one.
	DetectedLanguage string
}

// StreamHandle is a live transcription session.
type StreamHandle interface {
	// SendAudio queues a PCM chunk for recognition.
	SendAudio(chunk []byte) error

	// Partials emits interim segments. Closed when the stream ends.
	Partials() <-chan Segment

	// Finals emits durable segments. Closed when the stream ends.
	Finals() <-chan Segment

	// Close flushes pending audio and terminates the stream.
	Close() error
}

// Provider is a speech-to-text backend with diarization support.
type Provider interface {
	// StartStream opens a live transcription session.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)

	// TranscribeBatch transcribes a completed recording. audio must be a
	// complete container the provider understands (this system always sends
	// mono 16-bit PCM WAV).
	TranscribeBatch(ctx context.Context, audio []byte, cfg BatchConfig) (*BatchResult, error)
}
