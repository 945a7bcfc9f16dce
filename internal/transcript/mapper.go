// Package transcript maintains the live view of a care-session transcript and
// post-processes completed recordings.
//
// During a session the [Mapper] folds the provider's segment stream into an
// ordered list of durable segments plus at most one interim preview. After a
// session, [ApplyCalibrationOffset] strips the caregiver calibration prefix
// from batch results and [FormatSpeakerLines] renders diarized word segments
// as a readable speaker-labeled transcript.
//
// Clinical vocabulary errors in final segments are fixed by the [Corrector],
// a phonetic keyterm-matching stage.
package transcript

import (
	"sync"

	"github.com/carescript/carescript/pkg/provider/transcribe"
)

// Mapper folds a stream of transcription segments into a stable transcript
// view. Final segments accumulate in arrival order; interim segments replace
// each other so the view never holds more than one preview.
//
// Safe for concurrent use.
type Mapper struct {
	mu         sync.Mutex
	finals     []transcribe.Segment
	preview    transcribe.Segment
	hasPreview bool
}

// NewMapper returns an empty Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Apply folds one segment into the view. A final segment is appended and
// clears any pending preview; an interim segment replaces the preview.
// Empty-text segments are ignored.
func (m *Mapper) Apply(seg transcribe.Segment) {
	if seg.Text == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if seg.IsFinal {
		m.finals = append(m.finals, seg)
		m.hasPreview = false
		m.preview = transcribe.Segment{}
		return
	}
	m.preview = seg
	m.hasPreview = true
}

// Finals returns a copy of the accumulated final segments in arrival order.
func (m *Mapper) Finals() []transcribe.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcribe.Segment, len(m.finals))
	copy(out, m.finals)
	return out
}

// Preview returns the current interim segment, if any.
func (m *Mapper) Preview() (transcribe.Segment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preview, m.hasPreview
}

// View returns the finals followed by the preview when one is pending. This
// is the transcript as a nurse-facing display should render it.
func (m *Mapper) View() []transcribe.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcribe.Segment, 0, len(m.finals)+1)
	out = append(out, m.finals...)
	if m.hasPreview {
		out = append(out, m.preview)
	}
	return out
}

// ApplyCalibrationOffset removes the caregiver calibration prefix from a
// batch transcription. Timed segments that end at or before offsetSeconds
// belong to the calibration clip and are dropped; the remainder are shifted
// back by the offset with start times floored at zero. Segments without
// timing information pass through unmodified.
func ApplyCalibrationOffset(segments []transcribe.Segment, offsetSeconds float64) []transcribe.Segment {
	if offsetSeconds <= 0 {
		return segments
	}
	out := make([]transcribe.Segment, 0, len(segments))
	for _, seg := range segments {
		if !seg.Timed {
			out = append(out, seg)
			continue
		}
		if seg.EndTime <= offsetSeconds {
			continue
		}
		seg.StartTime -= offsetSeconds
		if seg.StartTime < 0 {
			seg.StartTime = 0
		}
		seg.EndTime -= offsetSeconds
		out = append(out, seg)
	}
	return out
}
