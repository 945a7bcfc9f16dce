package transcript

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/carescript/carescript/pkg/provider/transcribe"
)

// FormatSpeakerLines renders word-level segments as a human-readable
// transcript with one line per speaker turn:
//
//	Speaker 1: Good morning, Maria. Time for your medicine.
//	Speaker 2: Leave me alone.
//
// Diarization indices are zero-based ("speaker_0"); display numbers are
// one-based. Consecutive segments from the same speaker merge into a single
// line. When no segment carries a speaker label, the whole text is returned
// as one unlabeled line.
func FormatSpeakerLines(segments []transcribe.Segment) string {
	if len(segments) == 0 {
		return ""
	}

	labeled := false
	for _, seg := range segments {
		if seg.SpeakerID != "" {
			labeled = true
			break
		}
	}
	if !labeled {
		words := make([]string, 0, len(segments))
		for _, seg := range segments {
			if seg.Text != "" {
				words = append(words, seg.Text)
			}
		}
		return strings.Join(words, " ")
	}

	var lines []string
	var current []string
	currentSpeaker := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		lines = append(lines, displayName(currentSpeaker)+": "+strings.Join(current, " "))
		current = nil
	}

	for _, seg := range segments {
		if seg.Text == "" {
			continue
		}
		if seg.SpeakerID != currentSpeaker && len(current) > 0 {
			flush()
		}
		currentSpeaker = seg.SpeakerID
		current = append(current, seg.Text)
	}
	flush()

	return strings.Join(lines, "\n")
}

// displayName converts a diarization label like "speaker_1" into the
// one-based display form "Speaker 2". Labels that do not follow the
// speaker_N convention are shown as-is; empty labels become "Speaker ?".
func displayName(speakerID string) string {
	if speakerID == "" {
		return "Speaker ?"
	}
	idx := strings.LastIndex(speakerID, "_")
	if idx < 0 {
		return speakerID
	}
	n, err := strconv.Atoi(speakerID[idx+1:])
	if err != nil {
		return speakerID
	}
	return fmt.Sprintf("Speaker %d", n+1)
}
