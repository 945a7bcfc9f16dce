package audio

import (
	"fmt"
	"log/slog"
)

// DefaultTargetRate is the sample rate the transcription provider expects.
const DefaultTargetRate = 16000

// CalibratedRecording is the result of splicing a caregiver calibration clip
// in front of a session recording. The WAV payload is mono 16-bit PCM at the
// requested target rate.
type CalibratedRecording struct {
	// WAV is the encoded recording: calibration samples followed by session
	// samples.
	WAV []byte

	// SampleRate is the target rate the recording was normalized to.
	SampleRate int

	// CalibrationOffsetSeconds is the duration of the calibration prefix
	// after resampling. Zero means no calibration clip was spliced; transcript
	// segments with an end time at or before this offset originate in the
	// prefix and must be discarded.
	CalibrationOffsetSeconds float64
}

// BuildCalibratedRecording decodes, resamples, and mono-mixes both clips to
// targetRate, concatenates calibration before session, and encodes the result
// as WAV.
//
// A decode failure on the session clip is fatal: there is nothing left to
// transcribe. A failure on the calibration clip is not — the session is
// encoded alone with a zero offset so transcription can proceed uncalibrated.
func BuildCalibratedRecording(calibrationClip, sessionClip []byte, targetRate int) (*CalibratedRecording, error) {
	if targetRate <= 0 {
		targetRate = DefaultTargetRate
	}

	sessionBuf, err := Decode(sessionClip)
	if err != nil {
		return nil, fmt.Errorf("audio: decode session clip: %w", err)
	}
	session := MixToMono(Resample(sessionBuf, targetRate))

	var calibration []float32
	if len(calibrationClip) > 0 {
		calBuf, err := Decode(calibrationClip)
		if err != nil {
			slog.Warn("calibration clip unusable, transcribing uncalibrated", "err", err)
		} else {
			calibration = MixToMono(Resample(calBuf, targetRate))
		}
	}

	combined := make([]float32, 0, len(calibration)+len(session))
	combined = append(combined, calibration...)
	combined = append(combined, session...)

	return &CalibratedRecording{
		WAV:                      EncodeWAV(combined, targetRate),
		SampleRate:               targetRate,
		CalibrationOffsetSeconds: float64(len(calibration)) / float64(targetRate),
	}, nil
}
