// Package audio implements the offline audio normalization pipeline:
// decoding recorded clips, resampling to the transcription target rate,
// mono mixdown, and canonical WAV encoding.
//
// All operations are pure, CPU-bound computations with no shared mutable
// state — they are safe to run on any worker goroutine, but a Buffer is
// consumed by the operation it is passed to and must not be reused afterwards
// (resampling may reuse or discard the underlying sample slice).
package audio

import (
	"errors"
	"math"
)

// ErrDecode is returned (wrapped) when a byte stream is not a supported
// audio container or codec.
var ErrDecode = errors.New("audio: unsupported or corrupt audio data")

// Buffer holds decoded audio as interleaved float32 samples in [-1, 1].
type Buffer struct {
	// SampleRate in Hz as decoded from the container.
	SampleRate int

	// Channels is the interleave stride of Data.
	Channels int

	// Data is interleaved sample data, Channels values per frame.
	Data []float32
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Data) / b.Channels
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Resample converts buf to targetRate using linear interpolation. When the
// rates already match, buf is returned unchanged with bit-identical samples.
// The output frame count is ceil(duration * targetRate) so that no trailing
// audio is truncated.
func Resample(buf *Buffer, targetRate int) *Buffer {
	if targetRate <= 0 || buf.SampleRate <= 0 {
		return buf
	}
	if buf.SampleRate == targetRate || buf.Frames() == 0 {
		return buf
	}

	srcFrames := buf.Frames()
	channels := buf.Channels
	dstFrames := int(math.Ceil(float64(srcFrames) * float64(targetRate) / float64(buf.SampleRate)))
	if dstFrames == 0 {
		return &Buffer{SampleRate: targetRate, Channels: channels}
	}

	out := make([]float32, dstFrames*channels)
	ratio := float64(buf.SampleRate) / float64(targetRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if srcIdx >= srcFrames-1 {
			// Past the last interpolation pair: hold the final frame.
			srcIdx = srcFrames - 1
			for ch := range channels {
				out[i*channels+ch] = buf.Data[srcIdx*channels+ch]
			}
			continue
		}
		frac := float32(srcPos - float64(srcIdx))
		for ch := range channels {
			s0 := buf.Data[srcIdx*channels+ch]
			s1 := buf.Data[(srcIdx+1)*channels+ch]
			out[i*channels+ch] = s0*(1-frac) + s1*frac
		}
	}

	return &Buffer{
		SampleRate: targetRate,
		Channels:   channels,
		Data:       out,
	}
}

// MixToMono averages all channels sample-by-sample. Single-channel input is
// returned as-is without copying.
func MixToMono(buf *Buffer) []float32 {
	if buf.Channels <= 1 {
		return buf.Data
	}

	frames := buf.Frames()
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range buf.Channels {
			sum += buf.Data[i*buf.Channels+ch]
		}
		out[i] = sum / float32(buf.Channels)
	}
	return out
}
