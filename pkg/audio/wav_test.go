package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// makeWAV16 builds a minimal RIFF/WAVE container with interleaved 16-bit PCM
// samples for decode tests.
func makeWAV16(samples []int16, channels, sampleRate int) []byte {
	dataLen := len(samples) * 2
	out := make([]byte, 44+dataLen)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(44+dataLen-8))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(out[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[44+i*2:44+i*2+2], uint16(s))
	}
	return out
}

func TestDecode(t *testing.T) {
	t.Run("mono pcm16", func(t *testing.T) {
		wav := makeWAV16([]int16{0, 16384, -16384, 32767, -32768}, 1, 16000)
		buf, err := Decode(wav)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if buf.SampleRate != 16000 {
			t.Errorf("expected sample rate 16000, got %d", buf.SampleRate)
		}
		if buf.Channels != 1 {
			t.Errorf("expected 1 channel, got %d", buf.Channels)
		}
		if buf.Frames() != 5 {
			t.Errorf("expected 5 frames, got %d", buf.Frames())
		}
		if got := buf.Data[3]; got != 1.0 {
			t.Errorf("expected max sample to decode to 1.0, got %f", got)
		}
		if got := buf.Data[4]; got != -1.0 {
			t.Errorf("expected min sample to decode to -1.0, got %f", got)
		}
	})

	t.Run("stereo pcm16", func(t *testing.T) {
		// Two frames: (L=100, R=200), (L=-100, R=-200).
		wav := makeWAV16([]int16{100, 200, -100, -200}, 2, 44100)
		buf, err := Decode(wav)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if buf.Channels != 2 {
			t.Errorf("expected 2 channels, got %d", buf.Channels)
		}
		if buf.Frames() != 2 {
			t.Errorf("expected 2 frames, got %d", buf.Frames())
		}
	})

	t.Run("rejects non-RIFF input", func(t *testing.T) {
		junk := make([]byte, 128)
		copy(junk, "OggS")
		_, err := Decode(junk)
		if err == nil {
			t.Fatal("expected error for non-RIFF input")
		}
		assertDecodeErr(t, err)
	})

	t.Run("rejects truncated header", func(t *testing.T) {
		_, err := Decode([]byte("RIFF"))
		if err == nil {
			t.Fatal("expected error for truncated input")
		}
		assertDecodeErr(t, err)
	})

	t.Run("rejects unsupported codec", func(t *testing.T) {
		wav := makeWAV16([]int16{0, 0}, 1, 8000)
		// Rewrite the format code to mu-law (7).
		binary.LittleEndian.PutUint16(wav[20:22], 7)
		_, err := Decode(wav)
		if err == nil {
			t.Fatal("expected error for mu-law data")
		}
		assertDecodeErr(t, err)
	})
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	samples := []float32{0, 0.25, -0.25, 0.9999, -0.9999, 1.0, -1.0}
	wav := EncodeWAV(samples, 16000)

	buf, err := Decode(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Frames() != len(samples) {
		t.Fatalf("expected %d frames, got %d", len(samples), buf.Frames())
	}

	const tolerance = 1.0 / 32768
	for i, want := range samples {
		got := buf.Data[i]
		if math.Abs(float64(got-want)) > tolerance {
			t.Errorf("sample %d: got %f, want %f within %f", i, got, want, tolerance)
		}
	}
}

func TestEncodeWAVClampsOutOfRange(t *testing.T) {
	wav := EncodeWAV([]float32{2.0, -2.0}, 16000)
	hi := int16(binary.LittleEndian.Uint16(wav[44:46]))
	lo := int16(binary.LittleEndian.Uint16(wav[46:48]))
	if hi != 32767 {
		t.Errorf("expected +2.0 to clamp to 32767, got %d", hi)
	}
	if lo != -32768 {
		t.Errorf("expected -2.0 to clamp to -32768, got %d", lo)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	wav := EncodeWAV(make([]float32, 100), 16000)
	if len(wav) != 44+200 {
		t.Fatalf("expected 244 bytes, got %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE signature")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("expected sample rate 16000 in header, got %d", rate)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Errorf("expected mono header, got %d channels", ch)
	}
}

func assertDecodeErr(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected error to wrap ErrDecode, got %v", err)
	}
}
