package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WAV format codes from the RIFF specification.
const (
	formatPCM       = 1
	formatIEEEFloat = 3
)

// wavHeaderSize is the size of the canonical header this package emits:
// RIFF descriptor + "fmt " chunk + "data" chunk header.
const wavHeaderSize = 44

// Decode parses a RIFF/WAVE byte stream into a Buffer. Supported encodings
// are 16-bit integer PCM and 32-bit IEEE float, any channel count. Any other
// container or codec fails with an error wrapping [ErrDecode].
func Decode(clip []byte) (*Buffer, error) {
	if len(clip) < wavHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a WAV header", ErrDecode, len(clip))
	}
	if string(clip[0:4]) != "RIFF" || string(clip[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE signature", ErrDecode)
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bitDepth   int
		haveFmt    bool
	)

	// Walk the chunk list. Chunks other than "fmt " and "data" (e.g. LIST,
	// fact) are skipped.
	pos := 12
	for pos+8 <= len(clip) {
		id := string(clip[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(clip[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(clip) {
			return nil, fmt.Errorf("%w: chunk %q overruns the stream", ErrDecode, id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: fmt chunk is %d bytes", ErrDecode, size)
			}
			format = binary.LittleEndian.Uint16(clip[body : body+2])
			channels = int(binary.LittleEndian.Uint16(clip[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(clip[body+4 : body+8]))
			bitDepth = int(binary.LittleEndian.Uint16(clip[body+14 : body+16]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrDecode)
			}
			if channels <= 0 || sampleRate <= 0 {
				return nil, fmt.Errorf("%w: fmt chunk declares %d channels at %d Hz", ErrDecode, channels, sampleRate)
			}
			samples, err := decodeSamples(clip[body:body+size], format, bitDepth)
			if err != nil {
				return nil, err
			}
			return &Buffer{
				SampleRate: sampleRate,
				Channels:   channels,
				Data:       samples,
			}, nil
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}

	return nil, fmt.Errorf("%w: no data chunk found", ErrDecode)
}

// decodeSamples converts raw sample bytes to float32 in [-1, 1].
func decodeSamples(raw []byte, format uint16, bitDepth int) ([]float32, error) {
	switch {
	case format == formatPCM && bitDepth == 16:
		n := len(raw) / 2
		out := make([]float32, n)
		for i := range n {
			s := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
			if s < 0 {
				out[i] = float32(s) / 0x8000
			} else {
				out[i] = float32(s) / 0x7FFF
			}
		}
		return out, nil

	case format == formatIEEEFloat && bitDepth == 32:
		n := len(raw) / 4
		out := make([]float32, n)
		for i := range n {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: format %d with %d-bit samples", ErrDecode, format, bitDepth)
	}
}

// EncodeWAV produces a canonical mono 16-bit PCM WAV container with a 44-byte
// header. Each sample is clamped to [-1, 1] and quantized with symmetric
// scaling: negative values scale by 0x8000 and non-negative by 0x7FFF, so
// that +1.0 maps exactly to 32767 without clipping.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const (
		channels       = 1
		bytesPerSample = 2
	)
	dataLen := len(samples) * bytesPerSample
	out := make([]byte, wavHeaderSize+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(wavHeaderSize+dataLen-8))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], formatPCM)
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*channels*bytesPerSample))
	binary.LittleEndian.PutUint16(out[32:34], channels*bytesPerSample)
	binary.LittleEndian.PutUint16(out[34:36], 8*bytesPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))

	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var q int16
		if s < 0 {
			q = int16(s * 0x8000)
		} else {
			q = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[wavHeaderSize+i*2:wavHeaderSize+i*2+2], uint16(q))
	}

	return out
}
