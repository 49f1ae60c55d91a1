// Package wav encodes captured speech segments as 16-bit mono PCM WAV and
// parses the same canonical layout back for validation and accounting.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// HeaderSize is the size of the canonical RIFF/WAVE header.
const HeaderSize = 44

const (
	formatPCM     = 1
	channels      = 1
	bitsPerSample = 16
	blockAlign    = channels * bitsPerSample / 8
)

// ErrInvalid is returned by Decode for buffers that are not canonical PCM WAV.
var ErrInvalid = errors.New("wav: invalid data")

// Header holds the fields of a canonical PCM WAV header.
type Header struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Duration returns the playback length of the data chunk.
func (h Header) Duration() time.Duration {
	if h.ByteRate == 0 {
		return 0
	}
	return time.Duration(float64(h.DataSize) / float64(h.ByteRate) * float64(time.Second))
}

// Encode converts float samples in [-1, 1] into a 16-bit mono PCM WAV buffer.
// Out of range samples are clamped.
func Encode(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * blockAlign
	buf := make([]byte, HeaderSize+dataLen)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen)) // File size - 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // Sub-chunk size (16 for PCM)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign)) // Byte rate
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	off := HeaderSize
	for _, s := range samples {
		binary.LittleEndian.PutUint16(buf[off:], uint16(quantize(s)))
		off += blockAlign
	}
	return buf
}

// quantize scales asymmetrically so that 1.0 maps to 32767 and -1.0 to -32768.
func quantize(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// Decode parses a canonical 16-bit PCM WAV buffer and returns its header and samples.
func Decode(b []byte) (Header, []int16, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalid, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return h, nil, fmt.Errorf("%w: missing RIFF/WAVE tags", ErrInvalid)
	}
	if string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return h, nil, fmt.Errorf("%w: unexpected chunk layout", ErrInvalid)
	}

	h = Header{
		AudioFormat:   binary.LittleEndian.Uint16(b[20:22]),
		Channels:      binary.LittleEndian.Uint16(b[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(b[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(b[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(b[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(b[34:36]),
		DataSize:      binary.LittleEndian.Uint32(b[40:44]),
	}
	if h.AudioFormat != formatPCM || h.BitsPerSample != bitsPerSample {
		return h, nil, fmt.Errorf("%w: format %d/%d-bit is not 16-bit PCM", ErrInvalid, h.AudioFormat, h.BitsPerSample)
	}
	if h.SampleRate == 0 || h.Channels == 0 {
		return h, nil, fmt.Errorf("%w: zero sample rate or channel count", ErrInvalid)
	}

	data := b[HeaderSize:]
	if uint32(len(data)) < h.DataSize {
		return h, nil, fmt.Errorf("%w: data chunk truncated (%d < %d)", ErrInvalid, len(data), h.DataSize)
	}
	data = data[:h.DataSize]

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return h, samples, nil
}
