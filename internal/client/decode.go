package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/lukasbauer/voicerelay/internal/wav"
)

// ErrDecode wraps every failure to turn a clip into PCM.
var ErrDecode = errors.New("client: cannot decode clip")

// Decoder turns an encoded clip into PCM.
type Decoder interface {
	Decode(audio []byte) (PCM, error)
}

// MP3Decoder decodes MP3 clips. go-mp3 always yields 16-bit stereo.
type MP3Decoder struct{}

func (MP3Decoder) Decode(audio []byte) (PCM, error) {
	if len(audio) == 0 {
		return PCM{}, fmt.Errorf("%w: empty clip", ErrDecode)
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(raw) == 0 {
		return PCM{}, fmt.Errorf("%w: no mp3 frames", ErrDecode)
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}
	return PCM{Samples: samples, SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// WAVDecoder decodes canonical PCM WAV clips.
type WAVDecoder struct{}

func (WAVDecoder) Decode(audio []byte) (PCM, error) {
	hdr, samples, err := wav.Decode(audio)
	if err != nil {
		return PCM{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return PCM{Samples: samples, SampleRate: int(hdr.SampleRate), Channels: int(hdr.Channels)}, nil
}

// AutoDecoder picks WAV or MP3 by looking at the clip's first bytes.
type AutoDecoder struct{}

func (AutoDecoder) Decode(audio []byte) (PCM, error) {
	if bytes.HasPrefix(audio, []byte("RIFF")) {
		return WAVDecoder{}.Decode(audio)
	}
	return MP3Decoder{}.Decode(audio)
}
