package client

import (
	"errors"
	"testing"

	"github.com/lukasbauer/voicerelay/internal/wav"
)

func TestAutoDecoderWAV(t *testing.T) {
	audio := wav.Encode([]float32{0, 0.5, -0.5, 1}, 22050)

	pcm, err := AutoDecoder{}.Decode(audio)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pcm.SampleRate != 22050 || pcm.Channels != 1 {
		t.Errorf("format = %d Hz x %d, want 22050 Hz x 1", pcm.SampleRate, pcm.Channels)
	}
	want := []int16{0, 16383, -16384, 32767}
	if len(pcm.Samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(pcm.Samples), len(want))
	}
	for i := range want {
		if pcm.Samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, pcm.Samples[i], want[i])
		}
	}
}

func TestDecodersRejectGarbage(t *testing.T) {
	tests := []struct {
		name  string
		dec   Decoder
		audio []byte
	}{
		{"mp3 empty", MP3Decoder{}, nil},
		{"mp3 noise", MP3Decoder{}, []byte("definitely not an mp3 frame")},
		{"wav truncated", WAVDecoder{}, []byte("RIFF....WAVE")},
		{"auto riff truncated", AutoDecoder{}, []byte("RIFF")},
		{"auto empty", AutoDecoder{}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.dec.Decode(tt.audio); !errors.Is(err, ErrDecode) {
				t.Errorf("Decode() error = %v, want ErrDecode", err)
			}
		})
	}
}
