package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when the audio was accepted but contained no words.
var ErrNoSpeech = errors.New("stt: no speech in audio")

// TranscriptResult represents a speech-to-text transcription result.
type TranscriptResult struct {
	Text       string  // The transcribed text
	Confidence float64 // Confidence score (0-1)
	Duration   float64 // Audio length in seconds as reported by the provider
}

// Client defines the interface for speech-to-text providers.
type Client interface {
	// Transcribe converts one complete audio segment (WAV bytes) to text.
	Transcribe(ctx context.Context, audio []byte) (TranscriptResult, error)
}
