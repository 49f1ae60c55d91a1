package client

import (
	"log"
	"math"
	"time"

	"github.com/lukasbauer/voicerelay/internal/wav"
)

// Status lines reported by the Gate.
const (
	StatusTranscribing    = "Transcribing..."
	StatusConnectionIssue = "Connection issue. Cannot send audio."
)

// Detector classifies capture frames as speech or silence.
type Detector interface {
	IsSpeech(frame []float32) bool
	Reset()
}

// RMSDetector is an energy based Detector with hysteresis so short dips and
// clicks don't flip the state.
type RMSDetector struct {
	SpeechThreshold  float64 // RMS level to start speech
	SilenceThreshold float64 // RMS level to end speech
	SpeechFrames     int     // consecutive loud frames needed to start
	SilenceFrames    int     // consecutive quiet frames needed to end

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// NewRMSDetector returns a detector tuned for 16kHz 20ms frames.
func NewRMSDetector() *RMSDetector {
	return &RMSDetector{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		SpeechFrames:     3,
		SilenceFrames:    30,
	}
}

func (d *RMSDetector) IsSpeech(frame []float32) bool {
	level := rms(frame)

	if d.inSpeech {
		if level < d.SilenceThreshold {
			d.silenceCount++
			if d.silenceCount >= d.SilenceFrames {
				d.inSpeech = false
				d.silenceCount = 0
			}
		} else {
			d.silenceCount = 0
		}
		return d.inSpeech
	}

	if level >= d.SpeechThreshold {
		d.speechCount++
		if d.speechCount >= d.SpeechFrames {
			d.inSpeech = true
			d.speechCount = 0
		}
	} else {
		d.speechCount = 0
	}
	return d.inSpeech
}

func (d *RMSDetector) Reset() {
	d.inSpeech = false
	d.speechCount = 0
	d.silenceCount = 0
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Transport carries finished speech segments to the relay.
type Transport interface {
	IsOpen() bool
	SendAudio(wav []byte) error
}

// Player is the part of playback the Gate interrupts when the user talks.
type Player interface {
	Stop()
}

// GateConfig configures a Gate.
type GateConfig struct {
	SampleRate    int
	PreRollFrames int
	// MinSpeech drops segments whose captured length, pre-roll excluded,
	// is shorter than this.
	MinSpeech time.Duration
	OnStatus  func(string)
}

// Gate turns a stream of capture frames into WAV segments, one per
// utterance. Process must be called from a single goroutine.
type Gate struct {
	cfg       GateConfig
	detector  Detector
	transport Transport
	player    Player
	logger    *log.Logger

	capturing bool
	preRoll   [][]float32
	segment   []float32
	preLen    int
}

// NewGate creates a Gate in the listening state.
func NewGate(cfg GateConfig, detector Detector, transport Transport, player Player, logger *log.Logger) *Gate {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.PreRollFrames < 0 {
		cfg.PreRollFrames = 0
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gate{
		cfg:       cfg,
		detector:  detector,
		transport: transport,
		player:    player,
		logger:    logger,
	}
}

// Capturing reports whether the Gate is inside an utterance.
func (g *Gate) Capturing() bool {
	return g.capturing
}

// Process feeds one capture frame. The frame is copied.
func (g *Gate) Process(frame []float32) {
	speech := g.detector.IsSpeech(frame)

	switch {
	case !g.capturing && speech:
		g.capturing = true
		g.segment = g.segment[:0]
		for _, f := range g.preRoll {
			g.segment = append(g.segment, f...)
		}
		g.preLen = len(g.segment)
		g.preRoll = g.preRoll[:0]
		g.segment = append(g.segment, frame...)
		g.status(StatusListening)

	case g.capturing && speech:
		g.segment = append(g.segment, frame...)

	case g.capturing && !speech:
		g.capturing = false
		g.finish()

	default:
		g.remember(frame)
	}
}

// Reset abandons any utterance in progress.
func (g *Gate) Reset() {
	g.capturing = false
	g.segment = g.segment[:0]
	g.preRoll = g.preRoll[:0]
	g.detector.Reset()
}

func (g *Gate) remember(frame []float32) {
	if g.cfg.PreRollFrames == 0 {
		return
	}
	if len(g.preRoll) == g.cfg.PreRollFrames {
		copy(g.preRoll, g.preRoll[1:])
		g.preRoll = g.preRoll[:len(g.preRoll)-1]
	}
	g.preRoll = append(g.preRoll, append([]float32(nil), frame...))
}

func (g *Gate) finish() {
	spoken := time.Duration(len(g.segment)-g.preLen) * time.Second / time.Duration(g.cfg.SampleRate)
	if spoken < g.cfg.MinSpeech {
		g.logger.Printf("gate: dropped %v segment (minimum %v)", spoken, g.cfg.MinSpeech)
		return
	}

	g.status(StatusTranscribing)
	audio := wav.Encode(g.segment, g.cfg.SampleRate)

	if !g.transport.IsOpen() {
		g.status(StatusConnectionIssue)
		return
	}
	g.player.Stop()
	if err := g.transport.SendAudio(audio); err != nil {
		g.logger.Printf("gate: send failed: %v", err)
		g.status(StatusConnectionIssue)
	}
}

func (g *Gate) status(s string) {
	if g.cfg.OnStatus != nil {
		g.cfg.OnStatus(s)
	}
}
