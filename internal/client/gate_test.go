package client

import (
	"testing"
	"time"

	"github.com/lukasbauer/voicerelay/internal/wav"
)

type scriptedDetector struct {
	script []bool
	n      int
	resets int
}

func (d *scriptedDetector) IsSpeech([]float32) bool {
	v := d.script[d.n]
	d.n++
	return v
}

func (d *scriptedDetector) Reset() { d.resets++ }

// recorder plays both the transport and the player so call order is visible.
type recorder struct {
	open    bool
	sendErr error
	calls   []string
	sent    [][]byte
}

func (r *recorder) IsOpen() bool { return r.open }

func (r *recorder) SendAudio(b []byte) error {
	r.calls = append(r.calls, "send")
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, b)
	return nil
}

func (r *recorder) Stop() { r.calls = append(r.calls, "stop") }

func frame(v float32) []float32 {
	f := make([]float32, 160)
	for i := range f {
		f[i] = v
	}
	return f
}

func runGate(g *Gate, script []bool) {
	for i := range script {
		g.Process(frame(float32(i+1) / 100))
	}
}

func TestGateSendsUtteranceWithPreRoll(t *testing.T) {
	script := []bool{false, false, false, true, true, false}
	rec := &recorder{open: true}
	var statuses []string
	g := NewGate(GateConfig{
		SampleRate:    16000,
		PreRollFrames: 2,
		OnStatus:      func(s string) { statuses = append(statuses, s) },
	}, &scriptedDetector{script: script}, rec, rec, quietLogger())

	runGate(g, script)

	if len(rec.calls) != 2 || rec.calls[0] != "stop" || rec.calls[1] != "send" {
		t.Fatalf("calls = %v, want [stop send]", rec.calls)
	}
	hdr, samples, err := wav.Decode(rec.sent[0])
	if err != nil {
		t.Fatalf("sent audio is not WAV: %v", err)
	}
	if hdr.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", hdr.SampleRate)
	}
	if len(samples) != 4*160 {
		t.Fatalf("got %d samples, want %d", len(samples), 4*160)
	}
	// The segment opens with the two quiet frames heard just before speech.
	_, pre, _ := wav.Decode(wav.Encode([]float32{0.02}, 16000))
	if samples[0] != pre[0] {
		t.Errorf("first sample = %d, want %d from the pre-roll", samples[0], pre[0])
	}
	if len(statuses) != 2 || statuses[0] != StatusListening || statuses[1] != StatusTranscribing {
		t.Errorf("statuses = %v, want [%s %s]", statuses, StatusListening, StatusTranscribing)
	}
	if g.Capturing() {
		t.Error("gate should be listening again")
	}
}

func TestGateClosedTransport(t *testing.T) {
	script := []bool{true, false}
	rec := &recorder{open: false}
	var statuses []string
	g := NewGate(GateConfig{OnStatus: func(s string) { statuses = append(statuses, s) }},
		&scriptedDetector{script: script}, rec, rec, quietLogger())

	runGate(g, script)

	if len(rec.calls) != 0 {
		t.Errorf("calls = %v, want none", rec.calls)
	}
	if last := statuses[len(statuses)-1]; last != StatusConnectionIssue {
		t.Errorf("status = %q, want %q", last, StatusConnectionIssue)
	}
}

func TestGateSendFailure(t *testing.T) {
	script := []bool{true, false}
	rec := &recorder{open: true, sendErr: ErrNotConnected}
	var statuses []string
	g := NewGate(GateConfig{OnStatus: func(s string) { statuses = append(statuses, s) }},
		&scriptedDetector{script: script}, rec, rec, quietLogger())

	runGate(g, script)

	if last := statuses[len(statuses)-1]; last != StatusConnectionIssue {
		t.Errorf("status = %q, want %q", last, StatusConnectionIssue)
	}
	if len(rec.calls) != 2 || rec.calls[0] != "stop" {
		t.Errorf("calls = %v, want [stop send]", rec.calls)
	}
}

func TestGateDropsShortSegments(t *testing.T) {
	script := []bool{false, true, false, true, true, true, true, true, false}
	rec := &recorder{open: true}
	var statuses []string
	g := NewGate(GateConfig{
		SampleRate:    16000,
		PreRollFrames: 3,
		MinSpeech:     40 * time.Millisecond,
		OnStatus:      func(s string) { statuses = append(statuses, s) },
	}, &scriptedDetector{script: script}, rec, rec, quietLogger())

	runGate(g, script)

	// One 10ms blip is dropped; the 50ms utterance goes out.
	if len(rec.sent) != 1 {
		t.Fatalf("sent %d segments, want 1", len(rec.sent))
	}
	_, samples, _ := wav.Decode(rec.sent[0])
	if len(samples) != 5*160 {
		t.Errorf("got %d samples, want %d", len(samples), 5*160)
	}
	transcribing := 0
	for _, s := range statuses {
		if s == StatusTranscribing {
			transcribing++
		}
	}
	if transcribing != 1 {
		t.Errorf("Transcribing reported %d times, want 1", transcribing)
	}
}

func TestGateReset(t *testing.T) {
	det := &scriptedDetector{script: []bool{true, true}}
	rec := &recorder{open: true}
	g := NewGate(GateConfig{}, det, rec, rec, quietLogger())

	g.Process(frame(0.1))
	if !g.Capturing() {
		t.Fatal("gate should be capturing")
	}
	g.Reset()
	if g.Capturing() || det.resets != 1 {
		t.Errorf("Reset: capturing=%v resets=%d", g.Capturing(), det.resets)
	}
	if len(rec.calls) != 0 {
		t.Errorf("calls = %v, want none", rec.calls)
	}
}

func TestRMSDetectorHysteresis(t *testing.T) {
	d := NewRMSDetector()
	loud, quiet, murmur := frame(0.1), frame(0), frame(0.01)

	if d.IsSpeech(quiet) {
		t.Fatal("silence detected as speech")
	}
	d.IsSpeech(loud)
	d.IsSpeech(loud)
	if d.IsSpeech(murmur) {
		t.Error("a level between thresholds must not start speech")
	}
	for i := 0; i < 2; i++ {
		if d.IsSpeech(loud) {
			t.Fatalf("speech started after %d loud frames, want 3", i+1)
		}
	}
	if !d.IsSpeech(loud) {
		t.Fatal("speech should start on the third loud frame")
	}

	// Murmur stays above the silence threshold and keeps speech going.
	for i := 0; i < 100; i++ {
		if !d.IsSpeech(murmur) {
			t.Fatal("murmur ended speech")
		}
	}
	for i := 0; i < 29; i++ {
		if !d.IsSpeech(quiet) {
			t.Fatalf("speech ended after %d quiet frames, want 30", i+1)
		}
	}
	if d.IsSpeech(quiet) {
		t.Error("speech should end on the thirtieth quiet frame")
	}

	d.IsSpeech(loud)
	d.IsSpeech(loud)
	d.Reset()
	if d.IsSpeech(loud) {
		t.Error("Reset should clear the loud frame count")
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Errorf("rms(nil) = %v, want 0", got)
	}
	if got := rms([]float32{0.5, -0.5}); got != 0.5 {
		t.Errorf("rms = %v, want 0.5", got)
	}
}
