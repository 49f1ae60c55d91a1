package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/lukasbauer/voicerelay/internal/costs"
	"github.com/lukasbauer/voicerelay/internal/eventlog"
	"github.com/lukasbauer/voicerelay/internal/sentence"
	"github.com/lukasbauer/voicerelay/internal/stt"
	"github.com/lukasbauer/voicerelay/internal/synth"
	"github.com/lukasbauer/voicerelay/internal/wav"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 16 << 20 // roughly eight minutes of 16 kHz mono speech
	maxSessionID  = 128
	inboxSize     = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// errSessionClosed ends the session's goroutine group once the socket is gone.
var errSessionClosed = errors.New("relay: session closed")

// controlMessage is a client text frame, e.g. {"type":"cmd","data":"clear"}.
type controlMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// textMessage forwards the transcribed user utterance.
type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// audioMessage carries one synthesized sentence as a base64 clip.
type audioMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Audio string `json:"audio"`
}

type inbound struct {
	audio []byte
	clear bool
}

// relaySession manages one websocket connection of a logical session.
// Frames are read on one goroutine and handled in arrival order by a single
// turn goroutine; synthesized audio is written by the queue worker.
type relaySession struct {
	id         string
	transcript *Transcript

	conn   *websocket.Conn
	connMu sync.Mutex

	providers Providers
	cfg       RouterConfig
	logger    *log.Logger
	eventLog  *eventlog.Logger

	inbox chan inbound
	queue *synth.Queue

	// Owned by the turn goroutine until run returns.
	turns int
	usage costs.Usage
}

func (r *Router) handleRelayWS(w http.ResponseWriter, req *http.Request) {
	if r.providers.STT == nil || r.providers.LLM == nil || r.providers.TTS == nil {
		r.logger.Printf("relay: missing providers")
		captureError(req, fmt.Errorf("voice relay not configured: missing providers"), "relay: configuration error")
		http.Error(w, "voice relay not configured", http.StatusServiceUnavailable)
		return
	}

	sessionID := req.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if len(sessionID) > maxSessionID {
		http.Error(w, "session id too long", http.StatusBadRequest)
		return
	}

	transcript, resumed, ok := r.sessions.Acquire(sessionID)
	if !ok {
		r.logger.Printf("relay: rejecting session %s, server is draining", sessionID)
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer r.sessions.Release(sessionID)

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("relay: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	s := &relaySession{
		id:         sessionID,
		transcript: transcript,
		conn:       conn,
		providers:  r.providers,
		cfg:        r.cfg,
		logger:     r.logger,
		eventLog:   r.eventLog,
		inbox:      make(chan inbound, inboxSize),
	}
	s.queue = synth.NewQueue(r.providers.TTS, synth.Config{
		Deliver: s.deliverAudio,
		OnError: s.synthesisFailed,
		Timeout: r.cfg.TTSTimeout,
	})

	event := eventlog.EventSessionStarted
	if resumed {
		event = eventlog.EventSessionResumed
	}
	r.eventLog.LogAsync(sessionID, event, map[string]any{
		"remote_addr": req.RemoteAddr,
		"turns":       transcript.Len(),
	})
	r.logger.Printf("relay: session %s connected (resumed=%v, %d turns)", sessionID, resumed, transcript.Len())

	// The request context is not tied to the hijacked connection.
	s.run(context.Background())
}

func (s *relaySession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.turnLoop(gctx) })
	g.Go(func() error { return s.queue.Run(gctx) })
	g.Go(func() error { return s.pingLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		s.queue.Close()
		return s.conn.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errSessionClosed) {
		s.logger.Printf("relay: session %s ended with error: %v", s.id, err)
	}

	total := costs.Calculate(s.usage)
	s.logger.Printf("relay: session %s disconnected after %d turns (%.3f cents)", s.id, s.turns, total.ExactCents)
	s.eventLog.LogAsync(s.id, eventlog.EventSessionEnded, map[string]any{
		"turns":             s.turns,
		"stt_seconds":       s.usage.STTSeconds,
		"llm_input_tokens":  s.usage.LLMInputTokens,
		"llm_output_tokens": s.usage.LLMOutputTokens,
		"tts_characters":    s.usage.TTSCharacters,
		"cost_cents":        total.ExactCents,
	})
}

func (s *relaySession) readLoop(ctx context.Context) error {
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			// Pending synthesis is dropped as soon as the peer is gone.
			s.queue.Close()
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("relay: connection closed for session %s", s.id)
			} else {
				s.logger.Printf("relay: read error for session %s: %v", s.id, err)
			}
			return errSessionClosed
		}

		var msg inbound
		switch msgType {
		case websocket.BinaryMessage:
			msg = inbound{audio: data}
		case websocket.TextMessage:
			var ctl controlMessage
			if err := json.Unmarshal(data, &ctl); err != nil || ctl.Type != "cmd" || ctl.Data != "clear" {
				s.logger.Printf("relay: ignoring text frame on session %s: %.80s", s.id, data)
				continue
			}
			msg = inbound{clear: true}
		default:
			continue
		}

		select {
		case s.inbox <- msg:
		case <-ctx.Done():
			return errSessionClosed
		}
	}
}

func (s *relaySession) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (s *relaySession) turnLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.inbox:
			if msg.clear {
				s.clearTranscript()
				continue
			}
			s.handleAudio(ctx, msg.audio)
		}
	}
}

// clearTranscript truncates the history. Sentences already handed to the
// synthesis queue are still spoken.
func (s *relaySession) clearTranscript() {
	n := s.transcript.Len()
	s.transcript.Clear()
	s.logger.Printf("relay: session %s transcript cleared (%d turns)", s.id, n)
	s.eventLog.LogAsync(s.id, eventlog.EventTranscriptCleared, map[string]any{"turns": n})
}

func (s *relaySession) handleAudio(ctx context.Context, audio []byte) {
	s.turns++
	turn := s.turns
	start := time.Now()
	var usage costs.Usage

	hdr, _, err := wav.Decode(audio)
	if err != nil {
		s.logger.Printf("relay: session %s turn %d: rejected audio (%d bytes): %v", s.id, turn, len(audio), err)
		s.eventLog.LogAsync(s.id, eventlog.EventAudioRejected, map[string]any{
			"turn":  turn,
			"bytes": len(audio),
			"error": err.Error(),
		})
		return
	}
	usage.STTSeconds = hdr.Duration().Seconds()

	result, err := s.transcribe(ctx, audio)
	if errors.Is(err, stt.ErrNoSpeech) {
		s.logger.Printf("relay: session %s turn %d: no speech in %.1fs of audio", s.id, turn, usage.STTSeconds)
		s.usage.Add(usage)
		return
	}
	if err != nil {
		s.turnFailed(turn, "stt", eventlog.EventSTTError, err)
		s.usage.Add(usage)
		return
	}

	s.logger.Printf("relay: session %s turn %d user said: %s", s.id, turn, result.Text)
	s.transcript.Append("user", result.Text)
	s.eventLog.LogAsync(s.id, eventlog.EventSTTResult, map[string]any{
		"turn":       turn,
		"text":       result.Text,
		"confidence": result.Confidence,
		"audio_ms":   hdr.Duration().Milliseconds(),
	})

	if err := s.writeJSON(textMessage{Type: "text", Text: result.Text}); err != nil {
		s.logger.Printf("relay: session %s turn %d: send text: %v", s.id, turn, err)
		s.usage.Add(usage)
		return
	}

	sentences, err := s.respond(ctx, turn, &usage)
	if err != nil {
		s.turnFailed(turn, "llm", eventlog.EventLLMError, err)
	}

	s.usage.Add(usage)
	c := costs.Calculate(usage)
	s.logger.Printf("relay: session %s turn %d: %d sentences queued in %s (%.3f cents)",
		s.id, turn, sentences, time.Since(start).Round(time.Millisecond), c.ExactCents)
	s.eventLog.LogAsync(s.id, eventlog.EventTurnCompleted, map[string]any{
		"turn":              turn,
		"sentences":         sentences,
		"duration_ms":       time.Since(start).Milliseconds(),
		"stt_seconds":       usage.STTSeconds,
		"llm_input_tokens":  usage.LLMInputTokens,
		"llm_output_tokens": usage.LLMOutputTokens,
		"tts_characters":    usage.TTSCharacters,
		"cost_cents":        c.ExactCents,
	})
}

func (s *relaySession) transcribe(ctx context.Context, audio []byte) (stt.TranscriptResult, error) {
	if s.cfg.STTTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.STTTimeout)
		defer cancel()
	}
	return s.providers.STT.Transcribe(ctx, audio)
}

// respond streams a reply to the current transcript, appending and queueing
// each sentence as soon as it is complete. It returns the number of sentences
// queued, which may be non-zero even when the stream failed.
func (s *relaySession) respond(ctx context.Context, turn int, usage *costs.Usage) (int, error) {
	if s.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.LLMTimeout)
		defer cancel()
	}

	messages := s.transcript.Snapshot()
	s.eventLog.LogAsync(s.id, eventlog.EventLLMStarted, map[string]any{"turn": turn, "messages": len(messages)})

	start := time.Now()
	stream, err := s.providers.LLM.GenerateResponse(ctx, messages)
	if err != nil {
		return 0, err
	}

	tokens := watchFirst(ctx, stream.Tokens(), func() {
		s.eventLog.LogAsync(s.id, eventlog.EventLLMFirstToken, map[string]any{
			"turn":       turn,
			"latency_ms": time.Since(start).Milliseconds(),
		})
	})

	n := 0
	for text := range sentence.Stream(ctx, tokens, s.cfg.SentenceFlushAfter) {
		s.transcript.Append("assistant", text)
		job, err := s.queue.Submit(text)
		if err != nil {
			return n, err
		}
		n++
		usage.TTSCharacters += utf8.RuneCountInString(text)
		if s.cfg.Debug {
			s.logger.Printf("relay: session %s turn %d sentence %d: %s", s.id, turn, job.Seq, text)
		}
		s.eventLog.LogAsync(s.id, eventlog.EventSentenceExtracted, map[string]any{
			"turn":     turn,
			"seq":      job.Seq,
			"length":   len(text),
			"after_ms": time.Since(start).Milliseconds(),
		})
	}

	// sentence.Stream stops early on cancellation; the stream itself may
	// still be unwinding.
	if err := ctx.Err(); err != nil {
		return n, err
	}
	if err := stream.Err(); err != nil {
		return n, err
	}

	u := stream.Usage()
	usage.LLMInputTokens += u.PromptTokens
	usage.LLMOutputTokens += u.CompletionTokens
	s.eventLog.LogAsync(s.id, eventlog.EventLLMCompleted, map[string]any{
		"turn":          turn,
		"sentences":     n,
		"duration_ms":   time.Since(start).Milliseconds(),
		"prompt_tokens": u.PromptTokens,
		"output_tokens": u.CompletionTokens,
	})
	return n, nil
}

// watchFirst forwards tokens and calls onFirst when the first one arrives.
func watchFirst(ctx context.Context, in <-chan string, onFirst func()) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		first := true
		for tok := range in {
			if first {
				first = false
				onFirst()
			}
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *relaySession) deliverAudio(_ context.Context, r synth.Result) error {
	msg := audioMessage{
		Type:  "audio",
		Text:  r.Text,
		Audio: base64.StdEncoding.EncodeToString(r.Audio),
	}
	if err := s.writeJSON(msg); err != nil {
		return err
	}
	s.eventLog.LogAsync(s.id, eventlog.EventTTSCompleted, map[string]any{
		"seq":   r.Seq,
		"bytes": len(r.Audio),
	})
	return nil
}

func (s *relaySession) synthesisFailed(job synth.Job, err error) {
	if errors.Is(err, context.Canceled) {
		return // session is closing
	}
	s.logger.Printf("relay: session %s sentence %d synthesis failed: %v", s.id, job.Seq, err)
	captureSessionError(s.id, "tts", err)
	s.eventLog.LogAsync(s.id, eventlog.EventTTSError, map[string]any{
		"seq":   job.Seq,
		"text":  job.Text,
		"error": err.Error(),
	})
}

func (s *relaySession) turnFailed(turn int, stage string, event eventlog.EventType, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, synth.ErrClosed) {
		s.logger.Printf("relay: session %s turn %d aborted: connection closed", s.id, turn)
		return
	}
	s.logger.Printf("relay: session %s turn %d %s failed: %v", s.id, turn, stage, err)
	captureSessionError(s.id, stage, err)
	s.eventLog.LogAsync(s.id, event, map[string]any{
		"turn":  turn,
		"error": err.Error(),
	})
}

func (s *relaySession) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}
