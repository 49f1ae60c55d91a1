package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/voicerelay/internal/eventlog"
	"github.com/lukasbauer/voicerelay/internal/llm"
	"github.com/lukasbauer/voicerelay/internal/stt"
	"github.com/lukasbauer/voicerelay/internal/tts"
)

type RouterConfig struct {
	// Sentence flushing
	SentenceFlushAfter time.Duration // Inactivity delay before a partial sentence is flushed

	// Upstream call limits
	STTTimeout time.Duration
	LLMTimeout time.Duration // Bounds the whole streamed reply
	TTSTimeout time.Duration // Per sentence

	// Debug enables per-sentence log lines
	Debug bool
}

// Providers are the hosted speech and language services a relay session calls.
type Providers struct {
	STT stt.Client
	LLM llm.Client
	TTS tts.Client
}

type Router struct {
	cfg       RouterConfig
	logger    *log.Logger
	providers Providers
	eventLog  *eventlog.Logger
	sessions  *SessionRegistry
	mux       *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, p Providers, eventLog *eventlog.Logger, sessions *SessionRegistry) http.Handler {
	if eventLog == nil {
		eventLog = eventlog.New(nil)
	}
	r := &Router{
		cfg:       cfg,
		logger:    logger,
		providers: p,
		eventLog:  eventLog,
		sessions:  sessions,
		mux:       http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Relay socket
	r.mux.HandleFunc("GET /websocket", r.handleRelayWS)

	// Session event log (debugging)
	r.mux.HandleFunc("GET /sessions/{id}/events", r.handleSessionEvents)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type sessionEventResponse struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (r *Router) handleSessionEvents(w http.ResponseWriter, req *http.Request) {
	if !r.eventLog.Enabled() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event log disabled"})
		return
	}
	id := req.PathValue("id")
	events, err := r.eventLog.ListSession(req.Context(), id, 0)
	if err != nil {
		r.logger.Printf("events: list session %s: %v", id, err)
		captureError(req, err, "events: list failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	out := make([]sessionEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, sessionEventResponse{Type: string(e.Type), Data: e.Data, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

// captureSessionError sends a relay failure to Sentry tagged with the session and stage.
func captureSessionError(sessionID, stage string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", sessionID)
		scope.SetTag("stage", stage)
		sentry.CaptureException(err)
	})
}
