package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventSessionResumed    EventType = "session_resumed"
	EventSessionEnded      EventType = "session_ended"
	EventTranscriptCleared EventType = "transcript_cleared"
	EventAudioRejected     EventType = "audio_rejected"
	EventSTTResult         EventType = "stt_result"
	EventSTTError          EventType = "stt_error"
	EventLLMStarted        EventType = "llm_started"
	EventLLMFirstToken     EventType = "llm_first_token"
	EventLLMCompleted      EventType = "llm_completed"
	EventLLMError          EventType = "llm_error"
	EventSentenceExtracted EventType = "sentence_extracted"
	EventTTSCompleted      EventType = "tts_completed"
	EventTTSError          EventType = "tts_error"
	EventTurnCompleted     EventType = "turn_completed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger. A nil pool turns every call into a no-op.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Enabled reports whether events are persisted.
func (l *Logger) Enabled() bool {
	return l != nil && l.db != nil
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if !l.Enabled() || sessionID == "" {
		return nil // Silently skip if no DB or session ID
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO relay_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), encodeData(data))

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if !l.Enabled() || sessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}

// Event is one stored row.
type Event struct {
	SessionID string
	Type      EventType
	Data      map[string]any
	CreatedAt time.Time
}

// ListSession returns the events of one session, oldest first.
func (l *Logger) ListSession(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if !l.Enabled() {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	rows, err := l.db.Query(ctx, `
		SELECT session_id, event_type, event_data, created_at
		FROM relay_events
		WHERE session_id = $1
		ORDER BY created_at, id
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			evType  string
			rawData []byte
		)
		if err := rows.Scan(&e.SessionID, &evType, &rawData, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(evType)
		if len(rawData) > 0 {
			_ = json.Unmarshal(rawData, &e.Data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func encodeData(data map[string]any) []byte {
	if data == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return []byte("{}")
	}
	return b
}
