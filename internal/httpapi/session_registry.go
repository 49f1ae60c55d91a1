package httpapi

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lukasbauer/voicerelay/internal/llm"
)

// Transcript is the chat history of one logical session.
type Transcript struct {
	mu   sync.Mutex
	msgs []llm.Message
}

// Append adds one turn.
func (t *Transcript) Append(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, llm.Message{Role: role, Content: content})
}

// Snapshot returns a copy safe to hand to the model client.
func (t *Transcript) Snapshot() []llm.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]llm.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Clear truncates the transcript to empty.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = nil
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

type sessionEntry struct {
	transcript *Transcript
	conns      int
	releasedAt time.Time
}

// SessionRegistry tracks live relay connections and the transcripts of the
// sessions they belong to, and supports graceful draining. When draining is
// enabled, new connections are rejected while live ones finish naturally.
//
// Transcripts outlive their connections so a client reconnecting with the
// same session id rejoins its history. A transcript with no connection is
// forgotten once it has been idle for longer than the retention period.
type SessionRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64
	sessions map[string]*sessionEntry
	retain   time.Duration
	now      func() time.Time
}

// NewSessionRegistry creates a registry. retain <= 0 keeps idle transcripts
// until the process exits.
func NewSessionRegistry(retain time.Duration) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*sessionEntry),
		retain:   retain,
		now:      time.Now,
	}
}

// Acquire registers a new connection for session id and returns its
// transcript. resumed reports whether the transcript already existed. ok is
// false if the registry is draining; the caller must not call Release then.
func (sr *SessionRegistry) Acquire(id string) (t *Transcript, resumed bool, ok bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return nil, false, false
	}
	sr.pruneLocked()

	e, found := sr.sessions[id]
	if !found {
		e = &sessionEntry{transcript: &Transcript{}}
		sr.sessions[id] = e
	}
	e.conns++

	sr.wg.Add(1)
	sr.count.Add(1)
	return e.transcript, found, true
}

// Release marks a connection of session id as finished. Must be called
// exactly once per successful Acquire.
func (sr *SessionRegistry) Release(id string) {
	sr.mu.Lock()
	if e, ok := sr.sessions[id]; ok {
		e.conns--
		if e.conns <= 0 {
			e.conns = 0
			e.releasedAt = sr.now()
		}
	}
	sr.mu.Unlock()

	sr.count.Add(-1)
	sr.wg.Done()
}

func (sr *SessionRegistry) pruneLocked() {
	if sr.retain <= 0 {
		return
	}
	cutoff := sr.now().Add(-sr.retain)
	for id, e := range sr.sessions {
		if e.conns == 0 && e.releasedAt.Before(cutoff) {
			delete(sr.sessions, id)
		}
	}
}

// Transcript returns the transcript of session id, if known.
func (sr *SessionRegistry) Transcript(id string) (*Transcript, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	e, ok := sr.sessions[id]
	if !ok {
		return nil, false
	}
	return e.transcript, true
}

// StartDraining sets the draining flag so that future Acquire calls fail.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

// ActiveCount returns the number of live connections.
func (sr *SessionRegistry) ActiveCount() int64 {
	return sr.count.Load()
}

// Wait blocks until every acquired connection has been released.
func (sr *SessionRegistry) Wait() {
	sr.wg.Wait()
}
