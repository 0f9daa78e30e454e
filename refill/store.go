package refill

import (
	"sort"
	"sync"
	"time"
)

// SessionStore is the in-memory session map. Contexts are deep-copied on
// the way in and out, so callers never share memory with the store; the
// only mutation path is Put. Per-session locks serialize turns on the
// same session while different sessions proceed concurrently.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	// turnMu is held by the orchestrator for the duration of a turn.
	turnMu sync.Mutex
	ctx    *ConversationContext
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*sessionEntry)}
}

// Create makes a fresh session at START for the patient and returns a
// copy of its context.
func (s *SessionStore) Create(patientID string) *ConversationContext {
	ctx := NewConversationContext(patientID)

	s.mu.Lock()
	s.sessions[ctx.SessionID] = &sessionEntry{ctx: ctx}
	s.mu.Unlock()

	return ctx.Clone()
}

// Get returns a copy of the identified session's context.
func (s *SessionStore) Get(sessionID string) (*ConversationContext, error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.ctx.Clone(), nil
}

// Put replaces the stored context for an existing session. Sessions are
// only ever created through Create, so a missing id means the session
// was deleted or expired while the caller held its copy.
func (s *SessionStore) Put(ctx *ConversationContext) error {
	cp := ctx.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[ctx.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	entry.ctx = cp
	return nil
}

// Delete removes a session.
func (s *SessionStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// ExpireOlderThan removes sessions whose LastUpdated is older than age
// and returns their summaries, ordered by session id. Called from the
// expiry sweep, which publishes one expiry event per summary.
func (s *SessionStore) ExpireOlderThan(age time.Duration) []Summary {
	cutoff := time.Now().UTC().Add(-age)

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Summary
	for id, entry := range s.sessions {
		if entry.ctx.LastUpdated.Before(cutoff) {
			expired = append(expired, entry.ctx.Summarize())
			delete(s.sessions, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].SessionID < expired[j].SessionID
	})
	return expired
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// List returns redacted summaries of every live session, ordered by
// creation time.
func (s *SessionStore) List() []Summary {
	s.mu.RLock()
	summaries := make([]Summary, 0, len(s.sessions))
	for _, entry := range s.sessions {
		summaries = append(summaries, entry.ctx.Summarize())
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].SessionID < summaries[j].SessionID
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Acquire takes the per-session turn lock and returns its release
// function. The lock outlives Delete, so a turn racing an expiry sweep
// fails cleanly at Put instead of blocking the sweep.
func (s *SessionStore) Acquire(sessionID string) (func(), error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	entry.turnMu.Lock()
	return entry.turnMu.Unlock, nil
}
