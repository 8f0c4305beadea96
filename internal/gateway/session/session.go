// Package session implements per-trik, in-memory conversational session
// history. Sessions are explicitly never persisted — they live only in the
// process-wide map and are lost when the process exits — and
// bounded in both size (maxHistoryEntries, oldest-dropped-first) and time
// (inactivity timeout), loosely grounded on the bounded-append/evict shape
// of the teacher's conversation tracker, generalised from an LLM turn buffer
// to a skill-invocation history.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxHistoryEntries is used when a manifest's session capability
// omits MaxHistoryEntries.
const DefaultMaxHistoryEntries = 50

// DefaultMaxDuration is used when a manifest's session capability omits
// MaxDurationMs.
const DefaultMaxDuration = 30 * time.Minute

// HistoryEntry is one past invocation recorded against a session. Passthrough
// content is never recorded here — only a template action's agentData is.
type HistoryEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Action    string          `json:"action"`
	Input     json.RawMessage `json:"input"`
	AgentData json.RawMessage `json:"agentData,omitempty"`
}

// Session is a single trik's conversational state across invocations.
type Session struct {
	SessionID    string
	TrikID       string
	CreatedAt    time.Time
	LastActivity time.Time
	History      []HistoryEntry

	maxHistoryEntries int
	maxDuration       time.Duration
}

func (s *Session) expired(now time.Time) bool {
	return now.Sub(s.LastActivity) > s.maxDuration
}

func (s *Session) appendLocked(entry HistoryEntry) {
	s.History = append(s.History, entry)
	if len(s.History) > s.maxHistoryEntries {
		s.History = s.History[len(s.History)-s.maxHistoryEntries:]
	}
	s.LastActivity = entry.Timestamp
}

// Store is a process-wide, in-memory map of sessions keyed by
// (trikID, sessionID), guarded by a single RWMutex per §5's "shared
// resources" model.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]map[string]*Session)}
}

// Get returns the session for (trikID, sessionID) if it exists and has not
// expired from inactivity; an expired session is evicted on the way out.
func (st *Store) Get(trikID, sessionID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	bucket, ok := st.sessions[trikID]
	if !ok {
		return nil, false
	}
	s, ok := bucket[sessionID]
	if !ok {
		return nil, false
	}
	if s.expired(time.Now()) {
		delete(bucket, sessionID)
		return nil, false
	}
	return s, true
}

// Create starts a new session for trikID, minting a fresh session id, with
// the given limits (zero values fall back to the package defaults).
func (st *Store) Create(trikID string, maxHistoryEntries int, maxDuration time.Duration) *Session {
	if maxHistoryEntries <= 0 {
		maxHistoryEntries = DefaultMaxHistoryEntries
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	now := time.Now()
	s := &Session{
		SessionID:         uuid.NewString(),
		TrikID:            trikID,
		CreatedAt:         now,
		LastActivity:      now,
		maxHistoryEntries: maxHistoryEntries,
		maxDuration:       maxDuration,
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	bucket, ok := st.sessions[trikID]
	if !ok {
		bucket = make(map[string]*Session)
		st.sessions[trikID] = bucket
	}
	bucket[s.SessionID] = s
	return s
}

// Append records entry against (trikID, sessionID), dropping the oldest
// history entry first if the session is already at capacity.
func (st *Store) Append(trikID, sessionID string, entry HistoryEntry) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	bucket, ok := st.sessions[trikID]
	if !ok {
		return ErrSessionNotFound
	}
	s, ok := bucket[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.appendLocked(entry)
	return nil
}

// End removes a session immediately, for the endSession flag.
func (st *Store) End(trikID, sessionID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if bucket, ok := st.sessions[trikID]; ok {
		delete(bucket, sessionID)
	}
}

// Expire sweeps every trik's sessions for inactivity timeouts.
func (st *Store) Expire() {
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, bucket := range st.sessions {
		for id, s := range bucket {
			if s.expired(now) {
				delete(bucket, id)
			}
		}
	}
}
