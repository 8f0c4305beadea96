// Package skill defines the Input/Output shape handed to a single action
// invocation, shared by the in-process runner and the subprocess worker
// protocol so that both dispatch paths produce an identical result for the
// gateway core's validation step to consume uniformly.
package skill

import (
	"encoding/json"
	"time"

	"github.com/trikhub/gateway/internal/gateway/manifest"
	"github.com/trikhub/gateway/internal/gateway/storage"
)

// HistoryEntry is one past invocation recorded in a session, as handed to a
// skill so it can resolve references like "the second one" against its own
// prior output.
type HistoryEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Action    string          `json:"action"`
	Input     json.RawMessage `json:"input"`
	AgentData json.RawMessage `json:"agentData,omitempty"`
}

// SessionView is the read-only session state passed into an invocation.
type SessionView struct {
	SessionID string         `json:"sessionId"`
	History   []HistoryEntry `json:"history"`
}

// Input is what a runtime — in-process or subprocess — receives for a
// single action invocation.
type Input struct {
	Action  string            `json:"action"`
	Input   json.RawMessage   `json:"input"`
	Session *SessionView      `json:"session,omitempty"`
	Config  map[string]string `json:"config,omitempty"`

	// Storage is the trik-scoped handle an in-process runtime calls
	// directly; it never crosses the wire. A subprocess worker instead
	// reaches the same handle indirectly, via storage.* RPCs the gateway
	// proxies for the lifetime of the call (see workerproc.Manager.Dispatch).
	Storage        storage.Handle `json:"-"`
	StorageEnabled bool           `json:"storageEnabled,omitempty"`
}

// Output is what a runtime returns for a single action invocation.
type Output struct {
	ResponseMode           manifest.ResponseMode `json:"responseMode,omitempty"`
	AgentData              json.RawMessage       `json:"agentData,omitempty"`
	UserContent            json.RawMessage       `json:"userContent,omitempty"`
	NeedsClarification     bool                  `json:"needsClarification,omitempty"`
	ClarificationQuestions []string              `json:"clarificationQuestions,omitempty"`
	EndSession             bool                  `json:"endSession,omitempty"`
}
