// Package manifest defines the trik manifest model (schema version 1) and
// the two-phase parse/validate pipeline that enforces the agent-visible
// data invariants before a trik is ever registered with a gateway.
package manifest

import "encoding/json"

// SchemaVersion is the only manifest schema version this gateway accepts.
const SchemaVersion = 1

// ResponseMode selects how an action's result reaches the calling agent.
type ResponseMode string

const (
	// ModeTemplate renders a structured agentData payload through one of the
	// action's responseTemplates; the agent sees both the data and the text.
	ModeTemplate ResponseMode = "template"

	// ModePassthrough stores the result as opaque content and hands the
	// agent only a receipt reference; the content itself never reaches it.
	ModePassthrough ResponseMode = "passthrough"
)

// Runtime identifies the language runtime a trik's entry point executes
// under. The zero value means "matches the host runtime".
type Runtime string

const (
	RuntimeNode Runtime = "node"
	RuntimePython Runtime = "python"
)

// Manifest is the parsed, validated description of a single trik.
// It is immutable once loaded; reloading requires re-parsing and
// re-registering under the gateway's duplicate-load policy.
type Manifest struct {
	SchemaVersion int          `json:"schemaVersion"`
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Version       string       `json:"version"`
	Author        string       `json:"author,omitempty"`
	Repository    string       `json:"repository,omitempty"`
	License       string       `json:"license,omitempty"`
	Actions       map[string]Action `json:"actions"`
	Capabilities  Capabilities `json:"capabilities"`
	Limits        Limits       `json:"limits,omitempty"`
	Entry         Entry        `json:"entry"`
}

// Entry points at the trik's executable artifact.
type Entry struct {
	// Path is relative to the manifest's own directory.
	Path string `json:"path"`
	// Runtime is the declared execution runtime. Empty means "host runtime".
	Runtime Runtime `json:"runtime,omitempty"`
}

// Limits declares a single invocation's resource bounds. Zero means "not
// declared" rather than "forbidden". Dispatch does not read these fields;
// the worker manager applies its own process-wide execution timeout.
type Limits struct {
	MaxExecutionTimeMs int `json:"maxExecutionTimeMs,omitempty"`
}

// Action is a single named operation a trik exposes.
type Action struct {
	Description  string       `json:"description,omitempty"`
	ResponseMode ResponseMode `json:"responseMode"`
	InputSchema  json.RawMessage `json:"inputSchema"`

	// Template-mode fields.
	AgentDataSchema   json.RawMessage            `json:"agentDataSchema,omitempty"`
	ResponseTemplates map[string]ResponseTemplate `json:"responseTemplates,omitempty"`

	// Passthrough-mode fields.
	UserContentSchema json.RawMessage `json:"userContentSchema,omitempty"`
}

// ResponseTemplate is a single named rendering of an agentData payload.
type ResponseTemplate struct {
	Text string `json:"text"`
}

// Capabilities declares what a trik is allowed to reach out to and what
// ambient services (storage, session) it requires from the gateway.
type Capabilities struct {
	Tools    []string           `json:"tools,omitempty"`
	Storage  *StorageCapability `json:"storage,omitempty"`
	Session  *SessionCapability `json:"session,omitempty"`
	Required []ConfigRequirement `json:"required,omitempty"`
	Optional []ConfigRequirement `json:"optional,omitempty"`
}

// StorageCapability declares a trik's use of the per-skill storage provider.
type StorageCapability struct {
	Enabled      bool  `json:"enabled"`
	MaxSizeBytes int64 `json:"maxSizeBytes,omitempty"`
	Persistent   bool  `json:"persistent,omitempty"`
}

// SessionCapability declares a trik's use of per-skill session history.
type SessionCapability struct {
	Enabled           bool  `json:"enabled"`
	MaxDurationMs     int64 `json:"maxDurationMs,omitempty"`
	MaxHistoryEntries int   `json:"maxHistoryEntries,omitempty"`
}

// ConfigRequirement names a single config/secret key a trik depends on.
type ConfigRequirement struct {
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
}

// ToolDefinition is the gateway-computed, agent-facing surface for a single
// trik action: "{trikId}:{action}".
type ToolDefinition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	ResponseMode ResponseMode    `json:"responseMode"`
}

// DefaultMaxExecutionTimeMs is the default per-invocation time limit. It
// equals the worker manager's default timeout, but nothing reads this
// constant.
const DefaultMaxExecutionTimeMs = 60_000

// DefaultMaxStorageBytes is the default storage quota. It equals
// storage.DefaultMaxSizeBytes, which is what applies when a storage
// capability omits MaxSizeBytes; nothing reads this constant.
const DefaultMaxStorageBytes int64 = 100 * 1024 * 1024
