package core

import "encoding/json"

// ResultKind tags which branch of the Gateway Result union a Result carries,
// the Go realisation of the spec's closed result union as a single tagged
// struct rather than an actual sum type.
type ResultKind string

const (
	ResultTemplate      ResultKind = "template"
	ResultPassthrough   ResultKind = "passthrough"
	ResultError         ResultKind = "error"
	ResultClarification ResultKind = "clarification"
)

// Error codes, matching §7's taxonomy and workerproto's custom RPC codes.
const (
	CodeInvalidParams          = "INVALID_PARAMS"
	CodeTrikNotFound           = "TRIK_NOT_FOUND"
	CodeActionNotFound         = "ACTION_NOT_FOUND"
	CodeExecutionTimeout       = "EXECUTION_TIMEOUT"
	CodeSchemaValidationFailed = "SCHEMA_VALIDATION_FAILED"
	CodeStorageError           = "STORAGE_ERROR"
	CodeWorkerNotReady         = "WORKER_NOT_READY"
	CodeInternalError          = "INTERNAL_ERROR"
)

// Result is what Execute returns: exactly one of a template success, a
// passthrough success, a clarification request, or an error — never an
// exception, per §9's "result types, not exceptions" design note.
type Result struct {
	Kind ResultKind

	// Template success.
	AgentData    json.RawMessage
	TemplateText string

	// Passthrough success.
	UserContentRef string

	// Shared across template/passthrough successes.
	SessionID string

	// Clarification.
	Questions []string

	// Error.
	Code    string
	Message string
}

func errorResult(code, message string) Result {
	return Result{Kind: ResultError, Code: code, Message: message}
}
