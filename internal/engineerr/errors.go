// Package engineerr defines the typed error kinds the session engine raises,
// and their mapping onto the JSON-RPC error code table the gateway exposes.
package engineerr

import "fmt"

// Kind is a coarse error classification shared across the engine's packages.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidParams     Kind = "invalid_params"
	KindInvalidState      Kind = "invalid_state"
	KindManagerUnavailable Kind = "manager_unavailable"
	KindConflict          Kind = "conflict"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
	KindContextOverflow   Kind = "context_overflow"
	KindProviderError     Kind = "provider_error"
	KindStorageError      Kind = "storage_error"
	KindInternal          Kind = "internal"
)

// Category is the broad class of error surfaced to RPC clients.
type Category string

const (
	CategoryClient    Category = "client_error"
	CategoryServer    Category = "server_error"
	CategoryTransient Category = "transient_error"
)

// EngineError is the one error type every package boundary in the engine
// raises. It carries enough structure for the RPC gateway to map it onto a
// JSON-RPC code without inspecting vendor-specific error types.
type EngineError struct {
	Kind      Kind
	Code      int
	Category  Category
	Retryable bool
	Message   string
	Data      map[string]any
	Cause     error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *EngineError) Unwrap() error { return e.Cause }

// WithData attaches contextual fields (echoed back as data.<key> in the RPC
// error envelope) and returns the same error for chaining.
func (e *EngineError) WithData(key string, value any) *EngineError {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

func newErr(kind Kind, code int, category Category, retryable bool, message string, cause error) *EngineError {
	return &EngineError{Kind: kind, Code: code, Category: category, Retryable: retryable, Message: message, Cause: cause}
}

// NotFound builds a NotFound error (session/event/blob/method missing).
func NotFound(what, id string) *EngineError {
	return newErr(KindNotFound, -32000, CategoryClient, false,
		fmt.Sprintf("%s not found: %s", what, id), nil)
}

// MethodNotFound is the JSON-RPC -32601 case, raised by the gateway's
// dispatcher rather than a handler.
func MethodNotFound(method string) *EngineError {
	return newErr(KindNotFound, -32601, CategoryClient, false,
		fmt.Sprintf("method not found: %s", method), nil)
}

// InvalidParams builds an InvalidParams error. Callers tag a reason code in
// data.reason with WithData (e.g. "cross_session_rewind").
func InvalidParams(message string) *EngineError {
	return newErr(KindInvalidParams, -32602, CategoryClient, false, message, nil)
}

// SessionNotActive reports that a session exists but has ended.
func SessionNotActive(sessionID string) *EngineError {
	return newErr(KindInvalidState, -32001, CategoryClient, false,
		fmt.Sprintf("session not active: %s", sessionID), nil)
}

// AgentBusy is raised when a second runner attempts to enter an
// already-active session (spec: SessionBusy / AgentBusy, JSON-RPC -32003).
func AgentBusy(sessionID string) *EngineError {
	return newErr(KindInvalidState, -32003, CategoryTransient, true,
		fmt.Sprintf("session busy: %s", sessionID), nil)
}

// ManagerUnavailable reports a missing orchestrator dependency for a method.
func ManagerUnavailable(dependency string) *EngineError {
	return newErr(KindManagerUnavailable, -32002, CategoryServer, true,
		fmt.Sprintf("manager not available: %s", dependency), nil)
}

// Conflict reports a stale-parent append collision.
func Conflict(message string) *EngineError {
	return newErr(KindConflict, -32603, CategoryServer, true, message, nil)
}

// ContextOverflow reports that assembled context exceeds the model's window.
func ContextOverflow(message string) *EngineError {
	return newErr(KindContextOverflow, -32004, CategoryClient, false, message, nil)
}

// ProviderErr wraps a provider failure; fatal providers are not retryable.
func ProviderErr(message string, fatal bool, cause error) *EngineError {
	return newErr(KindProviderError, -32603, CategoryServer, !fatal, message, cause)
}

// StorageErr wraps a storage failure after busy-retry exhaustion.
func StorageErr(message string, cause error) *EngineError {
	return newErr(KindStorageError, -32603, CategoryServer, true, message, cause)
}

// Internal wraps an unclassified failure.
func Internal(message string, cause error) *EngineError {
	return newErr(KindInternal, -32603, CategoryServer, true, message, cause)
}

// Timeout reports a deadline exceeded on a hook, provider call, or tool call.
func Timeout(message string) *EngineError {
	return newErr(KindTimeout, -32603, CategoryServer, true, message, nil)
}

// Cancelled reports a cooperative cancellation (abort).
func Cancelled(message string) *EngineError {
	return newErr(KindCancelled, -32603, CategoryServer, false, message, nil)
}

// ParseError is the JSON-RPC -32700 malformed-frame case.
func ParseError(cause error) *EngineError {
	return newErr(KindInvalidParams, -32700, CategoryClient, false, "parse error", cause)
}

// InvalidRequest is the JSON-RPC -32600 case.
func InvalidRequest(message string) *EngineError {
	return newErr(KindInvalidParams, -32600, CategoryClient, false, message, nil)
}

// As extracts an *EngineError from err, if any is present in its chain.
func As(err error) (*EngineError, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*EngineError); ok {
		return e, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if e, ok := err.(*EngineError); ok {
			return e, true
		}
	}
	return nil, false
}
