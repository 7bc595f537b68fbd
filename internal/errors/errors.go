// Package errors provides structured error types for the dbg-mcp server.
// These errors include helpful hints and suggestions that guide the LLM
// to correct course when something goes wrong.
//
// Every error belongs to one family (see Kind): protocol, validation, session,
// backend or resource errors. Callers match on codes rather than messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Protocol errors
	CodeUnknownMethod ErrorCode = "UNKNOWN_METHOD"
	CodeInvalidParams ErrorCode = "INVALID_PARAMS"

	// Validation errors
	CodeBadPath       ErrorCode = "BAD_PATH"
	CodeBadLocation   ErrorCode = "BAD_LOCATION"
	CodeBadExpression ErrorCode = "BAD_EXPRESSION"

	// Session errors
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeAlreadyTerminated ErrorCode = "ALREADY_TERMINATED"

	// Backend errors
	CodeSpawnFailed     ErrorCode = "SPAWN_FAILED"
	CodeTimedOut        ErrorCode = "TIMED_OUT"
	CodeCrashed         ErrorCode = "CRASHED"
	CodeParseIncomplete ErrorCode = "PARSE_INCOMPLETE"

	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
)

// Kind is the error family a code belongs to
type Kind string

const (
	KindProtocol   Kind = "ProtocolError"
	KindValidation Kind = "ValidationError"
	KindSession    Kind = "SessionError"
	KindBackend    Kind = "BackendError"
	KindResource   Kind = "ResourceExhausted"
	KindUnknown    Kind = "UnknownError"
)

// Kind returns the family of the code
func (c ErrorCode) Kind() Kind {
	switch c {
	case CodeUnknownMethod, CodeInvalidParams:
		return KindProtocol
	case CodeBadPath, CodeBadLocation, CodeBadExpression:
		return KindValidation
	case CodeSessionNotFound, CodeInvalidTransition, CodeAlreadyTerminated:
		return KindSession
	case CodeSpawnFailed, CodeTimedOut, CodeCrashed, CodeParseIncomplete:
		return KindBackend
	case CodeResourceExhausted:
		return KindResource
	}
	return KindUnknown
}

// maxDetailOutput bounds captured debugger output carried in error details
const maxDetailOutput = 4096

// DebugError is a structured error type that includes helpful information
// for the LLM to understand what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human/LLM-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (command text, captured output, pid)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DebugError with the same code
func (e *DebugError) Is(target error) bool {
	var t *DebugError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Kind returns the error family
func (e *DebugError) Kind() Kind {
	return e.Code.Kind()
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// WithOutput attaches captured debugger output, truncated to a bounded size
func (e *DebugError) WithOutput(output string) *DebugError {
	if output == "" {
		return e
	}
	return e.WithDetails("output", truncate(output, maxDetailOutput))
}

// Sentinels usable with errors.Is; only the code is compared.
var (
	ErrSessionNotFound   = &DebugError{Code: CodeSessionNotFound}
	ErrInvalidTransition = &DebugError{Code: CodeInvalidTransition}
	ErrAlreadyTerminated = &DebugError{Code: CodeAlreadyTerminated}
	ErrTimedOut          = &DebugError{Code: CodeTimedOut}
	ErrCrashed           = &DebugError{Code: CodeCrashed}
	ErrResourceExhausted = &DebugError{Code: CodeResourceExhausted}
	ErrBadExpression     = &DebugError{Code: CodeBadExpression}
	ErrBadPath           = &DebugError{Code: CodeBadPath}
	ErrBadLocation       = &DebugError{Code: CodeBadLocation}
	ErrSpawnFailed       = &DebugError{Code: CodeSpawnFailed}
	ErrInvalidParams     = &DebugError{Code: CodeInvalidParams}
	ErrUnknownMethod     = &DebugError{Code: CodeUnknownMethod}
)

// --- Protocol Errors ---

// UnknownMethod creates an error for an unrecognized method or tool name
func UnknownMethod(name string, known []string) *DebugError {
	return &DebugError{
		Code:    CodeUnknownMethod,
		Message: fmt.Sprintf("unknown method: %s", name),
		Hint:    fmt.Sprintf("Recognized tools are: %s.", strings.Join(known, ", ")),
		Details: map[string]interface{}{
			"method": name,
		},
	}
}

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParams,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParams,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Validation Errors ---

// BadPath creates an error for a rejected binary path
func BadPath(path, reason string) *DebugError {
	return &DebugError{
		Code:    CodeBadPath,
		Message: fmt.Sprintf("invalid binary path '%s': %s", path, reason),
		Hint:    "Provide the path of an existing executable file built with debug symbols. Relative paths are resolved against the server's working directory; '..' segments and shell metacharacters are not accepted.",
		Details: map[string]interface{}{
			"path":   path,
			"reason": reason,
		},
	}
}

// BadLocation creates an error for a rejected breakpoint location
func BadLocation(location, reason string) *DebugError {
	return &DebugError{
		Code:    CodeBadLocation,
		Message: fmt.Sprintf("invalid breakpoint location '%s': %s", location, reason),
		Hint:    "Use a function name (e.g. 'main' or 'my_crate::parse') or file:line with a positive line number (e.g. 'src/lib.rs:42').",
		Details: map[string]interface{}{
			"location": location,
			"reason":   reason,
		},
	}
}

// BadExpression creates an error for a rejected expression
func BadExpression(expression, reason string) *DebugError {
	return &DebugError{
		Code:    CodeBadExpression,
		Message: fmt.Sprintf("expression rejected: %s", reason),
		Hint:    "Expressions are evaluated in the debuggee's language only. Debugger commands, shell escapes and multi-line input are not accepted.",
		Details: map[string]interface{}{
			"expression": truncate(expression, 256),
			"reason":     reason,
		},
	}
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	msg := fmt.Sprintf("session '%s' not found", sessionID)
	if sessionID == "" {
		msg = "no debug session has been started"
	}
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: msg,
		Hint:    "Use debug_list_sessions to see active sessions, or use debug_run to create a new session.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// InvalidTransition creates an error for an operation not legal in the current state
func InvalidTransition(sessionID, operation string, state interface{}, hint string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("%s is not allowed while session '%s' is %v", operation, sessionID, state),
		Hint:    hint,
		Details: map[string]interface{}{
			"sessionId": sessionID,
			"operation": operation,
			"state":     fmt.Sprint(state),
		},
	}
}

// AlreadyTerminated creates an error for operations on a finished session
func AlreadyTerminated(sessionID, operation string, state interface{}) *DebugError {
	return &DebugError{
		Code:    CodeAlreadyTerminated,
		Message: fmt.Sprintf("session '%s' has already finished (%v); %s is no longer possible", sessionID, state, operation),
		Hint:    "Use debug_state to read the final status, or debug_run to start a fresh session.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
			"operation": operation,
			"state":     fmt.Sprint(state),
		},
	}
}

// --- Backend Errors ---

// SpawnFailed creates an error when the debugger subprocess cannot be started
func SpawnFailed(backend, path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeSpawnFailed,
		Message: fmt.Sprintf("failed to start %s debugger: %v", backend, err),
		Hint:    "Ensure the debugger is installed and on PATH (LLDB on macOS, GDB on Linux), or set backends.<name>.path in the configuration.",
		Cause:   err,
		Details: map[string]interface{}{
			"backend": backend,
			"path":    path,
		},
	}
}

// TimedOut creates an error for a command that produced no terminal marker in time
func TimedOut(command string, timeoutSeconds float64) *DebugError {
	return &DebugError{
		Code:    CodeTimedOut,
		Message: fmt.Sprintf("debugger command '%s' timed out after %.1f seconds", command, timeoutSeconds),
		Hint:    "The session is still attached. The program may be stuck, in an infinite loop, or waiting for input. Query debug_state, retry, or use debug_terminate.",
		Details: map[string]interface{}{
			"command":        command,
			"timeoutSeconds": timeoutSeconds,
		},
	}
}

// Canceled creates the error for a command whose caller stopped waiting. It
// carries the TIMED_OUT code since the debugger is left running either way.
func Canceled(command string, err error) *DebugError {
	return &DebugError{
		Code:    CodeTimedOut,
		Message: fmt.Sprintf("debugger command '%s' was abandoned: %v", command, err),
		Hint:    "The request was cancelled before the debugger answered. The session is still attached; query debug_state or retry.",
		Cause:   err,
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// Crashed creates an error for a debugger subprocess that died
func Crashed(pid int, err error) *DebugError {
	return &DebugError{
		Code:    CodeCrashed,
		Message: fmt.Sprintf("debugger process %d exited unexpectedly: %v", pid, err),
		Hint:    "The session has moved to the failed state. Start a new session with debug_run.",
		Cause:   err,
		Details: map[string]interface{}{
			"pid": pid,
		},
	}
}

// ParseIncomplete creates the warning attached to results the adapter could not fully parse
func ParseIncomplete(operation string) *DebugError {
	return &DebugError{
		Code:    CodeParseIncomplete,
		Message: fmt.Sprintf("debugger output for %s was not recognized; raw output is included", operation),
		Hint:    "Read raw_output for the debugger's own response.",
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// ResourceExhausted creates an error when the session pool is full
func ResourceExhausted(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeResourceExhausted,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Use debug_terminate to end an existing session before creating a new one.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
		},
	}
}

// --- Helpers ---

// HasCode reports whether err is (or wraps) a DebugError with the given code
func HasCode(err error, code ErrorCode) bool {
	var de *DebugError
	if !stderrors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// KindOf returns the error family of err
func KindOf(err error) Kind {
	var de *DebugError
	if !stderrors.As(err, &de) {
		return KindUnknown
	}
	return de.Kind()
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
