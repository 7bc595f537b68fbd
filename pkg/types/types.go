// Package types defines shared data types used across the dbg-mcp server.
//
// This package provides type definitions for:
//   - BackendKind: the native debugger family driving a session (LLDB-style, GDB-style)
//   - SessionState: the lifecycle states of a debugging session
//   - StopReason: why the debuggee last suspended
//   - Breakpoint, StackFrame, Variable: structured results produced from backend text
//   - SessionInfo: the public summary of a session
//
// These types are the only shapes the gateway serializes; raw debugger text
// never leaves the adapter except as an explicitly tagged raw output field.
package types

import (
	"fmt"
	"time"
)

// BackendKind identifies the native debugger command language
type BackendKind string

const (
	BackendLLDB BackendKind = "lldb"
	BackendGDB  BackendKind = "gdb"
)

// ParseBackendKind converts a user supplied name into a BackendKind
func ParseBackendKind(s string) (BackendKind, error) {
	switch s {
	case "lldb":
		return BackendLLDB, nil
	case "gdb":
		return BackendGDB, nil
	}
	return "", fmt.Errorf("unknown backend %q (expected lldb or gdb)", s)
}

// SessionState represents the lifecycle state of a debug session
type SessionState string

const (
	StateUninitialized       SessionState = "uninitialized"
	StateLoaded              SessionState = "loaded"
	StateRunning             SessionState = "running"
	StateStoppedAtBreakpoint SessionState = "stopped_at_breakpoint"
	StateStoppedAfterStep    SessionState = "stopped_after_step"
	StateTerminated          SessionState = "terminated"
	StateFailed              SessionState = "failed"
)

// IsStopped reports whether the debuggee is suspended and inspectable
func (s SessionState) IsStopped() bool {
	return s == StateStoppedAtBreakpoint || s == StateStoppedAfterStep
}

// IsTerminal reports whether the session can no longer run the debuggee
func (s SessionState) IsTerminal() bool {
	return s == StateTerminated || s == StateFailed
}

// StopReason classifies why execution last suspended
type StopReason string

const (
	StopNone       StopReason = ""
	StopBreakpoint StopReason = "breakpoint"
	StopStep       StopReason = "step"
	StopSignal     StopReason = "signal"
	StopExited     StopReason = "exited"
	StopUnknown    StopReason = "unknown"
)

// StepKind selects one of the step variants
type StepKind string

const (
	StepOver StepKind = "over"
	StepInto StepKind = "into"
	StepOut  StepKind = "out"
)

// Breakpoint is a breakpoint owned by a session.
// ID is assigned by the session and never reused; BackendID is whatever
// number the native debugger printed when it accepted the breakpoint.
type Breakpoint struct {
	ID        int    `json:"id"`
	BackendID int    `json:"backend_id,omitempty"`
	Location  string `json:"location"`
	Condition string `json:"condition,omitempty"`
	Enabled   bool   `json:"enabled"`
	Resolved  bool   `json:"resolved"`
	HitCount  int    `json:"hit_count"`
	Message   string `json:"message,omitempty"`
}

// StackFrame represents one frame of the current call stack
type StackFrame struct {
	Index    int    `json:"index"`
	Function string `json:"function"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Address  string `json:"address,omitempty"`
	Module   string `json:"module,omitempty"`
}

// Location renders the frame position as file:line, or the function name when
// no source position is known
func (f *StackFrame) Location() string {
	if f == nil {
		return ""
	}
	if f.File != "" && f.Line > 0 {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return f.Function
}

// Variable represents a value produced by evaluation or a frame dump
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
	Scope string `json:"scope,omitempty"`
}

// SessionInfo represents summary information about a debug session
type SessionInfo struct {
	SessionID  string       `json:"session_id"`
	Backend    BackendKind  `json:"backend"`
	State      SessionState `json:"state"`
	BinaryPath string       `json:"binary_path,omitempty"`
	PID        int          `json:"pid,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}
