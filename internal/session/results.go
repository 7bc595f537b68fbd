package session

import (
	"github.com/ctagard/dbg-mcp/internal/errors"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

// Evaluation methods reported with an EvalResult
const (
	MethodExpression    = "expression"
	MethodFrameVariable = "frame_variable"
	MethodPrint         = "print"
)

// StopOutcome is where an execution control operation left the program
type StopOutcome struct {
	State    types.SessionState
	Reason   types.StopReason
	Frame    *types.StackFrame
	ExitCode *int
	Signal   string

	// Breakpoint is the breakpoint that was hit, with its updated count
	Breakpoint *types.Breakpoint

	// Frames holds the crash site backtrace after a signal
	Frames []types.StackFrame

	Output   string
	Commands []string
	Warning  *errors.DebugError
}

// BreakResult is the outcome of installing a breakpoint
type BreakResult struct {
	Breakpoint types.Breakpoint
	Output     string
	Commands   []string
	Warning    *errors.DebugError
}

// EvalResult holds either a value or the debugger's evaluation error
type EvalResult struct {
	Variable *types.Variable
	Error    string
	Method   string
	Output   string
	Commands []string
	Warning  *errors.DebugError
}

// BacktraceResult lists the current frames, innermost first
type BacktraceResult struct {
	Frames   []types.StackFrame
	Output   string
	Commands []string
	Warning  *errors.DebugError
}

// Snapshot is the full status of a session
type Snapshot struct {
	types.SessionInfo
	DebuggerPID int
	StopReason  types.StopReason
	Location    string
	Frame       *types.StackFrame
	ExitCode    *int
	Signal      string
	Breakpoints int
}
