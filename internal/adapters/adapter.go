// Package adapters provides backend-specific debugger command sets.
//
// This package defines the Adapter interface that every native debugger
// backend implements, and provides concrete implementations for:
//   - LLDB-style debuggers (lldb)
//   - GDB-style debuggers (gdb)
//
// An adapter renders abstract operations into the exact command text its
// debugger expects and turns the debugger's textual output back into
// structured results. All text pattern matching lives here; callers never
// inspect raw debugger output or branch on backend kind.
//
// Parsed results are expressed with Debug Adapter Protocol types (stopped and
// exited event bodies, breakpoints, stack frames, variables) so that the
// session layer deals with one vocabulary regardless of backend.
package adapters

import (
	"fmt"
	"strings"

	"github.com/google/go-dap"

	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/internal/validate"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

// OpKind enumerates the abstract operations an adapter can render
type OpKind int

const (
	OpStartup OpKind = iota
	OpSetup
	OpLoad
	OpBreak
	OpLaunch
	OpContinue
	OpStepOver
	OpStepInto
	OpStepOut
	OpEval
	OpInspect
	OpTypeOf
	OpBacktrace
	OpFrame
	OpQuit
)

var opNames = map[OpKind]string{
	OpStartup:   "startup",
	OpSetup:     "setup",
	OpLoad:      "load",
	OpBreak:     "break",
	OpLaunch:    "launch",
	OpContinue:  "continue",
	OpStepOver:  "step_over",
	OpStepInto:  "step_into",
	OpStepOut:   "step_out",
	OpEval:      "eval",
	OpInspect:   "inspect",
	OpTypeOf:    "type_of",
	OpBacktrace: "backtrace",
	OpFrame:     "frame",
	OpQuit:      "quit",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Resumes reports whether the operation lets the debuggee run
func (k OpKind) Resumes() bool {
	switch k {
	case OpLaunch, OpContinue, OpStepOver, OpStepInto, OpStepOut:
		return true
	}
	return false
}

// StepOp maps a step kind to its operation
func StepOp(kind types.StepKind) OpKind {
	switch kind {
	case types.StepInto:
		return OpStepInto
	case types.StepOut:
		return OpStepOut
	}
	return OpStepOver
}

// Op is an abstract operation with its validated arguments
type Op struct {
	Kind       OpKind
	Location   validate.Location
	Condition  string
	Expression string
}

// Result is embedded in every parse result. Complete is false when no
// recognized marker was found; Raw always carries the captured text.
type Result struct {
	Complete bool
	Raw      string
}

// LoadResult reports whether the debugger accepted the target binary
type LoadResult struct {
	Result
	Loaded bool
	Error  string
}

// BreakpointResult is the debugger's answer to a breakpoint request.
// Breakpoint.Id is the backend's own number; Verified is false for pending
// breakpoints.
type BreakpointResult struct {
	Result
	Breakpoint dap.Breakpoint
	Error      string
}

// Stop reasons used in StoppedEventBody.Reason
const (
	ReasonBreakpoint = "breakpoint"
	ReasonStep       = "step"
	ReasonException  = "exception"
	ReasonPause      = "pause"
)

// StopResult describes where execution went after a resuming operation.
// Exactly one of Stopped or Exited is set when Complete is true.
type StopResult struct {
	Result
	Stopped *dap.StoppedEventBody
	Exited  *dap.ExitedEventBody
	// Frame is the innermost frame when the stop banner names it
	Frame *dap.StackFrame
	// Signal is set when the debuggee was killed by a signal
	Signal string
	// PID of the debuggee when the output announced it
	PID   int
	Error string
}

// EvalResult is the value of an expression or an evaluation error
type EvalResult struct {
	Result
	Variable dap.Variable
	Error    string
}

// FramesResult is a parsed backtrace
type FramesResult struct {
	Result
	Frames []dap.StackFrame
	// NoProcess is set when the debugger reports there is no stack
	NoProcess bool
}

// Adapter defines the interface for a native debugger backend
type Adapter interface {
	// Kind returns the backend family
	Kind() types.BackendKind

	// Executable returns the debugger program to run
	Executable() string

	// SpawnArgs builds the argument vector for debugging binary
	SpawnArgs(binary string) []string

	// SetupCommands are issued once after startup
	SetupCommands() []string

	// IsPrompt recognizes the debugger prompt
	IsPrompt(line string) bool

	// Render turns an operation into command text. ok is false when the
	// backend has no command for the operation.
	Render(op Op) (command string, ok bool)

	// Done reports whether lines form a complete response to an operation
	Done(kind OpKind, lines []string) bool

	// CanInspect reports whether a failed evaluation of expr may be retried
	// as a frame variable lookup
	CanInspect(expr string) bool

	ParseLoad(lines []string) LoadResult
	ParseBreakpoint(lines []string) BreakpointResult
	ParseStop(kind OpKind, lines []string) StopResult
	ParseEval(lines []string) EvalResult
	ParseType(lines []string) (string, bool)
	ParseFrames(lines []string) FramesResult
}

// Registry holds the configured adapters
type Registry struct {
	adapters map[types.BackendKind]Adapter
	fallback types.BackendKind
}

// NewRegistry creates a new adapter registry with all supported backends
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		adapters: make(map[types.BackendKind]Adapter),
		fallback: types.BackendKind(cfg.PreferredBackend()),
	}
	r.adapters[types.BackendLLDB] = NewLLDBAdapter(cfg.Backends.LLDB)
	r.adapters[types.BackendGDB] = NewGDBAdapter(cfg.Backends.GDB)
	return r
}

// Get returns the adapter for a backend; an empty kind selects the default
func (r *Registry) Get(kind types.BackendKind) (Adapter, error) {
	if kind == "" {
		kind = r.fallback
	}
	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for backend: %s", kind)
	}
	return adapter, nil
}

// Register registers an adapter, overriding any existing one of the same kind
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.Kind()] = adapter
}

// Remove drops a backend, e.g. one that failed detection
func (r *Registry) Remove(kind types.BackendKind) {
	delete(r.adapters, kind)
}

// SetDefault changes the backend used when none is requested
func (r *Registry) SetDefault(kind types.BackendKind) {
	r.fallback = kind
}

// Default returns the backend used when none is requested
func (r *Registry) Default() types.BackendKind {
	return r.fallback
}

// Kinds lists the registered backends
func (r *Registry) Kinds() []types.BackendKind {
	var kinds []types.BackendKind
	for _, k := range []types.BackendKind{types.BackendLLDB, types.BackendGDB} {
		if _, ok := r.adapters[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// --- shared helpers ---

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

func anyPrompt(a Adapter, lines []string) bool {
	for _, l := range lines {
		if a.IsPrompt(l) {
			return true
		}
	}
	return false
}

// outputLines drops prompts and blank lines
func outputLines(a Adapter, lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if a.IsPrompt(l) || strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

// quoteArg quotes s for a debugger command line using double quotes
func quoteArg(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
