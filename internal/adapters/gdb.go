package adapters

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/go-dap"

	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

// GDBAdapter drives gdb's console interpreter over its stdin/stdout.
// GDB is the default on Linux.
type GDBAdapter struct {
	path string
	args []string
}

// NewGDBAdapter creates a new GDB adapter
func NewGDBAdapter(cfg config.BackendConfig) *GDBAdapter {
	path := cfg.Path
	if path == "" {
		path = "gdb"
	}
	return &GDBAdapter{path: path, args: cfg.Args}
}

// Kind returns the backend family
func (g *GDBAdapter) Kind() types.BackendKind {
	return types.BackendGDB
}

// Executable returns the gdb binary
func (g *GDBAdapter) Executable() string {
	return g.path
}

// SpawnArgs builds the gdb argument vector; the binary is a discrete argument
func (g *GDBAdapter) SpawnArgs(binary string) []string {
	args := []string{"-q", "-nx"}
	args = append(args, g.args...)
	return append(args, "--args", binary)
}

// SetupCommands turn off paging and confirmation and allow pending breakpoints
func (g *GDBAdapter) SetupCommands() []string {
	return []string{
		"set pagination off",
		"set confirm off",
		"set width 0",
		"set height 0",
		"set breakpoint pending on",
		"set print pretty off",
	}
}

// IsPrompt recognizes "(gdb)"
func (g *GDBAdapter) IsPrompt(line string) bool {
	return strings.TrimSpace(line) == "(gdb)"
}

// Render turns an operation into gdb command text
func (g *GDBAdapter) Render(op Op) (string, bool) {
	switch op.Kind {
	case OpLoad:
		return "info files", true
	case OpBreak:
		var cmd string
		if op.Location.IsFunction() {
			cmd = "break " + op.Location.Function
		} else {
			cmd = fmt.Sprintf("break %s:%d", op.Location.File, op.Location.Line)
		}
		if op.Condition != "" {
			cmd += " if " + op.Condition
		}
		return cmd, true
	case OpLaunch:
		return "run", true
	case OpContinue:
		return "continue", true
	case OpStepOver:
		return "next", true
	case OpStepInto:
		return "step", true
	case OpStepOut:
		return "finish", true
	case OpEval:
		// Parentheses keep a leading '-' from being read as a print option
		return "print (" + op.Expression + ")", true
	case OpTypeOf:
		return "whatis (" + op.Expression + ")", true
	case OpBacktrace:
		return "backtrace", true
	case OpFrame:
		return "frame", true
	case OpQuit:
		return "quit", true
	}
	return "", false
}

var (
	gdbBreakpointRe        = regexp.MustCompile(`^Breakpoint (\d+) at (0x[0-9a-fA-F]+)(?:: file (.+), line (\d+)\.|: (.+)\. \(\d+ locations\)|)$`)
	gdbPendingRe           = regexp.MustCompile(`^Breakpoint (\d+) \((.+)\) pending\.$`)
	gdbHitRe               = regexp.MustCompile(`(?:^|hit )Breakpoint (\d+), (?:(0x[0-9a-fA-F]+) in )?(\S+) \((.*?)\)(?: at (\S+):(\d+)| from (\S+))?$`)
	gdbSignalRe            = regexp.MustCompile(`received signal (SIG[A-Z0-9]+), (.+?)\.?$`)
	gdbExitedNormallyRe    = regexp.MustCompile(`^\[Inferior \d+ \(process (\d+)\) exited normally\]$`)
	gdbExitedCodeRe        = regexp.MustCompile(`^\[Inferior \d+ \(process (\d+)\) exited with code ([0-7]+)\]$`)
	gdbTerminatedRe        = regexp.MustCompile(`^Program terminated with signal (SIG[A-Z0-9]+)`)
	gdbNewFrameRe          = regexp.MustCompile(`^(?:(0x[0-9a-fA-F]+) in )?(\S+) \((.*)\) at (\S+):(\d+)$`)
	// frames without line info always carry an address
	gdbAddrFrameRe         = regexp.MustCompile(`^(0x[0-9a-fA-F]+) in (\S+) \((.*?)\)(?: from (\S+))?$`)
	gdbSourceLineRe        = regexp.MustCompile(`^(\d+)\t`)
	gdbFrameRe             = regexp.MustCompile(`^#(\d+)\s+(?:(0x[0-9a-fA-F]+) in )?(\S+) \((.*?)\)(?: at (\S+):(\d+)| from (\S+))?$`)
	gdbValueRe             = regexp.MustCompile(`^\$(\d+) = (.*)$`)
	gdbTypeRe              = regexp.MustCompile(`^type = (.*)$`)
	gdbStartingRe          = regexp.MustCompile(`^Starting program: `)
	gdbReadingSymbolsRe    = regexp.MustCompile(`^Symbols from "(.+)"\.$`)
	gdbNotInExecFormatRe   = regexp.MustCompile(`not in executable format|No such file or directory|No executable file`)
	gdbProcessNotRunningRe = regexp.MustCompile(`^The program is not being run\.$`)
)

// Done reports completion. gdb prints its prompt only once a command,
// including execution control, has finished.
func (g *GDBAdapter) Done(kind OpKind, lines []string) bool {
	return anyPrompt(g, lines)
}

// CanInspect is false; gdb's print already covers frame variables
func (g *GDBAdapter) CanInspect(expr string) bool {
	return false
}

// ParseLoad checks `info files` output
func (g *GDBAdapter) ParseLoad(lines []string) LoadResult {
	res := LoadResult{Result: Result{Raw: joinLines(lines)}}
	for _, line := range outputLines(g, lines) {
		t := strings.TrimSpace(line)
		if gdbReadingSymbolsRe.MatchString(t) || strings.HasPrefix(t, "Local exec file:") {
			res.Complete = true
			res.Loaded = true
			res.Error = ""
			return res
		}
		if gdbNotInExecFormatRe.MatchString(t) {
			res.Complete = true
			res.Error = t
		}
	}
	return res
}

// ParseBreakpoint parses the confirmation of `break`
func (g *GDBAdapter) ParseBreakpoint(lines []string) BreakpointResult {
	res := BreakpointResult{Result: Result{Raw: joinLines(lines)}}
	var lastError string
	for _, line := range outputLines(g, lines) {
		t := strings.TrimSpace(line)
		if m := gdbBreakpointRe.FindStringSubmatch(t); m != nil {
			id, _ := strconv.Atoi(m[1])
			res.Complete = true
			res.Breakpoint.Id = id
			res.Breakpoint.Verified = true
			if m[3] != "" {
				res.Breakpoint.Source = &dap.Source{Path: m[3], Name: baseName(m[3])}
				res.Breakpoint.Line, _ = strconv.Atoi(m[4])
			}
			return res
		}
		if m := gdbPendingRe.FindStringSubmatch(t); m != nil {
			id, _ := strconv.Atoi(m[1])
			res.Complete = true
			res.Breakpoint.Id = id
			res.Breakpoint.Verified = false
			res.Breakpoint.Message = "pending: " + firstNonEmpty(lastError, "location not resolved yet")
			return res
		}
		lastError = t
	}
	if lastError != "" {
		res.Complete = true
		res.Error = lastError
	}
	return res
}

// ParseStop parses the output of run, continue, next, step and finish.
// A breakpoint hit wins over a signal, which wins over a plain step.
func (g *GDBAdapter) ParseStop(kind OpKind, lines []string) StopResult {
	res := StopResult{Result: Result{Raw: joinLines(lines)}}

	var hit, signal, step *dap.StoppedEventBody
	for _, line := range outputLines(g, lines) {
		t := strings.TrimRight(line, " ")

		if m := gdbExitedNormallyRe.FindStringSubmatch(t); m != nil {
			res.PID, _ = strconv.Atoi(m[1])
			res.Exited = &dap.ExitedEventBody{ExitCode: 0}
			res.Complete = true
			return res
		}
		if m := gdbExitedCodeRe.FindStringSubmatch(t); m != nil {
			// gdb prints the exit code in octal
			code, _ := strconv.ParseInt(m[2], 8, 32)
			res.PID, _ = strconv.Atoi(m[1])
			res.Exited = &dap.ExitedEventBody{ExitCode: int(code)}
			res.Complete = true
			return res
		}
		if m := gdbTerminatedRe.FindStringSubmatch(t); m != nil {
			res.Exited = &dap.ExitedEventBody{ExitCode: -1}
			res.Signal = m[1]
			res.Complete = true
			return res
		}
		if m := gdbHitRe.FindStringSubmatch(t); m != nil {
			id, _ := strconv.Atoi(m[1])
			hit = &dap.StoppedEventBody{Reason: ReasonBreakpoint, Description: "breakpoint " + m[1], ThreadId: 1, AllThreadsStopped: true, HitBreakpointIds: []int{id}}
			f := gdbFrame(0, m[2], m[3], m[5], m[6])
			res.Frame = &f
			continue
		}
		if m := gdbSignalRe.FindStringSubmatch(t); m != nil {
			signal = &dap.StoppedEventBody{Reason: ReasonException, Description: m[1], Text: m[2], ThreadId: 1, AllThreadsStopped: true}
			continue
		}
		if strings.HasPrefix(t, "Run till exit from") {
			continue
		}
		if m := gdbNewFrameRe.FindStringSubmatch(t); m != nil {
			if hit == nil {
				f := gdbFrame(0, m[1], m[2], m[4], m[5])
				res.Frame = &f
			}
			if step == nil && kind != OpLaunch && kind != OpContinue {
				step = &dap.StoppedEventBody{Reason: ReasonStep, Description: "step", ThreadId: 1, AllThreadsStopped: true}
			}
			continue
		}
		if m := gdbAddrFrameRe.FindStringSubmatch(t); m != nil {
			if hit == nil {
				f := gdbFrame(0, m[1], m[2], "", "")
				res.Frame = &f
			}
			if step == nil && kind != OpLaunch && kind != OpContinue {
				step = &dap.StoppedEventBody{Reason: ReasonStep, Description: "step", ThreadId: 1, AllThreadsStopped: true}
			}
			continue
		}
		if m := gdbSourceLineRe.FindStringSubmatch(t); m != nil {
			// Same-function steps print only the new source line
			if res.Frame != nil && hit == nil {
				res.Frame.Line, _ = strconv.Atoi(m[1])
			}
			if step == nil && kind != OpLaunch && kind != OpContinue {
				step = &dap.StoppedEventBody{Reason: ReasonStep, Description: "step", ThreadId: 1, AllThreadsStopped: true}
			}
			continue
		}
		if gdbProcessNotRunningRe.MatchString(t) {
			res.Error = t
			res.Complete = true
			continue
		}
		if gdbStartingRe.MatchString(t) || strings.HasPrefix(t, "Continuing.") {
			continue
		}
	}

	switch {
	case hit != nil:
		res.Stopped = hit
	case signal != nil:
		res.Stopped = signal
	case step != nil:
		res.Stopped = step
	}
	if res.Stopped != nil {
		res.Complete = true
	}
	return res
}

func gdbFrame(index int, addr, function, file, line string) dap.StackFrame {
	f := dap.StackFrame{Id: index, Name: function, InstructionPointerReference: addr}
	if file != "" {
		f.Source = &dap.Source{Path: file, Name: baseName(file)}
		f.Line, _ = strconv.Atoi(line)
	}
	return f
}

// ParseEval parses `print` output
func (g *GDBAdapter) ParseEval(lines []string) EvalResult {
	res := EvalResult{Result: Result{Raw: joinLines(lines)}}
	out := outputLines(g, lines)
	for _, line := range out {
		if m := gdbValueRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			res.Complete = true
			res.Variable = dap.Variable{Name: "$" + m[1], Value: m[2]}
			return res
		}
	}
	// gdb reports evaluation problems as a single message line
	if len(out) > 0 {
		res.Complete = true
		res.Error = strings.TrimSpace(out[0])
	}
	return res
}

// ParseType parses `whatis` output
func (g *GDBAdapter) ParseType(lines []string) (string, bool) {
	for _, line := range outputLines(g, lines) {
		if m := gdbTypeRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// ParseFrames parses `backtrace` and `frame`
func (g *GDBAdapter) ParseFrames(lines []string) FramesResult {
	res := FramesResult{Result: Result{Raw: joinLines(lines)}}
	for _, line := range outputLines(g, lines) {
		t := strings.TrimSpace(line)
		m := gdbFrameRe.FindStringSubmatch(t)
		if m == nil {
			if t == "No stack." || t == "No frame selected." {
				res.Complete = true
				res.NoProcess = true
			}
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		f := gdbFrame(idx, m[2], m[3], m[5], m[6])
		if m[7] != "" {
			f.ModuleId = m[7]
		}
		res.Frames = append(res.Frames, f)
		res.Complete = true
	}
	return res
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
