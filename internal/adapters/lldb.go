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

// LLDBAdapter drives the lldb command line driver over its stdin/stdout.
// It supports debugging C, C++, Rust, Objective-C, and Swift.
type LLDBAdapter struct {
	path string
	args []string
}

// NewLLDBAdapter creates a new LLDB adapter
func NewLLDBAdapter(cfg config.BackendConfig) *LLDBAdapter {
	path := cfg.Path
	if path == "" {
		path = "lldb"
	}
	return &LLDBAdapter{path: path, args: cfg.Args}
}

// Kind returns the backend family
func (l *LLDBAdapter) Kind() types.BackendKind {
	return types.BackendLLDB
}

// Executable returns the lldb binary
func (l *LLDBAdapter) Executable() string {
	return l.path
}

// SpawnArgs builds the lldb argument vector; the binary is a discrete argument
func (l *LLDBAdapter) SpawnArgs(binary string) []string {
	args := []string{"--no-use-colors", "--no-lldbinit"}
	args = append(args, l.args...)
	return append(args, "--file", binary)
}

// SetupCommands disables confirmation prompts and disassembly on stop
func (l *LLDBAdapter) SetupCommands() []string {
	return []string{
		"settings set auto-confirm true",
		"settings set stop-disassembly-display never",
	}
}

// IsPrompt recognizes "(lldb)"
func (l *LLDBAdapter) IsPrompt(line string) bool {
	return strings.TrimSpace(line) == "(lldb)"
}

// Render turns an operation into lldb command text
func (l *LLDBAdapter) Render(op Op) (string, bool) {
	switch op.Kind {
	case OpLoad:
		return "target list", true
	case OpBreak:
		var cmd string
		if op.Location.IsFunction() {
			cmd = "breakpoint set --name " + op.Location.Function
		} else {
			cmd = fmt.Sprintf("breakpoint set --file %s --line %d", op.Location.File, op.Location.Line)
		}
		if op.Condition != "" {
			cmd += " --condition " + quoteArg(op.Condition)
		}
		return cmd, true
	case OpLaunch:
		return "process launch", true
	case OpContinue:
		return "process continue", true
	case OpStepOver:
		return "thread step-over", true
	case OpStepInto:
		return "thread step-in", true
	case OpStepOut:
		return "thread step-out", true
	case OpEval:
		return "expression -- " + op.Expression, true
	case OpInspect:
		return "frame variable " + op.Expression, true
	case OpBacktrace:
		return "thread backtrace", true
	case OpFrame:
		return "frame info", true
	case OpQuit:
		return "quit", true
	}
	return "", false
}

var (
	lldbErrorRe        = regexp.MustCompile(`^error: (.*)$`)
	lldbLaunchedRe     = regexp.MustCompile(`^Process (\d+) launched`)
	lldbStoppedRe      = regexp.MustCompile(`^Process (\d+) stopped`)
	lldbExitedRe       = regexp.MustCompile(`^Process (\d+) exited with status = (-?\d+)`)
	lldbStopReasonRe   = regexp.MustCompile(`stop reason = (.*)$`)
	lldbBreakReasonRe  = regexp.MustCompile(`^breakpoint (\d+)(?:\.\d+)?`)
	lldbSignalReasonRe = regexp.MustCompile(`^signal (SIG[A-Z0-9]+)(?::\s*(.*))?`)
	lldbBreakpointRe   = regexp.MustCompile(`^Breakpoint (\d+): (.*)$`)
	lldbWhereAtRe      = regexp.MustCompile(` at ([^\s,:]+):(\d+)(?::\d+)?`)
	lldbFrameRe        = regexp.MustCompile("^\\s*\\*?\\s*frame #(\\d+): (0x[0-9a-fA-F]+)(?: ([^`\\s]+)`(.*?))?(?: at ([^\\s:]+):(\\d+)(?::\\d+)?)?\\s*$")
	lldbValueRe        = regexp.MustCompile(`^\((.*?)\) (\S+) = (.*)$`)
	lldbTargetRe       = regexp.MustCompile(`target #\d+: (\S+)`)
	lldbVarPathRe      = regexp.MustCompile(`^[A-Za-z_]\w*(?:\.[A-Za-z_]\w*|->[A-Za-z_]\w*|\[\d+\])*$`)
	lldbOffsetRe       = regexp.MustCompile(` \+ \d+$`)
)

// Done reports completion. Execution control commands are complete once a
// stop banner with its innermost frame, an exit banner, or an error and a
// prompt have been seen; all other commands end at the prompt. Errors arrive
// on stderr, so they may be captured after the prompt.
func (l *LLDBAdapter) Done(kind OpKind, lines []string) bool {
	if !kind.Resumes() {
		return anyPrompt(l, lines)
	}
	stopped := false
	failed := false
	prompt := false
	for _, line := range lines {
		t := strings.TrimSpace(line)
		switch {
		case lldbExitedRe.MatchString(t):
			return true
		case lldbStopReasonRe.MatchString(t), lldbStoppedRe.MatchString(t):
			stopped = true
		case stopped && lldbFrameRe.MatchString(line):
			return true
		case lldbErrorRe.MatchString(t):
			failed = true
		case l.IsPrompt(t):
			prompt = true
		}
	}
	return failed && prompt
}

// CanInspect reports whether expr is a plain variable path usable with
// `frame variable`
func (l *LLDBAdapter) CanInspect(expr string) bool {
	return lldbVarPathRe.MatchString(expr)
}

// ParseLoad checks `target list` output
func (l *LLDBAdapter) ParseLoad(lines []string) LoadResult {
	res := LoadResult{Result: Result{Raw: joinLines(lines)}}
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if lldbTargetRe.MatchString(t) {
			res.Complete = true
			res.Loaded = true
			return res
		}
		if t == "No targets." {
			res.Complete = true
			res.Error = "no target loaded"
			return res
		}
		if m := lldbErrorRe.FindStringSubmatch(t); m != nil {
			res.Complete = true
			res.Error = m[1]
		}
	}
	return res
}

// ParseBreakpoint parses the confirmation of `breakpoint set`
func (l *LLDBAdapter) ParseBreakpoint(lines []string) BreakpointResult {
	res := BreakpointResult{Result: Result{Raw: joinLines(lines)}}
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if m := lldbBreakpointRe.FindStringSubmatch(t); m != nil {
			id, _ := strconv.Atoi(m[1])
			rest := m[2]
			res.Complete = true
			res.Breakpoint.Id = id
			res.Breakpoint.Verified = !strings.Contains(rest, "no locations")
			if !res.Breakpoint.Verified {
				res.Breakpoint.Message = "pending: no locations resolved yet"
			}
			if w := lldbWhereAtRe.FindStringSubmatch(rest); w != nil {
				res.Breakpoint.Source = &dap.Source{Path: w[1], Name: baseName(w[1])}
				res.Breakpoint.Line, _ = strconv.Atoi(w[2])
			}
			return res
		}
		if m := lldbErrorRe.FindStringSubmatch(t); m != nil {
			res.Complete = true
			res.Error = m[1]
		}
	}
	return res
}

// ParseStop parses the output of launch, continue and step commands.
// A breakpoint stop wins over a signal, which wins over a plain step.
func (l *LLDBAdapter) ParseStop(kind OpKind, lines []string) StopResult {
	res := StopResult{Result: Result{Raw: joinLines(lines)}}

	var reason string
	stopped := false
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if m := lldbLaunchedRe.FindStringSubmatch(t); m != nil {
			res.PID, _ = strconv.Atoi(m[1])
			continue
		}
		if m := lldbExitedRe.FindStringSubmatch(t); m != nil {
			code, _ := strconv.Atoi(m[2])
			res.PID, _ = strconv.Atoi(m[1])
			res.Exited = &dap.ExitedEventBody{ExitCode: code}
			res.Complete = true
			res.Stopped = nil
			return res
		}
		if m := lldbStoppedRe.FindStringSubmatch(t); m != nil {
			res.PID, _ = strconv.Atoi(m[1])
			stopped = true
			continue
		}
		if m := lldbStopReasonRe.FindStringSubmatch(t); m != nil {
			stopped = true
			if reason == "" || reasonRank(classifyLLDBReason(m[1])) > reasonRank(classifyLLDBReason(reason)) {
				reason = m[1]
			}
			continue
		}
		if res.Frame == nil {
			if f, ok := parseLLDBFrame(line); ok && stopped {
				res.Frame = &f
				continue
			}
		}
		if m := lldbErrorRe.FindStringSubmatch(t); m != nil && res.Error == "" {
			res.Error = m[1]
		}
	}

	if !stopped {
		return res
	}

	body := &dap.StoppedEventBody{Reason: classifyLLDBReason(reason), Description: reason, ThreadId: 1, AllThreadsStopped: true}
	switch body.Reason {
	case ReasonBreakpoint:
		m := lldbBreakReasonRe.FindStringSubmatch(reason)
		id, _ := strconv.Atoi(m[1])
		body.HitBreakpointIds = []int{id}
	case ReasonException:
		if m := lldbSignalReasonRe.FindStringSubmatch(reason); m != nil {
			body.Description = m[1]
			body.Text = m[2]
		} else {
			// EXC_BAD_ACCESS (code=1, address=0x0) and friends
			body.Description = reason
			body.Text = reason
		}
	}
	res.Stopped = body
	res.Complete = body.Reason != ReasonPause || res.Frame != nil
	return res
}

func classifyLLDBReason(reason string) string {
	switch {
	case lldbBreakReasonRe.MatchString(reason):
		return ReasonBreakpoint
	case strings.HasPrefix(reason, "signal "), strings.HasPrefix(reason, "EXC_"), strings.HasPrefix(reason, "exception"):
		return ReasonException
	case strings.HasPrefix(reason, "step "), strings.HasPrefix(reason, "instruction step"), strings.HasPrefix(reason, "trace"):
		return ReasonStep
	}
	return ReasonPause
}

func reasonRank(reason string) int {
	switch reason {
	case ReasonBreakpoint:
		return 3
	case ReasonException:
		return 2
	case ReasonStep:
		return 1
	}
	return 0
}

// parseLLDBFrame parses `frame #0: 0x... module`function + 12 at file.c:5:3`
func parseLLDBFrame(line string) (dap.StackFrame, bool) {
	m := lldbFrameRe.FindStringSubmatch(line)
	if m == nil {
		return dap.StackFrame{}, false
	}
	idx, _ := strconv.Atoi(m[1])
	f := dap.StackFrame{
		Id:                          idx,
		InstructionPointerReference: m[2],
		Name:                        cleanFunction(lldbOffsetRe.ReplaceAllString(m[4], "")),
	}
	if m[3] != "" {
		f.ModuleId = m[3]
	}
	if f.Name == "" {
		f.Name = m[2]
	}
	if m[5] != "" {
		f.Source = &dap.Source{Path: m[5], Name: baseName(m[5])}
		f.Line, _ = strconv.Atoi(m[6])
	}
	return f, true
}

// ParseEval parses `expression` and `frame variable` output
func (l *LLDBAdapter) ParseEval(lines []string) EvalResult {
	res := EvalResult{Result: Result{Raw: joinLines(lines)}}
	out := outputLines(l, lines)
	for i, line := range out {
		t := strings.TrimSpace(line)
		if m := lldbErrorRe.FindStringSubmatch(t); m != nil {
			res.Complete = true
			if res.Error == "" {
				res.Error = m[1]
			}
			continue
		}
		m := lldbValueRe.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		value := m[3]
		// Aggregates continue until the closing brace
		if strings.HasSuffix(value, "{") {
			var sb strings.Builder
			sb.WriteString(value)
			for _, next := range out[i+1:] {
				sb.WriteString(" ")
				sb.WriteString(strings.TrimSpace(next))
				if strings.TrimSpace(next) == "}" {
					break
				}
			}
			value = sb.String()
		}
		res.Complete = true
		res.Error = ""
		res.Variable = dap.Variable{Name: m[2], Type: m[1], Value: value}
		return res
	}
	return res
}

// ParseType is not used for lldb; types come with the value
func (l *LLDBAdapter) ParseType(lines []string) (string, bool) {
	return "", false
}

// ParseFrames parses `thread backtrace`
func (l *LLDBAdapter) ParseFrames(lines []string) FramesResult {
	res := FramesResult{Result: Result{Raw: joinLines(lines)}}
	for _, line := range lines {
		if f, ok := parseLLDBFrame(line); ok {
			res.Frames = append(res.Frames, f)
			res.Complete = true
			continue
		}
		t := strings.TrimSpace(line)
		if m := lldbErrorRe.FindStringSubmatch(t); m != nil {
			// "error: invalid process", "error: Command requires a current process."
			res.Complete = true
			res.NoProcess = true
		}
	}
	return res
}

// cleanFunction strips the argument list lldb appends to function names
func cleanFunction(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(name, ")") {
		depth := 0
		for i := len(name) - 1; i >= 0; i-- {
			switch name[i] {
			case ')':
				depth++
			case '(':
				depth--
				if depth == 0 && i > 0 {
					return name[:i]
				}
			}
		}
	}
	return name
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
