// Package session implements the debugging session state machine and the
// process-wide registry of sessions.
//
// A Session owns one debugger subprocess. Every operation validates its
// input, takes the session's FIFO operation lock, checks that the operation
// is legal in the current state, renders a command through the backend
// adapter, runs it on the supervisor and folds the parsed result back into
// the session's state. Terminal states are sticky: once a session is
// Terminated or Failed nothing moves it back.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ctagard/dbg-mcp/internal/adapters"
	"github.com/ctagard/dbg-mcp/internal/errors"
	"github.com/ctagard/dbg-mcp/internal/logflags"
	"github.com/ctagard/dbg-mcp/internal/supervisor"
	"github.com/ctagard/dbg-mcp/internal/validate"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

// Timeouts bound the debugger commands a session issues
type Timeouts struct {
	Command time.Duration
	Startup time.Duration
	Hard    time.Duration
}

// Session represents one debugging target and its debugger subprocess
type Session struct {
	ID        string
	Backend   types.BackendKind
	Binary    string
	CreatedAt time.Time

	adapter   adapters.Adapter
	validator *validate.Validator
	timeouts  Timeouts
	log       *logrus.Entry

	proc         *supervisor.Process
	release      func()
	shutdownOnce sync.Once

	op *opLock

	mu          sync.Mutex
	state       types.SessionState
	breakpoints []*types.Breakpoint
	nextBPID    int
	frame       *types.StackFrame
	stopReason  types.StopReason
	exitCode    *int
	signal      string
	pid         int
	lastActive  time.Time
	killed      bool
}

func newSession(id string, adapter adapters.Adapter, binary string, v *validate.Validator, t Timeouts, release func()) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Backend:   adapter.Kind(),
		Binary:    binary,
		CreatedAt: now,
		adapter:   adapter,
		validator: v,
		timeouts:  t,
		log:       logflags.SessionLogger().WithField("session", id).WithField("backend", adapter.Kind()),
		release:   release,
		op:        newOpLock(),
		state:     types.StateUninitialized,
		nextBPID:  1,
		// lastActive is set when the session is registered
		lastActive: now,
	}
}

// start spawns the debugger, applies the setup commands and checks that the
// binary was loaded. On success the session is Loaded.
func (s *Session) start(ctx context.Context) error {
	quit, _ := s.adapter.Render(adapters.Op{Kind: adapters.OpQuit})
	proc, err := supervisor.Start(supervisor.Spec{
		Path:        s.adapter.Executable(),
		Args:        s.adapter.SpawnArgs(s.Binary),
		IsPrompt:    s.adapter.IsPrompt,
		QuitCommand: quit,
		HardTimeout: s.timeouts.Hard,
		Log:         s.log,
	})
	if err != nil {
		return errors.SpawnFailed(string(s.Backend), s.adapter.Executable(), err)
	}
	s.proc = proc
	s.log = s.log.WithField("pid", proc.PID())

	capture, err := proc.Await(ctx, s.timeouts.Startup, s.doneFor(adapters.OpStartup))
	if err != nil {
		return errors.SpawnFailed(string(s.Backend), s.adapter.Executable(), err).WithOutput(capture.Text())
	}

	for _, cmd := range s.adapter.SetupCommands() {
		if capture, err = proc.Exec(ctx, cmd, s.timeouts.Command, s.doneFor(adapters.OpSetup)); err != nil {
			return errors.SpawnFailed(string(s.Backend), s.adapter.Executable(), err).WithOutput(capture.Text())
		}
	}

	cmd, _ := s.adapter.Render(adapters.Op{Kind: adapters.OpLoad})
	capture, err = proc.Exec(ctx, cmd, s.timeouts.Command, s.doneFor(adapters.OpLoad))
	if err != nil {
		return errors.SpawnFailed(string(s.Backend), s.adapter.Executable(), err).WithOutput(capture.Text())
	}
	if res := s.adapter.ParseLoad(capture.Texts()); !res.Loaded {
		reason := res.Error
		if reason == "" {
			reason = "the debugger did not report a loaded target"
		}
		return errors.SpawnFailed(string(s.Backend), s.adapter.Executable(), fmt.Errorf("cannot load %s: %s", s.Binary, reason)).
			WithDetails("binary", s.Binary).
			WithOutput(res.Raw)
	}

	s.mu.Lock()
	s.state = types.StateLoaded
	s.mu.Unlock()
	s.log.Infof("loaded %s", s.Binary)

	go s.watch()
	return nil
}

// watch fails the session when the debugger exits on its own, including a
// kill by the hard-timeout watchdog, and releases its pool slot.
func (s *Session) watch() {
	<-s.proc.Exited()

	s.mu.Lock()
	failed := !s.killed && !s.state.IsTerminal()
	if failed {
		s.state = types.StateFailed
	}
	s.mu.Unlock()

	if failed {
		if s.proc.HardKilled() {
			s.log.Warnf("debugger killed after no prompt for %s", s.timeouts.Hard)
		} else {
			s.log.Warn("debugger exited unexpectedly")
		}
	}
	s.shutdown()
}

func (s *Session) doneFor(kind adapters.OpKind) supervisor.DoneFunc {
	return func(lines []string) bool {
		return s.adapter.Done(kind, lines)
	}
}

// shutdown ends the subprocess and returns the pool slot exactly once
func (s *Session) shutdown() {
	s.shutdownOnce.Do(func() {
		if s.proc != nil {
			if err := s.proc.Close(); err != nil {
				s.log.Warnf("failed to stop debugger: %v (continuing cleanup)", err)
			}
		}
		if s.release != nil {
			s.release()
		}
		s.log.Debug("debugger released")
	})
}

// setState moves to a new state unless the session is already terminal
func (s *Session) setState(state types.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.state = state
}

func (s *Session) currentState() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// requireState fails unless the session is in one of the allowed states
func (s *Session) requireState(operation string, allowed func(types.SessionState) bool, hint string) (types.SessionState, error) {
	state := s.currentState()
	if state.IsTerminal() {
		return state, errors.AlreadyTerminated(s.ID, operation, state)
	}
	if !allowed(state) {
		return state, errors.InvalidTransition(s.ID, operation, state, hint)
	}
	return state, nil
}

func loadedOrStopped(state types.SessionState) bool {
	return state == types.StateLoaded || state.IsStopped()
}

// exec renders op and runs it on the debugger. A debugger that died is
// folded into the Failed state before the error is returned.
func (s *Session) exec(ctx context.Context, operation string, op adapters.Op) (*supervisor.Capture, error) {
	cmd, ok := s.adapter.Render(op)
	if !ok {
		return nil, fmt.Errorf("%s backend has no command for %s", s.Backend, op.Kind)
	}

	capture, err := s.proc.Exec(ctx, cmd, s.timeouts.Command, s.doneFor(op.Kind))
	if err == nil {
		return capture, nil
	}

	if errors.HasCode(err, errors.CodeCrashed) {
		s.mu.Lock()
		killed := s.killed
		if !s.state.IsTerminal() {
			s.state = types.StateFailed
		}
		state := s.state
		s.mu.Unlock()
		s.shutdown()

		if killed {
			return capture, errors.AlreadyTerminated(s.ID, operation, state)
		}
		s.log.Warnf("debugger died during %s: %v", operation, err)
	}
	if de, ok := err.(*errors.DebugError); ok {
		de.WithDetails("sessionId", s.ID)
	}
	return capture, err
}

// Break installs a breakpoint. The breakpoint is recorded even when the
// debugger leaves it pending or its reply is not recognized.
func (s *Session) Break(ctx context.Context, location, condition string) (*BreakResult, error) {
	loc, err := s.validator.Location(location)
	if err != nil {
		return nil, err
	}
	cond, err := s.validator.Condition(condition)
	if err != nil {
		return nil, err
	}

	s.op.Lock()
	defer s.op.Unlock()
	s.touch()

	if _, err := s.requireState("debug_break", loadedOrStopped, "Wait for the current operation to finish."); err != nil {
		return nil, err
	}

	s.mu.Lock()
	id := s.nextBPID
	s.nextBPID++
	s.mu.Unlock()

	capture, err := s.exec(ctx, "debug_break", adapters.Op{Kind: adapters.OpBreak, Location: loc, Condition: cond})
	if err != nil {
		return nil, err
	}

	res := s.adapter.ParseBreakpoint(capture.Texts())
	bp := &types.Breakpoint{
		ID:        id,
		Location:  loc.String(),
		Condition: cond,
		Enabled:   true,
	}
	result := &BreakResult{Output: capture.Text(), Commands: []string{capture.Command}}
	switch {
	case !res.Complete:
		bp.Message = "debugger reply not recognized"
		result.Warning = errors.ParseIncomplete("debug_break")
	case res.Error != "":
		bp.Message = res.Error
	default:
		bp.BackendID = res.Breakpoint.Id
		bp.Resolved = res.Breakpoint.Verified
		bp.Message = res.Breakpoint.Message
	}

	s.mu.Lock()
	s.breakpoints = append(s.breakpoints, bp)
	result.Breakpoint = *bp
	s.mu.Unlock()

	s.log.WithField("breakpoint", id).Debugf("breakpoint at %s (backend id %d, resolved %v)", bp.Location, bp.BackendID, bp.Resolved)
	return result, nil
}

// Continue runs to the next stop. The first call from Loaded launches the
// program.
func (s *Session) Continue(ctx context.Context) (*StopOutcome, error) {
	s.op.Lock()
	defer s.op.Unlock()
	s.touch()

	prev, err := s.requireState("debug_continue", loadedOrStopped, "Wait for the current operation to finish.")
	if err != nil {
		return nil, err
	}
	kind := adapters.OpContinue
	if prev == types.StateLoaded {
		kind = adapters.OpLaunch
	}
	return s.resume(ctx, "debug_continue", kind, prev)
}

// Step executes one step of the given kind from a stopped state
func (s *Session) Step(ctx context.Context, kind types.StepKind) (*StopOutcome, error) {
	operation := "debug_step"
	switch kind {
	case types.StepInto:
		operation = "debug_step_into"
	case types.StepOut:
		operation = "debug_step_out"
	}

	s.op.Lock()
	defer s.op.Unlock()
	s.touch()

	prev, err := s.requireState(operation, types.SessionState.IsStopped, "The program is not running yet. Use debug_continue to start it.")
	if err != nil {
		return nil, err
	}
	return s.resume(ctx, operation, adapters.StepOp(kind), prev)
}

// resume issues an execution control command and applies where it ended.
// Errors other than a crash leave the state as it was before the call.
func (s *Session) resume(ctx context.Context, operation string, kind adapters.OpKind, prev types.SessionState) (*StopOutcome, error) {
	s.setState(types.StateRunning)

	capture, err := s.exec(ctx, operation, adapters.Op{Kind: kind})
	if err != nil {
		s.restore(prev)
		return nil, err
	}

	res := s.adapter.ParseStop(kind, capture.Texts())
	outcome := &StopOutcome{Output: capture.Text(), Commands: []string{capture.Command}}

	switch {
	case res.Exited != nil:
		s.mu.Lock()
		code := res.Exited.ExitCode
		s.exitCode = &code
		s.frame = nil
		if res.Signal != "" {
			s.state = types.StateFailed
			s.stopReason = types.StopSignal
			s.signal = res.Signal
		} else {
			s.state = types.StateTerminated
			s.stopReason = types.StopExited
		}
		if res.PID != 0 {
			s.pid = res.PID
		}
		s.mu.Unlock()
		s.shutdown()

	case res.Stopped != nil:
		s.applyStop(ctx, operation, res, outcome)

	default:
		s.restore(prev)
		warning := errors.ParseIncomplete(operation)
		if res.Error != "" {
			warning.WithDetails("debuggerError", res.Error)
		}
		outcome.Warning = warning
	}

	s.fillOutcome(outcome)
	s.log.Debugf("%s ended in %s", operation, outcome.State)
	return outcome, nil
}

// applyStop records a stop. A signal stop is terminal: the crash site is
// captured with a backtrace before the debugger is released.
func (s *Session) applyStop(ctx context.Context, operation string, res adapters.StopResult, outcome *StopOutcome) {
	reason := stopReason(res.Stopped)

	var frame *types.StackFrame
	if res.Frame != nil {
		f := frameFromDAP(*res.Frame)
		frame = &f
	} else if f, ok := s.topFrame(ctx, operation, outcome); ok {
		frame = &f
	}

	if reason == types.StopSignal {
		if frames, ok := s.backtrace(ctx, operation, outcome); ok {
			outcome.Frames = frames
		}
	}

	s.mu.Lock()
	if res.PID != 0 {
		s.pid = res.PID
	}
	if frame != nil {
		s.frame = frame
	}
	s.stopReason = reason
	switch reason {
	case types.StopBreakpoint:
		s.state = types.StateStoppedAtBreakpoint
		for _, bp := range s.breakpoints {
			for _, hit := range res.Stopped.HitBreakpointIds {
				if bp.BackendID != 0 && bp.BackendID == hit {
					bp.HitCount++
					// a breakpoint the debugger reports hitting is resolved
					bp.Resolved = true
					hitCopy := *bp
					outcome.Breakpoint = &hitCopy
				}
			}
		}
	case types.StopSignal:
		s.state = types.StateFailed
		s.signal = res.Stopped.Description
	default:
		s.state = types.StateStoppedAfterStep
	}
	terminal := s.state.IsTerminal()
	s.mu.Unlock()

	if terminal {
		s.shutdown()
	}
}

// topFrame asks the debugger for the current frame
func (s *Session) topFrame(ctx context.Context, operation string, outcome *StopOutcome) (types.StackFrame, bool) {
	capture, err := s.exec(ctx, operation, adapters.Op{Kind: adapters.OpFrame})
	if err != nil {
		return types.StackFrame{}, false
	}
	outcome.Commands = append(outcome.Commands, capture.Command)
	res := s.adapter.ParseFrames(capture.Texts())
	if len(res.Frames) == 0 {
		return types.StackFrame{}, false
	}
	return frameFromDAP(res.Frames[0]), true
}

func (s *Session) backtrace(ctx context.Context, operation string, outcome *StopOutcome) ([]types.StackFrame, bool) {
	capture, err := s.exec(ctx, operation, adapters.Op{Kind: adapters.OpBacktrace})
	if err != nil {
		return nil, false
	}
	outcome.Commands = append(outcome.Commands, capture.Command)
	res := s.adapter.ParseFrames(capture.Texts())
	if !res.Complete || res.NoProcess {
		return nil, false
	}
	return framesFromDAP(res.Frames), true
}

// restore undoes the transient Running state
func (s *Session) restore(prev types.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.StateRunning {
		s.state = prev
	}
}

func (s *Session) fillOutcome(o *StopOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.State = s.state
	o.Reason = s.stopReason
	o.Signal = s.signal
	if s.exitCode != nil {
		code := *s.exitCode
		o.ExitCode = &code
	}
	if s.frame != nil {
		f := *s.frame
		o.Frame = &f
	}
}

// Eval evaluates an expression in the current frame. A debugger-side
// evaluation error is part of the result, not a failure of the call.
func (s *Session) Eval(ctx context.Context, expression string) (*EvalResult, error) {
	expr, err := s.validator.Expression(expression)
	if err != nil {
		return nil, err
	}

	s.op.Lock()
	defer s.op.Unlock()
	s.touch()

	if _, err := s.requireState("debug_eval", loadedOrStopped, "Wait for the current operation to finish."); err != nil {
		return nil, err
	}

	capture, err := s.exec(ctx, "debug_eval", adapters.Op{Kind: adapters.OpEval, Expression: expr})
	if err != nil {
		return nil, err
	}
	res := s.adapter.ParseEval(capture.Texts())
	result := &EvalResult{Method: MethodExpression, Output: capture.Text(), Commands: []string{capture.Command}}
	if s.Backend == types.BackendGDB {
		result.Method = MethodPrint
	}

	// lldb's expression evaluator rejects some variables frame variable can read
	if res.Error != "" && s.adapter.CanInspect(expr) {
		if c, err := s.exec(ctx, "debug_eval", adapters.Op{Kind: adapters.OpInspect, Expression: expr}); err == nil {
			result.Commands = append(result.Commands, c.Command)
			if alt := s.adapter.ParseEval(c.Texts()); alt.Complete && alt.Error == "" {
				res = alt
				result.Method = MethodFrameVariable
				result.Output = c.Text()
			}
		} else if !errors.HasCode(err, errors.CodeTimedOut) {
			return nil, err
		}
	}

	switch {
	case !res.Complete:
		result.Warning = errors.ParseIncomplete("debug_eval")
		return result, nil
	case res.Error != "":
		result.Error = res.Error
		return result, nil
	}

	scope := "expression"
	if result.Method == MethodFrameVariable {
		scope = "frame"
	}
	v := variableFromDAP(expr, res.Variable, scope)

	if v.Type == "" {
		if _, ok := s.adapter.Render(adapters.Op{Kind: adapters.OpTypeOf, Expression: expr}); ok {
			c, err := s.exec(ctx, "debug_eval", adapters.Op{Kind: adapters.OpTypeOf, Expression: expr})
			if err != nil && !errors.HasCode(err, errors.CodeTimedOut) {
				return nil, err
			}
			if err == nil {
				result.Commands = append(result.Commands, c.Command)
				if typ, ok := s.adapter.ParseType(c.Texts()); ok {
					v.Type = typ
				}
			}
		}
	}
	result.Variable = &v
	return result, nil
}

// Backtrace lists the frames of the stopped program. A program that has not
// been started has no frames.
func (s *Session) Backtrace(ctx context.Context) (*BacktraceResult, error) {
	s.op.Lock()
	defer s.op.Unlock()
	s.touch()

	state, err := s.requireState("debug_backtrace", func(types.SessionState) bool { return true }, "")
	if err != nil {
		return nil, err
	}
	result := &BacktraceResult{Frames: []types.StackFrame{}}
	if !state.IsStopped() {
		return result, nil
	}

	capture, err := s.exec(ctx, "debug_backtrace", adapters.Op{Kind: adapters.OpBacktrace})
	if err != nil {
		return nil, err
	}
	res := s.adapter.ParseFrames(capture.Texts())
	result.Output = capture.Text()
	result.Commands = []string{capture.Command}
	if !res.Complete {
		result.Warning = errors.ParseIncomplete("debug_backtrace")
		return result, nil
	}
	if !res.NoProcess {
		result.Frames = framesFromDAP(res.Frames)
	}
	return result, nil
}

// Breakpoints returns the session's breakpoints in creation order
func (s *Session) Breakpoints() ([]types.Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return nil, errors.AlreadyTerminated(s.ID, "debug_list_breakpoints", s.state)
	}
	out := make([]types.Breakpoint, len(s.breakpoints))
	for i, bp := range s.breakpoints {
		out[i] = *bp
	}
	return out, nil
}

// Snapshot reports the session status; it is available in every state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionInfo: s.infoLocked(),
		StopReason:  s.stopReason,
		Signal:      s.signal,
		Breakpoints: len(s.breakpoints),
	}
	if s.proc != nil {
		snap.DebuggerPID = s.proc.PID()
	}
	if s.frame != nil {
		f := *s.frame
		snap.Frame = &f
		snap.Location = f.Location()
	}
	if s.exitCode != nil {
		code := *s.exitCode
		snap.ExitCode = &code
	}
	return snap
}

// Info returns the public summary of the session
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() types.SessionInfo {
	return types.SessionInfo{
		SessionID:  s.ID,
		Backend:    s.Backend,
		State:      s.state,
		BinaryPath: s.Binary,
		PID:        s.pid,
		CreatedAt:  s.CreatedAt,
	}
}

// Terminate kills the debugger without waiting for an in-flight operation.
// The session stays queryable in the Terminated state.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.state.IsTerminal() {
		s.mu.Unlock()
		s.shutdown()
		return
	}
	s.killed = true
	s.state = types.StateTerminated
	s.mu.Unlock()

	s.log.Info("terminating session")
	s.shutdown()
}

// Writes returns every command written to the debugger
func (s *Session) Writes() []string {
	if s.proc == nil {
		return nil
	}
	return s.proc.Writes()
}
