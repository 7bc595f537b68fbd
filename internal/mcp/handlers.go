package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/dbg-mcp/internal/errors"
	"github.com/ctagard/dbg-mcp/internal/session"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

// result is the JSON object returned by a successful tool call
type result map[string]interface{}

type toolHandler func(ctx context.Context, request mcp.CallToolRequest) (result, error)

// call routes one tool call: it resolves the handler, reads the shaping
// options, runs the handler and serializes either the shaped result or a
// structured error.
func (s *Server) call(ctx context.Context, request mcp.CallToolRequest) *mcp.CallToolResult {
	name := request.Params.Name
	log := s.log.WithField("tool", name)

	handler, ok := s.handlers[name]
	if !ok {
		return s.fail(name, errors.UnknownMethod(name, s.names))
	}
	shape, err := s.shapingFor(request)
	if err != nil {
		return s.fail(name, err)
	}

	start := time.Now()
	res, err := handler(ctx, request)
	if err != nil {
		return s.fail(name, err)
	}
	res["success"] = true
	res["duration_ms"] = time.Since(start).Milliseconds()

	doc, err := json.Marshal(res)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	if doc, err = shape.apply(doc); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to shape result: %v", err))
	}
	log.Debugf("completed in %s", time.Since(start))
	return mcp.NewToolResultText(string(doc))
}

// fail logs a failed call and renders the error
func (s *Server) fail(tool string, err error) *mcp.CallToolResult {
	de := errors.FromError(err)
	entry := s.log.WithField("tool", tool).WithField("code", de.Code)
	if de.Kind() == errors.KindBackend {
		entry.Warn(de.Message)
	} else {
		entry.Info(de.Message)
	}
	return errorResult(de)
}

// lookup resolves the optional session_id argument
func (s *Server) lookup(request mcp.CallToolRequest) (*session.Session, error) {
	id, err := optionalString(request, "session_id")
	if err != nil {
		return nil, err
	}
	return s.sessions.Get(id)
}

// Session Management Handlers

func (s *Server) handleDebugRun(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	binary, err := requireString(request, "binary_path", "Pass the path of the executable to debug.")
	if err != nil {
		return nil, err
	}
	backendName, err := optionalString(request, "backend")
	if err != nil {
		return nil, err
	}
	var backend types.BackendKind
	if backendName != "" {
		if backend, err = types.ParseBackendKind(backendName); err != nil {
			return nil, errors.InvalidParameter("backend", backendName, "'lldb' or 'gdb'")
		}
	}
	id, err := optionalString(request, "session_id")
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Run(ctx, session.RunRequest{SessionID: id, BinaryPath: binary, Backend: backend})
	if err != nil {
		return nil, err
	}

	res := snapshotResult(sess.Snapshot())
	res["message"] = fmt.Sprintf("Loaded %s with %s. Add breakpoints with debug_break, then start it with debug_continue.", sess.Binary, sess.Backend)
	return res, nil
}

func (s *Server) handleDebugTerminate(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	id, err := optionalString(request, "session_id")
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Terminate(id)
	if err != nil {
		return nil, err
	}
	snap := sess.Snapshot()
	return result{
		"session_id": snap.SessionID,
		"state":      snap.State,
		"message":    "Session terminated. Its final status remains available through debug_state.",
	}, nil
}

func (s *Server) handleDebugListSessions(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	sessions := s.sessions.List()
	return result{
		"sessions": sessions,
		"count":    len(sessions),
	}, nil
}

// Execution Control Handlers

func (s *Server) handleDebugBreak(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	location, err := requireString(request, "location", "Pass a function name such as 'main' or a file:line such as 'src/lib.rs:42'.")
	if err != nil {
		return nil, err
	}
	condition, err := optionalString(request, "condition")
	if err != nil {
		return nil, err
	}
	sess, err := s.lookup(request)
	if err != nil {
		return nil, err
	}

	br, err := sess.Break(ctx, location, condition)
	if err != nil {
		return nil, err
	}

	res := result{
		"session_id": sess.ID,
		"breakpoint": br.Breakpoint,
		"state":      sess.Snapshot().State,
		"output":     br.Output,
		"commands":   br.Commands,
	}
	if !br.Breakpoint.Resolved && br.Warning == nil {
		res["message"] = fmt.Sprintf("Breakpoint %d is pending; it will resolve if %s is loaded later.", br.Breakpoint.ID, br.Breakpoint.Location)
	}
	addWarning(res, br.Warning, br.Output)
	return res, nil
}

func (s *Server) handleDebugContinue(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	sess, err := s.lookup(request)
	if err != nil {
		return nil, err
	}
	out, err := sess.Continue(ctx)
	if err != nil {
		return nil, err
	}
	return outcomeResult(sess.ID, out), nil
}

func (s *Server) handleDebugStep(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	return s.step(ctx, request, types.StepOver)
}

func (s *Server) handleDebugStepInto(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	return s.step(ctx, request, types.StepInto)
}

func (s *Server) handleDebugStepOut(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	return s.step(ctx, request, types.StepOut)
}

func (s *Server) step(ctx context.Context, request mcp.CallToolRequest, kind types.StepKind) (result, error) {
	sess, err := s.lookup(request)
	if err != nil {
		return nil, err
	}
	out, err := sess.Step(ctx, kind)
	if err != nil {
		return nil, err
	}
	return outcomeResult(sess.ID, out), nil
}

// Inspection Handlers

func (s *Server) handleDebugEval(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	expression, err := requireString(request, "expression", "Pass the expression to evaluate, e.g. 'x' or 'point->y'.")
	if err != nil {
		return nil, err
	}
	sess, err := s.lookup(request)
	if err != nil {
		return nil, err
	}

	ev, err := sess.Eval(ctx, expression)
	if err != nil {
		return nil, err
	}

	res := result{
		"session_id": sess.ID,
		"method":     ev.Method,
		"output":     ev.Output,
		"commands":   ev.Commands,
	}
	if ev.Variable != nil {
		res["variable"] = ev.Variable
	}
	if ev.Error != "" {
		res["evaluation_error"] = ev.Error
	}
	addWarning(res, ev.Warning, ev.Output)
	return res, nil
}

func (s *Server) handleDebugBacktrace(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	sess, err := s.lookup(request)
	if err != nil {
		return nil, err
	}
	bt, err := sess.Backtrace(ctx)
	if err != nil {
		return nil, err
	}

	state := sess.Snapshot().State
	res := result{
		"session_id":  sess.ID,
		"state":       state,
		"frames":      bt.Frames,
		"frame_count": len(bt.Frames),
		"output":      bt.Output,
		"commands":    bt.Commands,
	}
	if !state.IsStopped() {
		res["message"] = "The program is not stopped, so there are no frames. Use debug_continue to run it to a breakpoint."
	}
	addWarning(res, bt.Warning, bt.Output)
	return res, nil
}

func (s *Server) handleDebugListBreakpoints(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	sess, err := s.lookup(request)
	if err != nil {
		return nil, err
	}
	bps, err := sess.Breakpoints()
	if err != nil {
		return nil, err
	}
	return result{
		"session_id":  sess.ID,
		"breakpoints": bps,
		"count":       len(bps),
	}, nil
}

func (s *Server) handleDebugState(ctx context.Context, request mcp.CallToolRequest) (result, error) {
	sess, err := s.lookup(request)
	if err != nil {
		return nil, err
	}
	return snapshotResult(sess.Snapshot()), nil
}

// Result builders

func snapshotResult(snap session.Snapshot) result {
	res := result{
		"session_id":       snap.SessionID,
		"state":            snap.State,
		"backend":          snap.Backend,
		"binary_path":      snap.BinaryPath,
		"breakpoint_count": snap.Breakpoints,
		"created_at":       snap.CreatedAt,
	}
	if snap.StopReason != types.StopNone {
		res["stop_reason"] = snap.StopReason
	}
	if snap.ExitCode != nil {
		res["exit_code"] = *snap.ExitCode
	}
	if snap.Signal != "" {
		res["signal"] = snap.Signal
	}
	if snap.PID != 0 {
		res["pid"] = snap.PID
	}
	if snap.DebuggerPID != 0 {
		res["debugger_pid"] = snap.DebuggerPID
	}
	if snap.Frame != nil {
		res["location"] = snap.Location
		res["frame"] = snap.Frame
	}
	return res
}

func outcomeResult(id string, out *session.StopOutcome) result {
	res := result{
		"session_id": id,
		"state":      out.State,
		"output":     out.Output,
		"commands":   out.Commands,
		"message":    describeStop(out),
	}
	if out.Reason != types.StopNone {
		res["stop_reason"] = out.Reason
	}
	if out.ExitCode != nil {
		res["exit_code"] = *out.ExitCode
	}
	if out.Signal != "" {
		res["signal"] = out.Signal
	}
	if out.Frame != nil {
		res["location"] = out.Frame.Location()
		res["frame"] = out.Frame
	}
	if out.Breakpoint != nil {
		res["breakpoint"] = out.Breakpoint
	}
	if len(out.Frames) > 0 {
		res["frames"] = out.Frames
	}
	addWarning(res, out.Warning, out.Output)
	return res
}

func describeStop(out *session.StopOutcome) string {
	switch {
	case out.Warning != nil:
		return "The debugger reply was not recognized; see raw_output. The session state is unchanged."
	case out.State == types.StateTerminated && out.ExitCode != nil:
		return fmt.Sprintf("Program exited with code %d.", *out.ExitCode)
	case out.State == types.StateFailed && out.Signal != "" && out.Frame != nil:
		return fmt.Sprintf("Program received %s at %s. The session has ended; frames hold the crash site.", out.Signal, out.Frame.Location())
	case out.State == types.StateFailed && out.Signal != "":
		return fmt.Sprintf("Program received %s. The session has ended.", out.Signal)
	case out.Breakpoint != nil && out.Frame != nil:
		return fmt.Sprintf("Stopped at breakpoint %d in %s (%s).", out.Breakpoint.ID, out.Frame.Function, out.Frame.Location())
	case out.Frame != nil:
		return fmt.Sprintf("Stopped in %s (%s).", out.Frame.Function, out.Frame.Location())
	}
	return fmt.Sprintf("Session is %s.", out.State)
}

// addWarning attaches a PARSE_INCOMPLETE annotation and the raw debugger text
func addWarning(res result, warning *errors.DebugError, raw string) {
	if warning == nil {
		return
	}
	res["warning"] = errorFields{
		Code:    warning.Code,
		Kind:    warning.Kind(),
		Message: warning.Message,
		Hint:    warning.Hint,
		Details: warning.Details,
	}
	res["raw_output"] = raw
}
