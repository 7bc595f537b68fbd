package mcp

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tidwall/gjson"

	"github.com/ctagard/dbg-mcp/internal/adapters"
	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/internal/testutil/fakedbg"
)

func TestMain(m *testing.M) {
	fakedbg.Main()
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, mode string) (*Server, string) {
	t.Helper()
	debugger, binary := fakedbg.Setup(t, mode)

	cfg := config.DefaultConfig()
	cfg.Backends.LLDB.Path = debugger
	cfg.Backends.GDB.Path = debugger
	cfg.DefaultBackend = "lldb"
	cfg.CommandTimeout = config.Duration(5 * time.Second)
	cfg.SessionTimeout = 0

	s := NewServer(cfg, adapters.NewRegistry(cfg))
	t.Cleanup(s.Close)
	return s, binary
}

// callTool invokes a tool through the dispatcher and parses the text result
func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) (gjson.Result, bool) {
	t.Helper()
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	res := s.call(context.Background(), request)
	if len(res.Content) != 1 {
		t.Fatalf("%s: expected one content item, got %d", name, len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("%s: expected text content, got %T", name, res.Content[0])
	}
	if !gjson.Valid(text.Text) {
		t.Fatalf("%s: result is not JSON: %s", name, text.Text)
	}
	return gjson.Parse(text.Text), res.IsError
}

func mustCall(t *testing.T, s *Server, name string, args map[string]interface{}) gjson.Result {
	t.Helper()
	res, isErr := callTool(t, s, name, args)
	if isErr {
		t.Fatalf("%s failed: %s", name, res.Raw)
	}
	if !res.Get("success").Bool() {
		t.Fatalf("%s: expected success, got %s", name, res.Raw)
	}
	return res
}

func expectError(t *testing.T, s *Server, name string, args map[string]interface{}, code string) gjson.Result {
	t.Helper()
	res, isErr := callTool(t, s, name, args)
	if !isErr {
		t.Fatalf("%s: expected error %s, got %s", name, code, res.Raw)
	}
	if got := res.Get("error.code").String(); got != code {
		t.Fatalf("%s: expected %s, got %s (%s)", name, code, got, res.Raw)
	}
	return res.Get("error")
}

// TestScenario_RunBreakContinueState drives the main scenario through the gateway
func TestScenario_RunBreakContinueState(t *testing.T) {
	s, binary := newTestServer(t, "lldb")

	run := mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary})
	id := run.Get("session_id").String()
	if id == "" || run.Get("state").String() != "loaded" || run.Get("backend").String() != "lldb" {
		t.Fatalf("unexpected run result %s", run.Raw)
	}

	bp := mustCall(t, s, "debug_break", map[string]interface{}{"location": "main"})
	if bp.Get("breakpoint.id").Int() != 1 || !bp.Get("breakpoint.enabled").Bool() {
		t.Errorf("unexpected breakpoint %s", bp.Raw)
	}

	cont := mustCall(t, s, "debug_continue", map[string]interface{}{"session_id": id})
	if cont.Get("state").String() != "stopped_at_breakpoint" || cont.Get("stop_reason").String() != "breakpoint" {
		t.Fatalf("unexpected continue result %s", cont.Raw)
	}
	if cont.Get("breakpoint.hit_count").Int() != 1 {
		t.Errorf("expected hit count 1, got %s", cont.Get("breakpoint").Raw)
	}

	state := mustCall(t, s, "debug_state", nil)
	if state.Get("state").String() != "stopped_at_breakpoint" {
		t.Errorf("expected stopped_at_breakpoint, got %s", state.Raw)
	}
	if state.Get("frame.function").String() != "main" || state.Get("location").String() != "sample.c:5" {
		t.Errorf("unexpected location %s", state.Raw)
	}
	if state.Get("binary_path").String() != binary {
		t.Errorf("expected binary_path %s, got %s", binary, state.Get("binary_path").String())
	}

	ev := mustCall(t, s, "debug_eval", map[string]interface{}{"expression": "x"})
	if ev.Get("variable.value").String() != "42" || ev.Get("variable.type").String() != "int" {
		t.Errorf("unexpected eval %s", ev.Raw)
	}

	bt := mustCall(t, s, "debug_backtrace", nil)
	if bt.Get("frame_count").Int() != 1 || bt.Get("frames.0.function").String() != "main" {
		t.Errorf("unexpected backtrace %s", bt.Raw)
	}
}

// TestBreakpointListing verifies ids and the location round-trip
func TestBreakpointListing(t *testing.T) {
	s, binary := newTestServer(t, "gdb")
	mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary, "backend": "gdb"})

	mustCall(t, s, "debug_break", map[string]interface{}{"location": "main"})
	pending := mustCall(t, s, "debug_break", map[string]interface{}{"location": "src/lib.rs:42"})
	if pending.Get("breakpoint.resolved").Bool() || pending.Get("message").String() == "" {
		t.Errorf("expected a pending breakpoint with a message, got %s", pending.Raw)
	}

	first := mustCall(t, s, "debug_list_breakpoints", nil)
	second := mustCall(t, s, "debug_list_breakpoints", nil)
	if first.Get("breakpoints").Raw != second.Get("breakpoints").Raw {
		t.Errorf("listings differ:\n%s\n%s", first.Get("breakpoints").Raw, second.Get("breakpoints").Raw)
	}
	if first.Get("count").Int() != 2 {
		t.Fatalf("expected 2 breakpoints, got %s", first.Raw)
	}
	bp := first.Get("breakpoints.1")
	if bp.Get("id").Int() != 2 || bp.Get("location").String() != "src/lib.rs:42" || !bp.Get("enabled").Bool() {
		t.Errorf("unexpected round-trip %s", bp.Raw)
	}
}

// TestInvalidParams verifies missing and mistyped arguments
func TestInvalidParams(t *testing.T) {
	s, binary := newTestServer(t, "lldb")

	e := expectError(t, s, "debug_run", map[string]interface{}{}, "INVALID_PARAMS")
	if e.Get("details.parameter").String() != "binary_path" || e.Get("kind").String() != "ProtocolError" {
		t.Errorf("unexpected error %s", e.Raw)
	}

	e = expectError(t, s, "debug_run", map[string]interface{}{"binary_path": binary, "backend": "windbg"}, "INVALID_PARAMS")
	if e.Get("details.parameter").String() != "backend" {
		t.Errorf("unexpected error %s", e.Raw)
	}

	mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary})
	e = expectError(t, s, "debug_eval", map[string]interface{}{"expression": 5}, "INVALID_PARAMS")
	if e.Get("details.parameter").String() != "expression" {
		t.Errorf("unexpected error %s", e.Raw)
	}
	expectError(t, s, "debug_break", nil, "INVALID_PARAMS")
	expectError(t, s, "debug_state", map[string]interface{}{"verbosity": "loud"}, "INVALID_PARAMS")
	expectError(t, s, "debug_state", map[string]interface{}{"focus_areas": []interface{}{"memory"}}, "INVALID_PARAMS")
}

// TestUnknownTool verifies the dispatcher rejects unregistered names
func TestUnknownTool(t *testing.T) {
	s, _ := newTestServer(t, "lldb")
	e := expectError(t, s, "debug_frobnicate", nil, "UNKNOWN_METHOD")
	if e.Get("kind").String() != "ProtocolError" || e.Get("details.method").String() != "debug_frobnicate" {
		t.Errorf("unexpected error %s", e.Raw)
	}
}

// TestValidationErrors verifies rejected inputs carry the validation kind
func TestValidationErrors(t *testing.T) {
	s, binary := newTestServer(t, "lldb")

	e := expectError(t, s, "debug_run", map[string]interface{}{"binary_path": "../../etc/passwd"}, "BAD_PATH")
	if e.Get("kind").String() != "ValidationError" {
		t.Errorf("unexpected kind %s", e.Raw)
	}

	mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary})
	expectError(t, s, "debug_eval", map[string]interface{}{"expression": "!ls"}, "BAD_EXPRESSION")
	expectError(t, s, "debug_break", map[string]interface{}{"location": "main; shell ls"}, "BAD_LOCATION")
	expectError(t, s, "debug_state", map[string]interface{}{"session_id": "missing"}, "SESSION_NOT_FOUND")
}

// TestSessionErrors verifies transitions refused by the state machine
func TestSessionErrors(t *testing.T) {
	s, binary := newTestServer(t, "lldb")
	expectError(t, s, "debug_state", nil, "SESSION_NOT_FOUND")

	id := mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary}).Get("session_id").String()
	e := expectError(t, s, "debug_step", nil, "INVALID_TRANSITION")
	if e.Get("kind").String() != "SessionError" || e.Get("hint").String() == "" {
		t.Errorf("unexpected error %s", e.Raw)
	}
	expectError(t, s, "debug_run", map[string]interface{}{"binary_path": binary, "session_id": id}, "INVALID_TRANSITION")

	exit := mustCall(t, s, "debug_continue", nil)
	if exit.Get("state").String() != "terminated" || exit.Get("exit_code").Int() != 0 || !exit.Get("exit_code").Exists() {
		t.Fatalf("expected a clean exit, got %s", exit.Raw)
	}
	expectError(t, s, "debug_step_into", nil, "ALREADY_TERMINATED")
	expectError(t, s, "debug_backtrace", nil, "ALREADY_TERMINATED")

	state := mustCall(t, s, "debug_state", nil)
	if state.Get("state").String() != "terminated" || state.Get("stop_reason").String() != "exited" {
		t.Errorf("unexpected final state %s", state.Raw)
	}
}

// TestEvaluationError verifies a debugger-side error is a successful result
func TestEvaluationError(t *testing.T) {
	s, binary := newTestServer(t, "lldb")
	mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary})
	mustCall(t, s, "debug_break", map[string]interface{}{"location": "main"})
	mustCall(t, s, "debug_continue", nil)

	ev := mustCall(t, s, "debug_eval", map[string]interface{}{"expression": "y"})
	if ev.Get("variable").Exists() || ev.Get("evaluation_error").String() == "" {
		t.Errorf("expected an evaluation error, got %s", ev.Raw)
	}
}

// TestShaping verifies verbosity and focus_areas only filter the result
func TestShaping(t *testing.T) {
	s, binary := newTestServer(t, "lldb")
	mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary})
	mustCall(t, s, "debug_break", map[string]interface{}{"location": "main"})

	cont := mustCall(t, s, "debug_continue", map[string]interface{}{"verbosity": "minimal"})
	for _, key := range []string{"state", "location", "session_id", "breakpoint", "success"} {
		if !cont.Get(key).Exists() {
			t.Errorf("minimal result is missing %s: %s", key, cont.Raw)
		}
	}
	for _, key := range []string{"stop_reason", "frame", "output", "commands"} {
		if cont.Get(key).Exists() {
			t.Errorf("minimal result should not include %s: %s", key, cont.Raw)
		}
	}

	full := mustCall(t, s, "debug_state", map[string]interface{}{"verbosity": "comprehensive"})
	for _, key := range []string{"state", "stop_reason", "backend", "debugger_pid", "created_at", "frame"} {
		if !full.Get(key).Exists() {
			t.Errorf("comprehensive result is missing %s: %s", key, full.Raw)
		}
	}

	focused := mustCall(t, s, "debug_state", map[string]interface{}{"focus_areas": []interface{}{"location"}})
	if !focused.Get("location").Exists() || !focused.Get("frame").Exists() {
		t.Errorf("location section missing: %s", focused.Raw)
	}
	if focused.Get("state").Exists() || focused.Get("backend").Exists() {
		t.Errorf("state section should be filtered: %s", focused.Raw)
	}
	if !focused.Get("session_id").Exists() {
		t.Errorf("session_id is always kept: %s", focused.Raw)
	}

	// shaping never changes the session
	after := mustCall(t, s, "debug_state", nil)
	if after.Get("state").String() != "stopped_at_breakpoint" {
		t.Errorf("unexpected state %s", after.Raw)
	}
}

// TestTerminateAndList verifies forced termination and the session listing
func TestTerminateAndList(t *testing.T) {
	s, binary := newTestServer(t, "gdb")
	a := mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary, "backend": "gdb"}).Get("session_id").String()
	b := mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary, "backend": "gdb"}).Get("session_id").String()

	term := mustCall(t, s, "debug_terminate", map[string]interface{}{"session_id": a})
	if term.Get("state").String() != "terminated" {
		t.Fatalf("unexpected terminate result %s", term.Raw)
	}
	// idempotent
	mustCall(t, s, "debug_terminate", map[string]interface{}{"session_id": a})

	list := mustCall(t, s, "debug_list_sessions", nil)
	if list.Get("count").Int() != 2 {
		t.Fatalf("expected 2 sessions, got %s", list.Raw)
	}
	states := map[string]string{}
	list.Get("sessions").ForEach(func(_, v gjson.Result) bool {
		states[v.Get("session_id").String()] = v.Get("state").String()
		return true
	})
	if states[a] != "terminated" || states[b] != "loaded" {
		t.Errorf("unexpected states %v", states)
	}
	if s.Sessions().Live() != 1 {
		t.Errorf("expected one live debugger, got %d", s.Sessions().Live())
	}
}

// TestSignalResult verifies a crash reports its backtrace
func TestSignalResult(t *testing.T) {
	s, binary := newTestServer(t, "lldb:segv")
	mustCall(t, s, "debug_run", map[string]interface{}{"binary_path": binary})

	cont := mustCall(t, s, "debug_continue", nil)
	if cont.Get("state").String() != "failed" || cont.Get("signal").String() != "SIGSEGV" {
		t.Fatalf("unexpected result %s", cont.Raw)
	}
	if cont.Get("frames.#").Int() == 0 {
		t.Errorf("expected crash frames, got %s", cont.Raw)
	}
}

// TestHandleMessage verifies the JSON-RPC surface served by mcp-go
func TestHandleMessage(t *testing.T) {
	s, _ := newTestServer(t, "lldb")
	ctx := context.Background()

	send := func(msg string) gjson.Result {
		t.Helper()
		resp := s.mcpServer.HandleMessage(ctx, json.RawMessage(msg))
		raw, err := json.Marshal(resp)
		if err != nil {
			t.Fatal(err)
		}
		return gjson.ParseBytes(raw)
	}

	init := send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1.0"}}}`)
	if init.Get("result.serverInfo.name").String() != "dbg-mcp" {
		t.Errorf("unexpected initialize response %s", init.Raw)
	}

	list := send(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	names := map[string]bool{}
	list.Get("result.tools").ForEach(func(_, tool gjson.Result) bool {
		names[tool.Get("name").String()] = true
		return true
	})
	for _, name := range []string{
		"debug_run", "debug_break", "debug_continue", "debug_step", "debug_step_into", "debug_step_out",
		"debug_eval", "debug_backtrace", "debug_list_breakpoints", "debug_state",
		"debug_terminate", "debug_list_sessions",
	} {
		if !names[name] {
			t.Errorf("tool %s is not listed", name)
		}
	}

	unknown := send(`{"jsonrpc":"2.0","id":3,"method":"debug/frobnicate"}`)
	if unknown.Get("error.code").Int() != -32601 {
		t.Errorf("expected METHOD_NOT_FOUND, got %s", unknown.Raw)
	}

	call := send(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"debug_run","arguments":{}}}`)
	if !call.Get("result.isError").Bool() {
		t.Fatalf("expected a tool error, got %s", call.Raw)
	}
	text := call.Get("result.content.0.text").String()
	if gjson.Get(text, "error.code").String() != "INVALID_PARAMS" {
		t.Errorf("unexpected error text %s", text)
	}
}
