package adapters

import (
	"testing"

	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/internal/validate"
)

func newGDB() *GDBAdapter {
	return NewGDBAdapter(config.BackendConfig{})
}

// TestGDB_Render verifies command text for each operation
func TestGDB_Render(t *testing.T) {
	g := newGDB()
	cases := []struct {
		op   Op
		want string
	}{
		{Op{Kind: OpBreak, Location: validate.Location{Function: "main"}}, "break main"},
		{Op{Kind: OpBreak, Location: validate.Location{File: "src/lib.rs", Line: 42}}, "break src/lib.rs:42"},
		{Op{Kind: OpBreak, Location: validate.Location{Function: "loop"}, Condition: "i == 3"}, "break loop if i == 3"},
		{Op{Kind: OpLaunch}, "run"},
		{Op{Kind: OpContinue}, "continue"},
		{Op{Kind: OpStepOver}, "next"},
		{Op{Kind: OpStepInto}, "step"},
		{Op{Kind: OpStepOut}, "finish"},
		{Op{Kind: OpEval, Expression: "-x"}, "print (-x)"},
		{Op{Kind: OpTypeOf, Expression: "x"}, "whatis (x)"},
		{Op{Kind: OpBacktrace}, "backtrace"},
		{Op{Kind: OpQuit}, "quit"},
	}
	for _, c := range cases {
		got, ok := g.Render(c.op)
		if !ok || got != c.want {
			t.Errorf("%s: expected %q, got %q (ok=%v)", c.op.Kind, c.want, got, ok)
		}
	}
	if _, ok := g.Render(Op{Kind: OpInspect}); ok {
		t.Error("gdb should not render inspect")
	}
}

// TestGDB_SpawnArgs verifies the binary follows --args
func TestGDB_SpawnArgs(t *testing.T) {
	g := NewGDBAdapter(config.BackendConfig{Path: "/opt/gdb", Args: []string{"-iex", "set auto-load off"}})
	if g.Executable() != "/opt/gdb" {
		t.Errorf("unexpected executable %q", g.Executable())
	}
	args := g.SpawnArgs("/tmp/sample")
	want := []string{"-q", "-nx", "-iex", "set auto-load off", "--args", "/tmp/sample"}
	if len(args) != len(want) {
		t.Fatalf("expected %v, got %v", want, args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], args[i])
		}
	}
}

// TestGDB_Done verifies completion at the prompt
func TestGDB_Done(t *testing.T) {
	g := newGDB()
	if g.Done(OpContinue, lines("Continuing.")) {
		t.Error("must wait for the prompt")
	}
	if !g.Done(OpContinue, lines("Continuing.\n(gdb) ")) {
		t.Error("expected complete")
	}
}

// TestGDB_ParseBreakpoint verifies resolved, pending and error confirmations
func TestGDB_ParseBreakpoint(t *testing.T) {
	g := newGDB()

	res := g.ParseBreakpoint(lines("Breakpoint 1 at 0x401136: file sample.c, line 5.\n(gdb) "))
	if !res.Complete || res.Breakpoint.Id != 1 || !res.Breakpoint.Verified {
		t.Fatalf("unexpected %+v", res)
	}
	if res.Breakpoint.Source.Path != "sample.c" || res.Breakpoint.Line != 5 {
		t.Errorf("expected sample.c:5, got %+v", res.Breakpoint)
	}

	res = g.ParseBreakpoint(lines("Breakpoint 3 at 0x1139\n(gdb) "))
	if !res.Complete || res.Breakpoint.Id != 3 || res.Breakpoint.Source != nil {
		t.Errorf("expected address-only breakpoint, got %+v", res)
	}

	res = g.ParseBreakpoint(lines("No source file named missing.c.\nBreakpoint 2 (missing.c:3) pending.\n(gdb) "))
	if !res.Complete || res.Breakpoint.Id != 2 || res.Breakpoint.Verified {
		t.Fatalf("expected pending breakpoint, got %+v", res)
	}
	if res.Breakpoint.Message != "pending: No source file named missing.c." {
		t.Errorf("unexpected message %q", res.Breakpoint.Message)
	}

	res = g.ParseBreakpoint(lines("Function \"nope\" not defined.\n(gdb) "))
	if !res.Complete || res.Error != `Function "nope" not defined.` {
		t.Errorf("expected error, got %+v", res)
	}

	res = g.ParseBreakpoint(lines("(gdb) "))
	if res.Complete {
		t.Error("empty output must be incomplete")
	}
}

// TestGDB_ParseStop_Breakpoint verifies a breakpoint hit after run
func TestGDB_ParseStop_Breakpoint(t *testing.T) {
	g := newGDB()
	res := g.ParseStop(OpLaunch, lines("Starting program: /tmp/sample \n\nBreakpoint 1, main () at sample.c:5\n5\t  int x = 42;\n(gdb) "))
	if !res.Complete || res.Stopped == nil || res.Stopped.Reason != ReasonBreakpoint {
		t.Fatalf("expected breakpoint stop, got %+v", res)
	}
	if res.Stopped.HitBreakpointIds[0] != 1 {
		t.Errorf("expected breakpoint 1, got %v", res.Stopped.HitBreakpointIds)
	}
	if res.Frame.Name != "main" || res.Frame.Line != 5 || res.Frame.Source.Path != "sample.c" {
		t.Errorf("unexpected frame %+v", res.Frame)
	}
}

// TestGDB_ParseStop_NoDebugInfo verifies stops in binaries built without -g
func TestGDB_ParseStop_NoDebugInfo(t *testing.T) {
	g := newGDB()
	res := g.ParseStop(OpLaunch, lines("Breakpoint 1, 0x0000555555555131 in main ()\n(gdb) "))
	if !res.Complete || res.Stopped == nil || res.Stopped.Reason != ReasonBreakpoint {
		t.Fatalf("expected breakpoint stop, got %+v", res)
	}
	if res.Frame == nil || res.Frame.Name != "main" || res.Frame.InstructionPointerReference != "0x0000555555555131" || res.Frame.Source != nil {
		t.Errorf("unexpected frame %+v", res.Frame)
	}

	res = g.ParseStop(OpContinue, lines("Continuing.\n\nProgram received signal SIGABRT, Aborted.\n0x00007ffff7e2b9fc in pthread_kill () from /lib/x86_64-linux-gnu/libc.so.6\n(gdb) "))
	if res.Stopped == nil || res.Stopped.Description != "SIGABRT" {
		t.Fatalf("expected signal stop, got %+v", res)
	}
	if res.Frame == nil || res.Frame.Name != "pthread_kill" {
		t.Errorf("unexpected frame %+v", res.Frame)
	}

	res = g.ParseStop(OpStepOver, lines("0x0000555555555140 in main ()\n(gdb) "))
	if res.Stopped == nil || res.Stopped.Reason != ReasonStep || res.Frame == nil || res.Frame.Name != "main" {
		t.Errorf("expected step without line info, got %+v", res)
	}
}

// TestGDB_ParseStop_BreakpointBeatsSignal verifies tie-breaking
func TestGDB_ParseStop_BreakpointBeatsSignal(t *testing.T) {
	g := newGDB()
	in := lines("Continuing.\n\nProgram received signal SIGALRM, Alarm clock.\n\nBreakpoint 2, compute (n=42) at sample.c:20\n20\t  return n * 2;\n(gdb) ")
	res := g.ParseStop(OpContinue, in)
	if res.Stopped == nil || res.Stopped.Reason != ReasonBreakpoint {
		t.Fatalf("expected breakpoint to win, got %+v", res.Stopped)
	}
	if res.Frame.Name != "compute" || res.Frame.Line != 20 {
		t.Errorf("unexpected frame %+v", res.Frame)
	}
}

// TestGDB_ParseStop_Signal verifies signal stops
func TestGDB_ParseStop_Signal(t *testing.T) {
	g := newGDB()
	in := lines("Continuing.\n\nProgram received signal SIGSEGV, Segmentation fault.\n0x0000000000401140 in main () at sample.c:7\n7\t  *p = 1;\n(gdb) ")
	res := g.ParseStop(OpContinue, in)
	if res.Stopped == nil || res.Stopped.Reason != ReasonException {
		t.Fatalf("expected signal stop, got %+v", res.Stopped)
	}
	if res.Stopped.Description != "SIGSEGV" || res.Stopped.Text != "Segmentation fault" {
		t.Errorf("unexpected body %+v", res.Stopped)
	}
	if res.Frame == nil || res.Frame.Line != 7 {
		t.Errorf("unexpected frame %+v", res.Frame)
	}
}

// TestGDB_ParseStop_Exit verifies normal and octal exit codes
func TestGDB_ParseStop_Exit(t *testing.T) {
	g := newGDB()

	res := g.ParseStop(OpContinue, lines("Continuing.\n[Inferior 1 (process 4242) exited normally]\n(gdb) "))
	if res.Exited == nil || res.Exited.ExitCode != 0 || res.PID != 4242 {
		t.Errorf("expected exit 0, got %+v", res)
	}

	res = g.ParseStop(OpContinue, lines("Continuing.\n[Inferior 1 (process 4242) exited with code 012]\n(gdb) "))
	if res.Exited == nil || res.Exited.ExitCode != 10 {
		t.Errorf("expected exit 10, got %+v", res.Exited)
	}

	res = g.ParseStop(OpContinue, lines("Continuing.\n\nProgram terminated with signal SIGKILL, Killed.\nThe program no longer exists.\n(gdb) "))
	if res.Exited == nil || res.Signal != "SIGKILL" {
		t.Errorf("expected termination by SIGKILL, got %+v", res)
	}
}

// TestGDB_ParseStop_Step verifies same-function and new-function steps
func TestGDB_ParseStop_Step(t *testing.T) {
	g := newGDB()

	res := g.ParseStop(OpStepOver, lines("6\t  int y = x + 1;\n(gdb) "))
	if res.Stopped == nil || res.Stopped.Reason != ReasonStep {
		t.Fatalf("expected step, got %+v", res)
	}
	if res.Frame != nil {
		t.Errorf("same-function step carries no frame, got %+v", res.Frame)
	}

	res = g.ParseStop(OpStepInto, lines("compute (n=42) at sample.c:20\n20\t  return n * 2;\n(gdb) "))
	if res.Stopped == nil || res.Stopped.Reason != ReasonStep {
		t.Fatalf("expected step, got %+v", res)
	}
	if res.Frame.Name != "compute" || res.Frame.Line != 20 {
		t.Errorf("unexpected frame %+v", res.Frame)
	}

	res = g.ParseStop(OpStepOut, lines("Run till exit from #0  compute (n=42) at sample.c:20\n0x0000000000401150 in main () at sample.c:7\n7\t  int r = compute(x);\nValue returned is $1 = 84\n(gdb) "))
	if res.Stopped == nil || res.Frame.Name != "main" || res.Frame.Line != 7 {
		t.Errorf("unexpected finish result %+v", res)
	}
}

// TestGDB_ParseStop_NotRunning verifies the no-process error
func TestGDB_ParseStop_NotRunning(t *testing.T) {
	g := newGDB()
	res := g.ParseStop(OpContinue, lines("The program is not being run.\n(gdb) "))
	if res.Error == "" || res.Stopped != nil || res.Exited != nil {
		t.Errorf("expected error only, got %+v", res)
	}
}

// TestGDB_ParseEval verifies values and errors
func TestGDB_ParseEval(t *testing.T) {
	g := newGDB()

	res := g.ParseEval(lines("$1 = 42\n(gdb) "))
	if !res.Complete || res.Variable.Value != "42" || res.Variable.Name != "$1" {
		t.Errorf("unexpected %+v", res)
	}

	res = g.ParseEval(lines("$2 = {x = 1, y = 2}\n(gdb) "))
	if res.Variable.Value != "{x = 1, y = 2}" {
		t.Errorf("unexpected aggregate %q", res.Variable.Value)
	}

	res = g.ParseEval(lines("No symbol \"y\" in current context.\n(gdb) "))
	if !res.Complete || res.Error != `No symbol "y" in current context.` {
		t.Errorf("expected error, got %+v", res)
	}

	typ, ok := g.ParseType(lines("type = int\n(gdb) "))
	if !ok || typ != "int" {
		t.Errorf("expected int, got %q", typ)
	}
	if _, ok := g.ParseType(lines("No symbol \"y\" in current context.\n(gdb) ")); ok {
		t.Error("expected no type")
	}
}

// TestGDB_ParseFrames verifies backtrace parsing
func TestGDB_ParseFrames(t *testing.T) {
	g := newGDB()
	res := g.ParseFrames(lines("#0  compute (n=42) at sample.c:20\n#1  0x0000000000401150 in main () at sample.c:7\n#2  0x00007ffff7c29d90 in __libc_start_call_main () from /lib/x86_64-linux-gnu/libc.so.6\n(gdb) "))
	if !res.Complete || len(res.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %+v", res)
	}
	if res.Frames[0].Name != "compute" || res.Frames[0].Line != 20 {
		t.Errorf("frame 0: %+v", res.Frames[0])
	}
	if res.Frames[1].Name != "main" || res.Frames[1].InstructionPointerReference != "0x0000000000401150" {
		t.Errorf("frame 1: %+v", res.Frames[1])
	}
	if res.Frames[2].Source != nil || res.Frames[2].ModuleId != "/lib/x86_64-linux-gnu/libc.so.6" {
		t.Errorf("frame 2: %+v", res.Frames[2])
	}

	res = g.ParseFrames(lines("No stack.\n(gdb) "))
	if !res.NoProcess || len(res.Frames) != 0 {
		t.Errorf("expected NoProcess, got %+v", res)
	}
}

// TestGDB_ParseLoad verifies symbol loading detection
func TestGDB_ParseLoad(t *testing.T) {
	g := newGDB()
	res := g.ParseLoad(lines("Symbols from \"/tmp/sample\".\nLocal exec file:\n\t`/tmp/sample', file type elf64-x86-64.\n(gdb) "))
	if !res.Loaded {
		t.Errorf("expected loaded, got %+v", res)
	}
	res = g.ParseLoad(lines("/tmp/notes.txt: not in executable format: file format not recognized\n(gdb) "))
	if res.Loaded || res.Error == "" {
		t.Errorf("expected failure, got %+v", res)
	}
}
