package supervisor

import (
	"context"
	stderrors "errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ctagard/dbg-mcp/internal/errors"
	"github.com/ctagard/dbg-mcp/internal/testutil/fakedbg"
)

func TestMain(m *testing.M) {
	fakedbg.Main()
	os.Exit(m.Run())
}

func isLLDBPrompt(line string) bool {
	return strings.TrimSpace(line) == "(lldb)"
}

func untilPrompt(lines []string) bool {
	for _, l := range lines {
		if isLLDBPrompt(l) {
			return true
		}
	}
	return false
}

// startFake spawns the fake lldb and waits for its first prompt
func startFake(t *testing.T, hard time.Duration) *Process {
	t.Helper()
	path, bin := fakedbg.Setup(t, "lldb")
	p, err := Start(Spec{
		Path:        path,
		Args:        []string{"--no-use-colors", "--file", bin},
		IsPrompt:    isLLDBPrompt,
		QuitCommand: "quit",
		HardTimeout: hard,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	capture, err := p.Await(context.Background(), 10*time.Second, untilPrompt)
	if err != nil {
		t.Fatalf("startup: %v", err)
	}
	if !strings.Contains(capture.Text(), "Current executable set to") {
		t.Fatalf("unexpected banner %q", capture.Text())
	}
	return p
}

// TestExec_CollectsUntilPrompt verifies output collection and the write log
func TestExec_CollectsUntilPrompt(t *testing.T) {
	p := startFake(t, 0)

	capture, err := p.Exec(context.Background(), "breakpoint set --name main", 5*time.Second, untilPrompt)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.Contains(capture.Text(), "Breakpoint 1: where = sample`main") {
		t.Errorf("unexpected output %q", capture.Text())
	}
	if capture.Command != "breakpoint set --name main" {
		t.Errorf("unexpected command %q", capture.Command)
	}

	writes := p.Writes()
	if len(writes) != 1 || writes[0] != "breakpoint set --name main" {
		t.Errorf("unexpected write log %v", writes)
	}
}

// TestExec_TagsStderr verifies errors are captured from stderr
func TestExec_TagsStderr(t *testing.T) {
	p := startFake(t, 0)

	capture, err := p.Exec(context.Background(), "expression -- y", 5*time.Second, untilPrompt)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var found bool
	for _, l := range capture.Lines {
		if l.Stream == Stderr && strings.HasPrefix(l.Text, "error:") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error line on stderr, got %+v", capture.Lines)
	}
}

// TestExec_RejectsMultiline verifies nothing is written for multi-line input
func TestExec_RejectsMultiline(t *testing.T) {
	p := startFake(t, 0)

	if _, err := p.Exec(context.Background(), "expression -- 1\nquit", time.Second, untilPrompt); err == nil {
		t.Fatal("expected error")
	}
	if len(p.Writes()) != 0 {
		t.Errorf("expected no writes, got %v", p.Writes())
	}
}

// TestExec_TimeoutKeepsProcess verifies a soft timeout leaves the debugger running
func TestExec_TimeoutKeepsProcess(t *testing.T) {
	p := startFake(t, 0)

	_, err := p.Exec(context.Background(), "expression -- slow", 200*time.Millisecond, untilPrompt)
	if !errors.HasCode(err, errors.CodeTimedOut) {
		t.Fatalf("expected TIMED_OUT, got %v", err)
	}
	if !p.Alive() {
		t.Fatal("process should survive a soft timeout")
	}

	capture, err := p.Exec(context.Background(), "expression -- 1 + 2", 5*time.Second, untilPrompt)
	if err != nil {
		t.Fatalf("Exec after timeout: %v", err)
	}
	if !strings.Contains(capture.Text(), "(int) $0 = 3") {
		t.Errorf("unexpected output %q", capture.Text())
	}
}

// TestExec_Crash verifies a debugger exit is reported as CRASHED
func TestExec_Crash(t *testing.T) {
	p := startFake(t, 0)

	_, err := p.Exec(context.Background(), "expression -- die", 5*time.Second, untilPrompt)
	if !errors.HasCode(err, errors.CodeCrashed) {
		t.Fatalf("expected CRASHED, got %v", err)
	}
	<-p.Exited()

	before := len(p.Writes())
	if _, err := p.Exec(context.Background(), "expression -- 1", time.Second, untilPrompt); !errors.HasCode(err, errors.CodeCrashed) {
		t.Errorf("expected CRASHED for a dead process, got %v", err)
	}
	if len(p.Writes()) != before {
		t.Error("nothing should be written to a dead process")
	}
}

// TestExec_ContextCanceled verifies cancellation ends the wait
func TestExec_ContextCanceled(t *testing.T) {
	p := startFake(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := p.Exec(ctx, "expression -- slow", 10*time.Second, untilPrompt)
	if !errors.HasCode(err, errors.CodeTimedOut) {
		t.Errorf("expected TIMED_OUT, got %v", err)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the cause to be deadline exceeded, got %v", err)
	}
	if !p.Alive() {
		t.Error("process should survive a cancelled wait")
	}
}

// TestWatchdog_KillsHungDebugger verifies the hard timeout kills the group
func TestWatchdog_KillsHungDebugger(t *testing.T) {
	p := startFake(t, 300*time.Millisecond)

	_, err := p.Exec(context.Background(), "expression -- hang", 10*time.Second, untilPrompt)
	if !errors.HasCode(err, errors.CodeCrashed) {
		t.Fatalf("expected CRASHED, got %v", err)
	}
	if !p.HardKilled() {
		t.Error("expected the watchdog to have killed the process")
	}
	if p.Alive() {
		t.Error("process should be gone")
	}
}

// TestClose_Idempotent verifies Close can be called concurrently and repeatedly
func TestClose_Idempotent(t *testing.T) {
	p := startFake(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Close()
		}()
	}
	wg.Wait()

	if p.Alive() {
		t.Error("process should have exited")
	}
	writes := p.Writes()
	if len(writes) != 1 || writes[0] != "quit" {
		t.Errorf("expected a single quit, got %v", writes)
	}
}

// TestStart_MissingExecutable verifies spawn errors surface
func TestStart_MissingExecutable(t *testing.T) {
	_, err := Start(Spec{Path: "/nonexistent/debugger"})
	if err == nil {
		t.Fatal("expected error")
	}
}
