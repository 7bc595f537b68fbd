package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/internal/errors"
	"github.com/ctagard/dbg-mcp/pkg/types"
)

// TestRun_SecondRunOnLoadedSession verifies a live id cannot be reused
func TestRun_SecondRunOnLoadedSession(t *testing.T) {
	m, binary := newTestManager(t, "lldb", nil)
	s := run(t, m, binary)

	_, err := m.Run(context.Background(), RunRequest{SessionID: s.ID, BinaryPath: binary})
	if !errors.HasCode(err, errors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	if s.Snapshot().State != types.StateLoaded {
		t.Errorf("existing session should be untouched, got %s", s.Snapshot().State)
	}

	if _, err := m.Terminate(s.ID); err != nil {
		t.Fatal(err)
	}
	fresh, err := m.Run(context.Background(), RunRequest{SessionID: s.ID, BinaryPath: binary})
	if err != nil {
		t.Fatalf("Run on a terminated id: %v", err)
	}
	if fresh == s || fresh.Snapshot().State != types.StateLoaded {
		t.Errorf("expected a fresh loaded session")
	}
}

// TestRun_Validation verifies bad requests allocate nothing
func TestRun_Validation(t *testing.T) {
	m, binary := newTestManager(t, "lldb", nil)

	if _, err := m.Run(context.Background(), RunRequest{BinaryPath: filepath.Join(t.TempDir(), "missing")}); !errors.HasCode(err, errors.CodeBadPath) {
		t.Errorf("expected BAD_PATH, got %v", err)
	}
	if _, err := m.Run(context.Background(), RunRequest{BinaryPath: binary, Backend: "windbg"}); !errors.HasCode(err, errors.CodeInvalidParams) {
		t.Errorf("expected INVALID_PARAMS, got %v", err)
	}
	if m.Live() != 0 || len(m.List()) != 0 {
		t.Error("failed runs must not allocate sessions")
	}
}

// TestRun_LoadFailure verifies a binary the debugger rejects fails the run
func TestRun_LoadFailure(t *testing.T) {
	m, _ := newTestManager(t, "lldb", nil)
	notes := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := m.Run(context.Background(), RunRequest{BinaryPath: notes})
	if !errors.HasCode(err, errors.CodeSpawnFailed) {
		t.Fatalf("expected SPAWN_FAILED, got %v", err)
	}
	if m.Live() != 0 {
		t.Error("the debugger should have been released")
	}
	if _, err := m.Get(""); !errors.HasCode(err, errors.CodeSessionNotFound) {
		t.Errorf("no session should be registered, got %v", err)
	}
}

// TestRun_PoolExhausted verifies the session cap
func TestRun_PoolExhausted(t *testing.T) {
	m, binary := newTestManager(t, "lldb", func(c *config.Config) {
		c.MaxSessions = 1
	})
	first := run(t, m, binary)

	_, err := m.Run(context.Background(), RunRequest{BinaryPath: binary})
	if !errors.HasCode(err, errors.CodeResourceExhausted) {
		t.Fatalf("expected RESOURCE_EXHAUSTED, got %v", err)
	}
	if len(m.List()) != 1 {
		t.Errorf("expected one session, got %d", len(m.List()))
	}

	first.Terminate()
	run(t, m, binary)
}

// TestGet_DefaultsToLatest verifies addressing without an id
func TestGet_DefaultsToLatest(t *testing.T) {
	m, binary := newTestManager(t, "lldb", nil)

	if _, err := m.Get(""); !errors.HasCode(err, errors.CodeSessionNotFound) {
		t.Fatalf("expected SESSION_NOT_FOUND, got %v", err)
	}
	first := run(t, m, binary)
	second := run(t, m, binary)

	got, err := m.Get("")
	if err != nil || got != second {
		t.Errorf("expected the latest session, got %v, %v", got, err)
	}
	if got, _ := m.Get(first.ID); got != first {
		t.Error("expected lookup by id")
	}
	if _, err := m.Get("nope"); !errors.HasCode(err, errors.CodeSessionNotFound) {
		t.Errorf("expected SESSION_NOT_FOUND, got %v", err)
	}

	list := m.List()
	if len(list) != 2 || list[0].SessionID != first.ID || list[1].SessionID != second.ID {
		t.Errorf("unexpected list %+v", list)
	}
}

// TestCleanupExpired verifies idle sessions are terminated and forgotten
func TestCleanupExpired(t *testing.T) {
	m, binary := newTestManager(t, "lldb", nil)
	m.sessionTimeout = time.Minute
	s := run(t, m, binary)

	m.cleanupExpired(time.Now())
	if _, err := m.Get(s.ID); err != nil {
		t.Fatalf("active session expired early: %v", err)
	}

	m.cleanupExpired(time.Now().Add(2 * time.Minute))
	if _, err := m.Get(s.ID); !errors.HasCode(err, errors.CodeSessionNotFound) {
		t.Errorf("expected the session to be gone, got %v", err)
	}
	if s.Snapshot().State != types.StateTerminated || m.Live() != 0 {
		t.Error("expired session should be terminated and released")
	}
}

// TestClose_TerminatesAll verifies registry teardown
func TestClose_TerminatesAll(t *testing.T) {
	m, binary := newTestManager(t, "gdb", nil)
	sessions := []*Session{run(t, m, binary), run(t, m, binary)}

	m.Close()
	for _, s := range sessions {
		if s.Snapshot().State != types.StateTerminated {
			t.Errorf("session %s: expected terminated, got %s", s.ID, s.Snapshot().State)
		}
	}
	if m.Live() != 0 {
		t.Errorf("expected no live debuggers, got %d", m.Live())
	}
}

// TestSessions_Independent verifies sessions run concurrently
func TestSessions_Independent(t *testing.T) {
	m, binary := newTestManager(t, "lldb", nil)
	a := run(t, m, binary)
	b := run(t, m, binary)
	mustBreak(t, a, "main")

	var wg sync.WaitGroup
	for _, s := range []*Session{a, b} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if _, err := s.Continue(context.Background()); err != nil {
				t.Errorf("%s: %v", s.ID, err)
			}
		}(s)
	}
	wg.Wait()

	if a.Snapshot().State != types.StateStoppedAtBreakpoint {
		t.Errorf("a: expected stopped_at_breakpoint, got %s", a.Snapshot().State)
	}
	if b.Snapshot().State != types.StateTerminated {
		t.Errorf("b: expected terminated, got %s", b.Snapshot().State)
	}
}
