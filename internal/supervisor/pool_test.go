package supervisor

import (
	"testing"

	"github.com/ctagard/dbg-mcp/internal/errors"
)

func TestPool_AcquireRelease(t *testing.T) {
	pool := NewPool(2)

	r1, err := pool.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	r2, err := pool.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if pool.InUse() != 2 {
		t.Errorf("expected 2 in use, got %d", pool.InUse())
	}

	if _, err := pool.Acquire(); !errors.HasCode(err, errors.CodeResourceExhausted) {
		t.Fatalf("expected RESOURCE_EXHAUSTED, got %v", err)
	}

	r1()
	r1()
	if pool.InUse() != 1 {
		t.Errorf("double release must free one slot, in use %d", pool.InUse())
	}
	if _, err := pool.Acquire(); err != nil {
		t.Errorf("expected a free slot: %v", err)
	}
	r2()
}

func TestPool_MinimumSize(t *testing.T) {
	if NewPool(0).Cap() != 1 {
		t.Error("expected pool size of at least 1")
	}
}
