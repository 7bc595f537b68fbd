package supervisor

import (
	"sync"

	"github.com/ctagard/dbg-mcp/internal/errors"
)

// Pool caps the number of live debugger subprocesses. Acquire never blocks:
// a full pool fails immediately so that nothing is spawned.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with max slots
func NewPool(max int) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{slots: make(chan struct{}, max)}
}

// Acquire takes a slot. The returned release function gives it back and may
// be called any number of times.
func (p *Pool) Acquire() (release func(), err error) {
	select {
	case p.slots <- struct{}{}:
	default:
		return nil, errors.ResourceExhausted(cap(p.slots))
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-p.slots })
	}, nil
}

// InUse returns the number of slots taken
func (p *Pool) InUse() int {
	return len(p.slots)
}

// Cap returns the pool size
func (p *Pool) Cap() int {
	return cap(p.slots)
}
