package session

import "sync"

// opLock is a ticket lock: waiters acquire it in the order they arrived
type opLock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newOpLock() *opLock {
	l := &opLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *opLock) Lock() {
	l.mu.Lock()
	ticket := l.next
	l.next++
	for ticket != l.serving {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

func (l *opLock) Unlock() {
	l.mu.Lock()
	l.serving++
	l.mu.Unlock()
	l.cond.Broadcast()
}

// waiting returns the number of holders and waiters
func (l *opLock) waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.next - l.serving)
}
