// Package sleeplock is a long-term lock: a goroutine that cannot get it
// waits on a condition variable instead of spinning, so it may be held
// across disk I/O.
package sleeplock

import (
	"sync"
)

type Lock struct {
	mu      *sync.Mutex
	cond    *sync.Cond
	held    bool
	waiters uint64
}

func MkLock() *Lock {
	mu := new(sync.Mutex)
	return &Lock{
		mu:   mu,
		cond: sync.NewCond(mu),
	}
}

func (l *Lock) Acquire() {
	l.mu.Lock()
	for l.held {
		l.waiters += 1
		l.cond.Wait()
		l.waiters -= 1
	}
	l.held = true
	l.mu.Unlock()
}

func (l *Lock) Release() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		panic("sleeplock: release of unheld lock")
	}
	l.held = false
	if l.waiters > 0 {
		l.cond.Signal()
	}
	l.mu.Unlock()
}

// Holding reports whether some goroutine holds the lock. Goroutines are
// anonymous, so this cannot say which one.
func (l *Lock) Holding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
