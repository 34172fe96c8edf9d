// Package lockmap provides a lock for every uint64 key (a flattened object
// address) without allocating them all: the state of key k lives in shard
// k % NSHARD only while k is held or waited for.
package lockmap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mit-pdos/go-fslog/util"
)

var ErrNotHeld = errors.New("lockmap: releasing a free lock")

const NSHARD uint64 = 43

type lockState struct {
	held    bool
	cond    *sync.Cond
	waiters uint64
}

type lockShard struct {
	mu    *sync.Mutex
	state map[uint64]*lockState
}

func mkLockShard() *lockShard {
	return &lockShard{
		mu:    new(sync.Mutex),
		state: make(map[uint64]*lockState),
	}
}

func (s *lockShard) acquire(k uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[k]
	if !ok {
		st = &lockState{cond: sync.NewCond(s.mu)}
		s.state[k] = st
	}
	for st.held {
		st.waiters++
		st.cond.Wait()
		st.waiters--
	}
	st.held = true
}

func (s *lockShard) release(k uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[k]
	if !ok || !st.held {
		util.Fatal(fmt.Errorf("%w: %d", ErrNotHeld, k))
	}
	st.held = false
	if st.waiters > 0 {
		st.cond.Signal()
	} else {
		delete(s.state, k)
	}
}

func (s *lockShard) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state)
}

type LockMap struct {
	shards []*lockShard
}

func MkLockMap() *LockMap {
	shards := make([]*lockShard, NSHARD)
	for i := range shards {
		shards[i] = mkLockShard()
	}
	return &LockMap{shards: shards}
}

func (lmap *LockMap) Acquire(k uint64) {
	lmap.shards[k%NSHARD].acquire(k)
}

func (lmap *LockMap) Release(k uint64) {
	lmap.shards[k%NSHARD].release(k)
}

// Len reports how many keys are held or waited for.
func (lmap *LockMap) Len() int {
	n := 0
	for _, s := range lmap.shards {
		n += s.size()
	}
	return n
}
