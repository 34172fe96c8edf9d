// Package twophase wraps a journal operation with two-phase locking of the
// objects it touches: every object is locked on first use and all locks are
// released after the operation ends.
package twophase

import (
	"github.com/mit-pdos/go-fslog/addr"
	"github.com/mit-pdos/go-fslog/jrnl"
	"github.com/mit-pdos/go-fslog/lockmap"
	"github.com/mit-pdos/go-fslog/obj"
	"github.com/mit-pdos/go-fslog/util"
)

type TwoPhase struct {
	op       *jrnl.Op
	locks    *lockmap.LockMap
	acquired []uint64
}

// Begin starts a journal operation whose objects are locked in l.
func Begin(j *jrnl.Journal, l *lockmap.LockMap) *TwoPhase {
	tp := &TwoPhase{
		op:    jrnl.Begin(j),
		locks: l,
	}
	util.DPrintf(3, "tp Begin: %p\n", tp)
	return tp
}

// Acquire locks the object at a unless this operation already holds it.
func (tp *TwoPhase) Acquire(a addr.Addr) {
	id := a.Flatid()
	for _, acq := range tp.acquired {
		if acq == id {
			return
		}
	}
	tp.locks.Acquire(id)
	tp.acquired = append(tp.acquired, id)
}

func (tp *TwoPhase) releaseAll() {
	for i := len(tp.acquired) - 1; i >= 0; i-- {
		tp.locks.Release(tp.acquired[i])
	}
	tp.acquired = nil
}

func (tp *TwoPhase) ReadObj(a addr.Addr, sz uint64) *obj.Obj {
	tp.Acquire(a)
	return tp.op.ReadObj(a, sz)
}

func (tp *TwoPhase) WriteObj(o *obj.Obj) {
	tp.Acquire(o.Addr)
	tp.op.WriteObj(o)
}

// Op is the underlying operation, for unlocked whole-block access.
func (tp *TwoPhase) Op() *jrnl.Op {
	return tp.op
}

// End ends the operation, then releases its locks.
func (tp *TwoPhase) End() {
	util.DPrintf(3, "tp End: %p holds %d\n", tp, len(tp.acquired))
	tp.op.End()
	tp.releaseAll()
}
