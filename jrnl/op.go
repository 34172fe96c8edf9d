package jrnl

import (
	"fmt"

	"github.com/mit-pdos/go-fslog/addr"
	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/obj"
	"github.com/mit-pdos/go-fslog/util"
)

// Op is an in-progress journal operation.
//
// An Op belongs to one goroutine. It may log at most
// j.Log().MaxOpBlocks() distinct blocks; logging the same block again is
// free.
type Op struct {
	j      *Journal
	logged map[common.Bnum]bool
	done   bool
}

// Begin waits until the log can admit another operation and starts it.
func Begin(j *Journal) *Op {
	j.log.BeginOp()
	op := &Op{
		j:      j,
		logged: make(map[common.Bnum]bool),
	}
	util.DPrintf(3, "Begin: %p\n", op)
	return op
}

func (op *Op) checkOpen() {
	if op.done {
		util.Fatal(ErrEnded)
	}
}

// reserve accounts for bn before its buffer is modified, so an operation
// that is over budget halts without touching the cache.
func (op *Op) reserve(bn common.Bnum) {
	op.checkOpen()
	op.j.checkRange(bn)
	if op.logged[bn] {
		return
	}
	max := op.j.log.MaxOpBlocks()
	if uint64(len(op.logged)) >= max {
		util.Fatal(fmt.Errorf("%w: block %d would be number %d of %d",
			ErrOpTooBig, bn, len(op.logged)+1, max))
	}
	op.logged[bn] = true
}

// Read returns a copy of block bn.
func (op *Op) Read(bn common.Bnum) disk.Block {
	op.checkOpen()
	return op.j.Read(bn)
}

// Modify applies f to the cached content of block bn and logs the block.
func (op *Op) Modify(bn common.Bnum, f func(blk disk.Block)) {
	op.reserve(bn)
	b := op.j.bc.Read(op.j.dev, bn)
	f(b.Data)
	op.j.log.Write(b)
	b.Release()
}

// OverWrite replaces block bn with data without reading it first.
func (op *Op) OverWrite(bn common.Bnum, data disk.Block) {
	op.reserve(bn)
	b := op.j.bc.Get(op.j.dev, bn)
	b.Overwrite(data)
	op.j.log.Write(b)
	b.Release()
}

// ZeroBlock clears block bn.
func (op *Op) ZeroBlock(bn common.Bnum) {
	op.reserve(bn)
	b := op.j.bc.Get(op.j.dev, bn)
	b.Zero()
	op.j.log.Write(b)
	b.Release()
}

// ReadObj loads the sz-bit object at a.
func (op *Op) ReadObj(a addr.Addr, sz uint64) *obj.Obj {
	op.checkOpen()
	op.j.checkRange(a.Blkno)
	b := op.j.bc.Read(op.j.dev, a.Blkno)
	o := obj.Load(a, sz, b.Data)
	b.Release()
	return o
}

// WriteObj installs o into its block and logs the block.
func (op *Op) WriteObj(o *obj.Obj) {
	op.Modify(o.Addr.Blkno, o.Install)
}

// NDirty reports how many distinct blocks the operation has logged.
func (op *Op) NDirty() uint64 {
	return uint64(len(op.logged))
}

// End finishes the operation. The last running operation to end commits
// the whole group before End returns.
func (op *Op) End() {
	op.checkOpen()
	op.done = true
	util.DPrintf(3, "End: %p logged %d\n", op, len(op.logged))
	op.j.log.EndOp()
}
