// Package repblock keeps one block of data at two disk addresses that are
// always equal after recovery.
package repblock

import (
	"sync"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/jrnl"
)

type RepBlock struct {
	j *jrnl.Journal

	m  *sync.Mutex
	a0 common.Bnum
	a1 common.Bnum
}

// Open uses blocks a and a+1 of j.
func Open(j *jrnl.Journal, a common.Bnum) *RepBlock {
	return &RepBlock{
		j:  j,
		m:  new(sync.Mutex),
		a0: a,
		a1: a + 1,
	}
}

// Addr is the first of the two blocks.
func (rb *RepBlock) Addr() common.Bnum {
	return rb.a0
}

func (rb *RepBlock) Read() disk.Block {
	rb.m.Lock()
	defer rb.m.Unlock()
	return rb.j.Read(rb.a0)
}

// ReadBoth returns both copies, for checking that they agree.
func (rb *RepBlock) ReadBoth() (disk.Block, disk.Block) {
	rb.m.Lock()
	defer rb.m.Unlock()
	return rb.j.Read(rb.a0), rb.j.Read(rb.a1)
}

func (rb *RepBlock) Write(b disk.Block) {
	rb.m.Lock()
	defer rb.m.Unlock()
	op := jrnl.Begin(rb.j)
	op.OverWrite(rb.a0, b)
	op.OverWrite(rb.a1, b)
	op.End()
}
