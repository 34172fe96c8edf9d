// Package alloc allocates data blocks from the on-disk free bit map inside a
// journal operation.
package alloc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mit-pdos/go-fslog/addr"
	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/jrnl"
	"github.com/mit-pdos/go-fslog/obj"
	"github.com/mit-pdos/go-fslog/super"
	"github.com/mit-pdos/go-fslog/util"
)

// BLOCKSLOTS is the number of distinct blocks AllocBlock logs: the bitmap
// block and the zeroed new block.
const BLOCKSLOTS uint64 = 2

var (
	ErrNoSpace    = errors.New("alloc: out of blocks")
	ErrDoubleFree = errors.New("alloc: freeing free block")
	ErrNotData    = errors.New("alloc: not a data block")
)

// Alloc hands out the data blocks of one image. Bit n of the bit map tracks
// block n.
type Alloc struct {
	lock  *sync.Mutex // protects next and bit map updates
	start common.Bnum // first bitmap block
	first common.Bnum // first data block
	size  uint64      // blocks in the image
	next  common.Bnum // first block to try
}

func MkAlloc(sb *super.FsSuper) *Alloc {
	return &Alloc{
		lock:  new(sync.Mutex),
		start: sb.BmapStart,
		first: sb.DataStart(),
		size:  sb.Size,
		next:  sb.DataStart(),
	}
}

func (a *Alloc) bit(bn common.Bnum) addr.Addr {
	return addr.MkBitAddr(a.start, bn)
}

// assumes caller holds lock
func (a *Alloc) incNext() common.Bnum {
	a.next = a.next + 1
	if a.next >= a.size {
		a.next = a.first
	}
	return a.next
}

// AllocBlock marks a free data block used and zeroes it, all inside op.
func (a *Alloc) AllocBlock(op *jrnl.Op) common.Bnum {
	a.lock.Lock()
	defer a.lock.Unlock()
	start := a.next
	bn := start
	for {
		if op.ReadObj(a.bit(bn), 1).Data[0] == 0 {
			break
		}
		bn = a.incNext()
		if bn == start {
			util.Fatal(fmt.Errorf("%w: %d data blocks in use", ErrNoSpace, a.size-a.first))
		}
	}
	util.DPrintf(5, "AllocBlock: %d\n", bn)
	op.WriteObj(obj.MkObj(a.bit(bn), 1, []byte{1}))
	a.incNext()
	op.ZeroBlock(bn)
	return bn
}

// FreeBlock marks data block bn free inside op.
func (a *Alloc) FreeBlock(op *jrnl.Op, bn common.Bnum) {
	if bn < a.first || bn >= a.size {
		util.Fatal(fmt.Errorf("%w: %d", ErrNotData, bn))
	}
	a.lock.Lock()
	defer a.lock.Unlock()
	if op.ReadObj(a.bit(bn), 1).Data[0] == 0 {
		util.Fatal(fmt.Errorf("%w: %d", ErrDoubleFree, bn))
	}
	util.DPrintf(5, "FreeBlock: %d\n", bn)
	op.WriteObj(obj.MkObj(a.bit(bn), 1, []byte{0}))
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

// NumFree counts the free data blocks as op sees them.
func (a *Alloc) NumFree(op *jrnl.Op) uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	var used uint64
	nbitmap := util.RoundUp(a.size, common.NBITBLOCK)
	for i := uint64(0); i < nbitmap; i++ {
		blk := op.Read(a.start + i)
		for j, b := range blk {
			first := i*common.NBITBLOCK + uint64(j)*8
			if first >= a.size {
				break
			}
			if first+8 <= a.size {
				used += popCnt(b)
				continue
			}
			// the last byte may cover blocks past the image
			for k := uint64(0); first+k < a.size; k++ {
				used += uint64((b >> k) & 1)
			}
		}
	}
	// metadata blocks are marked used by Format
	return a.size - used
}
