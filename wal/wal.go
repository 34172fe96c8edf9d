//  wal implements the redo log that makes multi-block updates atomic.
//
//  The layout of the log region:
//  [ header | slot 0 | slot 1 | ... | slot size-2 ]
//   ^        ^
//   start    start+1
//
//  Operations bracket their updates with BeginOp and EndOp and hand every
//  modified buffer to Write instead of writing it to disk. Write records the
//  block number in the in-memory header (once per block: later writes to a
//  logged block are absorbed) and pins the buffer. When the last outstanding
//  operation ends, commit copies the logged buffers into the log slots, writes
//  the header (the commit point), installs the blocks at their home locations
//  and erases the header. All operations open at that time commit together.
//
//  BeginOp reserves MaxOpBlocks slots for the new operation and waits while
//  the reservations of all open operations plus the slots already used could
//  exceed the capacity, or while a commit is in progress.
package wal

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-fslog/bcache"
	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/util"
)

func mkLog(bc *bcache.Cache, p Params, reg prometheus.Registerer) (*Log, error) {
	if p.LogSize == 0 {
		p.LogSize = common.LOGSIZE
	}
	if p.MaxOpBlocks == 0 {
		p.MaxOpBlocks = common.MAXOPBLOCKS
	}
	if p.LogSize > common.HDRADDRS {
		return nil, fmt.Errorf("%w: log size %d does not fit a %d-entry header",
			ErrConfig, p.LogSize, common.HDRADDRS)
	}
	if p.Size < 2 {
		return nil, fmt.Errorf("%w: log region of %d blocks", ErrConfig, p.Size)
	}
	nblocks, err := bc.Blocks(p.Dev)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if p.Start+p.Size > nblocks {
		return nil, fmt.Errorf("%w: log region [%d, %d) past the end of a %d-block device",
			ErrConfig, p.Start, p.Start+p.Size, nblocks)
	}
	capacity := util.Min(p.LogSize, p.Size-1)
	if p.MaxOpBlocks > capacity {
		return nil, fmt.Errorf("%w: an operation may log %d blocks but the log holds %d",
			ErrConfig, p.MaxOpBlocks, capacity)
	}
	if bc.Size() < capacity+2 {
		return nil, fmt.Errorf("%w: %d buffers cannot hold %d pinned blocks during commit",
			ErrConfig, bc.Size(), capacity)
	}
	mu := new(sync.Mutex)
	l := &Log{
		mu:          mu,
		cond:        sync.NewCond(mu),
		bc:          bc,
		dev:         p.Dev,
		start:       p.Start,
		size:        p.Size,
		nblocks:     nblocks,
		capacity:    capacity,
		maxOpBlocks: p.MaxOpBlocks,
		m:           newMetrics(reg),
	}
	return l, nil
}

// Open recovers the log described by p (or initializes it from an all-zero
// header) and returns it ready for operations. reg may be nil.
func Open(bc *bcache.Cache, p Params, reg prometheus.Registerer) (*Log, error) {
	l, err := mkLog(bc, p, reg)
	if err != nil {
		return nil, err
	}
	if _, err := l.recover(); err != nil {
		return nil, err
	}
	util.DPrintf(1, "Open: log at %d, capacity %d, %d per op\n",
		l.start, l.capacity, l.maxOpBlocks)
	return l, nil
}

// recover installs a committed but not yet erased transaction and erases it.
// Running it against an empty header only rewrites the empty header.
func (l *Log) recover() (uint64, error) {
	if err := l.readHead(); err != nil {
		return 0, err
	}
	n := l.lh.n()
	l.install(true)
	l.bc.Barrier(l.dev)
	l.lh.blocks = l.lh.blocks[:0]
	l.writeHead()
	l.bc.Barrier(l.dev)
	l.m.recovered.Add(float64(n))
	if n > 0 {
		util.Logger().Info("recovered log", zap.Uint64("blocks", n),
			zap.Uint64("start", l.start))
	}
	return n, nil
}

// assumes caller holds mu
func (l *Log) hasSpace(ops uint64) bool {
	return l.lh.n()+ops*l.maxOpBlocks <= l.capacity
}

// BeginOp admits a new operation, waiting while a commit is in progress or
// while the log might not have room for it.
func (l *Log) BeginOp() {
	waited := false
	l.mu.Lock()
	for {
		if l.closed {
			l.mu.Unlock()
			util.Fatal(ErrClosed)
		}
		if !l.committing && l.hasSpace(l.outstanding+1) {
			break
		}
		waited = true
		l.cond.Wait()
	}
	l.outstanding += 1
	l.m.outstanding.Set(float64(l.outstanding))
	l.mu.Unlock()
	if waited {
		l.m.waits.Inc()
	}
}

// EndOp ends an operation. The last operation to end commits the
// transaction before returning; others return at once and become durable
// with that commit.
func (l *Log) EndOp() {
	doCommit := false
	l.mu.Lock()
	if l.outstanding == 0 {
		l.mu.Unlock()
		util.Fatal(fmt.Errorf("%w: end", ErrOutsideOp))
	}
	if l.committing {
		l.mu.Unlock()
		panic("wal: EndOp during commit")
	}
	l.outstanding -= 1
	l.m.outstanding.Set(float64(l.outstanding))
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		// BeginOp may be waiting for log space, and ending this operation
		// returned its reservation.
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if doCommit {
		// commit without holding mu; it blocks on disk I/O
		l.commit()
		l.mu.Lock()
		l.committing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// Write records that b was modified by the current transaction. The caller
// has finished modifying b and still holds it; it releases b as usual
// afterwards. Write replaces the disk write:
//
//	b := bc.Read(dev, bn)
//	modify b.Data
//	l.Write(b)
//	b.Release()
func (l *Log) Write(b *bcache.Buf) {
	if !b.Held() {
		util.Fatal(fmt.Errorf("%w: log write of block %d", bcache.ErrNotHeld, b.Blkno))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.outstanding < 1 {
		util.Fatal(fmt.Errorf("%w: block %d", ErrOutsideOp, b.Blkno))
	}
	if b.Dev != l.dev {
		util.Fatal(fmt.Errorf("%w: dev %d, log on %d", ErrWrongDevice, b.Dev, l.dev))
	}
	if b.Blkno >= l.start && b.Blkno < l.start+l.size {
		util.Fatal(fmt.Errorf("%w: block %d", ErrLogRegion, b.Blkno))
	}
	if l.lh.n() >= l.capacity {
		util.Fatal(fmt.Errorf("%w: %d blocks logged", ErrTooBig, l.lh.n()))
	}
	for _, bn := range l.lh.blocks {
		if bn == b.Blkno {
			util.DPrintf(5, "Write: absorb %d\n", bn)
			l.m.absorbed.Inc()
			return
		}
	}
	l.lh.blocks = append(l.lh.blocks, b.Blkno)
	l.bc.Pin(b)
}

// Close waits until no operation is open or committing and then refuses new
// operations.
func (l *Log) Close() {
	l.mu.Lock()
	for l.outstanding > 0 || l.committing {
		l.cond.Wait()
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	util.DPrintf(1, "Close: log at %d\n", l.start)
}

// Outstanding reports how many operations are open.
func (l *Log) Outstanding() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstanding
}

// Logged returns the block numbers logged so far by the open transaction.
func (l *Log) Logged() []common.Bnum {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]common.Bnum(nil), l.lh.blocks...)
}
