package wal

import (
	"go.uber.org/zap"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/util"
)

func (l *Log) slot(tail int) uint64 {
	return l.start + 1 + uint64(tail)
}

// writeLog copies each logged block's cached content into its log slot.
func (l *Log) writeLog() {
	for tail, bn := range l.lh.blocks {
		to := l.bc.Get(l.dev, l.slot(tail))
		from := l.bc.Read(l.dev, bn)
		util.DPrintf(5, "writeLog: %d to log block %d\n", bn, to.Blkno)
		to.Overwrite(from.Data)
		l.bc.Write(to)
		from.Release()
		to.Release()
	}
}

// writeHead writes the in-memory header to disk. Writing a non-empty header
// commits the transaction; writing an empty one erases it.
func (l *Log) writeHead() {
	b := l.bc.Get(l.dev, l.start)
	b.Overwrite(l.lh.encode())
	l.bc.Write(b)
	b.Release()
}

func (l *Log) readHead() error {
	b := l.bc.Read(l.dev, l.start)
	defer b.Release()
	h, err := decodeHdr(b.Data, util.Min(l.size-1, common.HDRADDRS))
	if err != nil {
		return err
	}
	if err := h.check(l.start, l.size, l.nblocks); err != nil {
		return err
	}
	l.lh = h
	return nil
}

// commit makes the current transaction durable and installs it.
//
// Only called with outstanding == 0 and committing set.
func (l *Log) commit() {
	n := l.lh.n()
	if n == 0 {
		return
	}
	util.DPrintf(1, "commit: %d blocks\n", n)

	l.writeLog()
	l.bc.Barrier(l.dev)

	l.writeHead()
	l.bc.Barrier(l.dev)

	l.install(false)
	l.bc.Barrier(l.dev)

	l.lh.blocks = l.lh.blocks[:0]
	l.writeHead()
	l.bc.Barrier(l.dev)

	l.m.commits.Inc()
	l.m.committed.Add(float64(n))
	util.Logger().Debug("committed", zap.Uint64("blocks", n))
}
