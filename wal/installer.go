package wal

import (
	"github.com/mit-pdos/go-fslog/util"
)

// install copies each logged block from its log slot to its home location.
// Installing is idempotent, so recovery may repeat it.
//
// During recovery nothing was pinned, so nothing is unpinned.
func (l *Log) install(recovering bool) {
	for tail, bn := range l.lh.blocks {
		lbuf := l.bc.Read(l.dev, l.slot(tail))
		dbuf := l.bc.Get(l.dev, bn)
		util.DPrintf(5, "install: log block %d to %d\n", lbuf.Blkno, bn)
		dbuf.Overwrite(lbuf.Data)
		l.bc.Write(dbuf)
		if !recovering {
			l.bc.Unpin(dbuf)
		}
		lbuf.Release()
		dbuf.Release()
	}
}
