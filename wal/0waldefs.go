package wal

import (
	"errors"
	"sync"

	"github.com/mit-pdos/go-fslog/bcache"
	"github.com/mit-pdos/go-fslog/common"
)

var (
	// ErrTooBig halts a Write that needs a slot when the log is full.
	ErrTooBig = errors.New("wal: too big a transaction")
	// ErrOutsideOp halts a Write or EndOp with no operation open.
	ErrOutsideOp = errors.New("wal: write outside of an operation")
	// ErrLogRegion halts a Write of one of the log's own blocks.
	ErrLogRegion = errors.New("wal: block belongs to the log region")
	// ErrWrongDevice halts a Write of a buffer from another device.
	ErrWrongDevice = errors.New("wal: buffer is not on the log device")
	// ErrClosed halts a BeginOp after Close.
	ErrClosed = errors.New("wal: log is closed")
	// ErrCorruptHeader is returned by Open when the on-disk header is
	// unreadable.
	ErrCorruptHeader = errors.New("wal: corrupt log header")
	// ErrConfig is returned by Open for an unusable log geometry.
	ErrConfig = errors.New("wal: bad log configuration")
)

// Log is the one transaction log of a mounted device.
//
// mu protects outstanding, committing, closed and lh. commit reads and
// rewrites lh without mu: it only runs with outstanding == 0 and committing
// set, so no Write can race with it.
type Log struct {
	mu   *sync.Mutex
	cond *sync.Cond // committing cleared, or log space freed

	bc  *bcache.Cache
	dev common.Dev

	start       common.Bnum // header block
	size        uint64      // blocks in the log region, header included
	nblocks     uint64      // blocks on the device
	capacity    uint64      // most blocks one transaction may log
	maxOpBlocks uint64      // reservation per operation

	outstanding uint64 // operations between BeginOp and EndOp
	committing  bool
	closed      bool
	lh          hdr

	m *metrics
}

// Params describes where the log lives and how it is sized.
type Params struct {
	Dev   common.Dev
	Start common.Bnum // header block
	Size  uint64      // blocks in the log region, header included

	// LogSize caps the blocks one transaction may log; 0 means
	// common.LOGSIZE. The effective capacity is min(LogSize, Size-1).
	LogSize uint64
	// MaxOpBlocks is the most distinct blocks one operation may log; 0 means
	// common.MAXOPBLOCKS.
	MaxOpBlocks uint64
}

func (l *Log) Dev() common.Dev {
	return l.dev
}

func (l *Log) Capacity() uint64 {
	return l.capacity
}

func (l *Log) MaxOpBlocks() uint64 {
	return l.maxOpBlocks
}
