// Package jrnl is the top-level journal API.
//
// A Journal is a mounted file system image: its superblock, a block cache,
// and the image's transaction log. Callers bracket every update in an Op:
//
//	op := jrnl.Begin(j)
//	op.OverWrite(bn, data)
//	op.End()
//
// Writes inside an Op become durable together with every other operation in
// the same group commit, and after a crash either all of them or none of them
// are on disk. There is no abort: an Op that has logged a block always commits
// it.
//
// Reads are not isolated. Callers that share objects across operations lock
// them (for example with their own per-inode locks) before using them in an
// Op, as a file system would.
package jrnl

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-fslog/bcache"
	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/super"
	"github.com/mit-pdos/go-fslog/util"
	"github.com/mit-pdos/go-fslog/wal"
)

var (
	// ErrOpTooBig halts an operation that logs more distinct blocks than
	// its reservation.
	ErrOpTooBig = errors.New("jrnl: operation logs too many blocks")
	// ErrOutOfRange halts an access past the end of the image.
	ErrOutOfRange = errors.New("jrnl: block out of range")
	// ErrEnded halts use of an operation after End.
	ErrEnded = errors.New("jrnl: operation already ended")
)

// Options sizes the cache and the log of a mounted image. Zero fields take
// the defaults in package common.
type Options struct {
	Buffers     uint64
	LogSize     uint64
	MaxOpBlocks uint64
}

type Journal struct {
	dev common.Dev
	d   disk.Disk
	sb  *super.FsSuper
	bc  *bcache.Cache
	log *wal.Log
}

// Mount reads the superblock of d, recovers its log, and returns the image
// ready for operations. reg may be nil.
func Mount(dev common.Dev, d disk.Disk, opts Options, reg prometheus.Registerer) (*Journal, error) {
	sb, err := super.Read(d)
	if err != nil {
		return nil, err
	}
	if opts.Buffers == 0 {
		opts.Buffers = common.NBUF
	}
	bc := bcache.MkCache(opts.Buffers, map[common.Dev]disk.Disk{dev: d}, reg)
	log, err := wal.Open(bc, wal.Params{
		Dev:         dev,
		Start:       sb.LogStart,
		Size:        sb.NLog,
		LogSize:     opts.LogSize,
		MaxOpBlocks: opts.MaxOpBlocks,
	}, reg)
	if err != nil {
		return nil, fmt.Errorf("mount dev %d: %w", dev, err)
	}
	util.Logger().Info("mounted",
		zap.Uint32("dev", uint32(dev)),
		zap.Stringer("id", sb.ID),
		zap.Uint64("size", sb.Size),
		zap.Uint64("log_capacity", log.Capacity()),
		zap.Uint64("buffers", bc.Size()))
	return &Journal{dev: dev, d: d, sb: sb, bc: bc, log: log}, nil
}

// Unmount waits for running operations and their commit, then closes the
// disk. Begin on an unmounted journal is fatal.
func (j *Journal) Unmount() error {
	j.log.Close()
	j.bc.Barrier(j.dev)
	util.Logger().Info("unmounted", zap.Stringer("id", j.sb.ID))
	return j.d.Close()
}

func (j *Journal) Super() *super.FsSuper {
	return j.sb
}

func (j *Journal) Log() *wal.Log {
	return j.log
}

func (j *Journal) Cache() *bcache.Cache {
	return j.bc
}

func (j *Journal) checkRange(bn common.Bnum) {
	if bn >= j.sb.Size {
		util.Fatal(fmt.Errorf("%w: block %d of %d", ErrOutOfRange, bn, j.sb.Size))
	}
}

// Read returns a copy of block bn as the cache currently holds it, including
// writes of operations that have not committed yet.
func (j *Journal) Read(bn common.Bnum) disk.Block {
	j.checkRange(bn)
	b := j.bc.Read(j.dev, bn)
	blk := util.CloneByteSlice(b.Data)
	b.Release()
	return blk
}

// Do runs f inside one operation. f's writes commit even if it returns an
// error; a panic in f leaves the operation open.
func (j *Journal) Do(f func(op *Op) error) error {
	op := Begin(j)
	err := f(op)
	op.End()
	return err
}
