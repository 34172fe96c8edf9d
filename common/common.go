package common

import (
	"github.com/mit-pdos/go-fslog/disk"
)

const (
	// MAXOPBLOCKS is the default bound on distinct blocks one operation may
	// log.
	MAXOPBLOCKS uint64 = 10
	// LOGSIZE is the default number of data blocks in the on-disk log.
	LOGSIZE uint64 = MAXOPBLOCKS * 3
	// NBUF is the default number of buffers in the block cache.
	NBUF uint64 = LOGSIZE * 2

	HDRMETA  = uint64(8) // space for the count
	HDRADDRS = (disk.BlockSize - HDRMETA) / 8

	NBITBLOCK uint64 = disk.BlockSize * 8

	FSMAGIC uint64 = 0x10203040
)

// Bnum is a block number on a device.
type Bnum = uint64

// Dev identifies a device attached to the block cache.
type Dev uint32

const (
	NULLBNUM Bnum = 0
	ROOTDEV  Dev  = 1
)
