package wal

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
)

// hdr is the log header: the home block numbers of the logged blocks, in
// log-slot order. On disk it is a count followed by common.HDRADDRS 8-byte
// slots, of which the first count are meaningful.
type hdr struct {
	blocks []common.Bnum
}

func (h *hdr) n() uint64 {
	return uint64(len(h.blocks))
}

func (h *hdr) encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(h.n())
	enc.PutInts(h.blocks)
	return enc.Finish()
}

// decodeHdr parses a header block holding at most max entries.
func decodeHdr(b disk.Block, max uint64) (hdr, error) {
	dec := marshal.NewDec(b)
	n := dec.GetInt()
	if n > max {
		return hdr{}, fmt.Errorf("%w: %d entries, at most %d", ErrCorruptHeader, n, max)
	}
	blocks := dec.GetInts(n)
	return hdr{blocks: blocks}, nil
}

// check rejects a header naming a block that recovery must not install:
// one of the log's own blocks or one past the end of the device.
func (h *hdr) check(start common.Bnum, size uint64, nblocks uint64) error {
	for i, bn := range h.blocks {
		if bn >= start && bn < start+size {
			return fmt.Errorf("%w: entry %d is log block %d", ErrCorruptHeader, i, bn)
		}
		if bn >= nblocks {
			return fmt.Errorf("%w: entry %d is block %d of a %d-block device",
				ErrCorruptHeader, i, bn, nblocks)
		}
	}
	return nil
}

// ReadHeader reads the committed, not yet erased, block numbers of the log
// whose header is at start directly from d.
func ReadHeader(d disk.Disk, start common.Bnum) ([]common.Bnum, error) {
	b, err := d.Read(start)
	if err != nil {
		return nil, err
	}
	h, err := decodeHdr(b, common.HDRADDRS)
	if err != nil {
		return nil, err
	}
	return h.blocks, nil
}
