// Package super describes the on-disk layout of a file system image:
//
//	[ boot block | super block | log | inode blocks | free bit map | data blocks ]
//
// Format writes a fresh image the way mkfs does.
package super

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/util"
)

const (
	SUPERBLK common.Bnum = 1
	LOGSTART common.Bnum = 2

	INODESZ uint64 = 64 // on-disk inode size
	IPB            = disk.BlockSize / INODESZ

	nfields = 8
	idOff   = nfields * 8
)

var ErrBadSuper = errors.New("super: bad superblock")

type FsSuper struct {
	Magic      uint64
	Size       uint64 // size of the image in blocks
	NBlocks    uint64 // number of data blocks
	NInodes    uint64
	NLog       uint64 // log blocks, header included
	LogStart   common.Bnum
	InodeStart common.Bnum
	BmapStart  common.Bnum
	ID         uuid.UUID
}

// MkFsSuper lays out an image of size blocks with nlog log blocks and room
// for ninodes inodes.
func MkFsSuper(size uint64, nlog uint64, ninodes uint64) (*FsSuper, error) {
	ninodeblocks := util.RoundUp(ninodes, IPB)
	nbitmap := util.RoundUp(size, common.NBITBLOCK)
	nmeta := LOGSTART + nlog + ninodeblocks + nbitmap
	if nlog < 2 {
		return nil, fmt.Errorf("%w: log of %d blocks", ErrBadSuper, nlog)
	}
	if nmeta >= size {
		return nil, fmt.Errorf("%w: %d metadata blocks leave no data blocks in %d",
			ErrBadSuper, nmeta, size)
	}
	return &FsSuper{
		Magic:      common.FSMAGIC,
		Size:       size,
		NBlocks:    size - nmeta,
		NInodes:    ninodes,
		NLog:       nlog,
		LogStart:   LOGSTART,
		InodeStart: LOGSTART + nlog,
		BmapStart:  LOGSTART + nlog + ninodeblocks,
		ID:         uuid.New(),
	}, nil
}

// NBitmap is the number of bitmap blocks.
func (sb *FsSuper) NBitmap() uint64 {
	return util.RoundUp(sb.Size, common.NBITBLOCK)
}

// DataStart is the first data block.
func (sb *FsSuper) DataStart() common.Bnum {
	return sb.BmapStart + sb.NBitmap()
}

// IBlock is the block containing inode inum.
func (sb *FsSuper) IBlock(inum uint64) common.Bnum {
	return inum/IPB + sb.InodeStart
}

func (sb *FsSuper) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(sb.Magic)
	enc.PutInt(sb.Size)
	enc.PutInt(sb.NBlocks)
	enc.PutInt(sb.NInodes)
	enc.PutInt(sb.NLog)
	enc.PutInt(sb.LogStart)
	enc.PutInt(sb.InodeStart)
	enc.PutInt(sb.BmapStart)
	blk := enc.Finish()
	copy(blk[idOff:], sb.ID[:])
	return blk
}

func Decode(blk disk.Block) (*FsSuper, error) {
	dec := marshal.NewDec(blk)
	sb := &FsSuper{
		Magic:      dec.GetInt(),
		Size:       dec.GetInt(),
		NBlocks:    dec.GetInt(),
		NInodes:    dec.GetInt(),
		NLog:       dec.GetInt(),
		LogStart:   dec.GetInt(),
		InodeStart: dec.GetInt(),
		BmapStart:  dec.GetInt(),
	}
	id, err := uuid.FromBytes(blk[idOff : idOff+16])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSuper, err)
	}
	sb.ID = id
	if err := sb.check(); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *FsSuper) check() error {
	if sb.Magic != common.FSMAGIC {
		return fmt.Errorf("%w: magic %#x", ErrBadSuper, sb.Magic)
	}
	if sb.LogStart <= SUPERBLK || sb.NLog < 2 ||
		sb.InodeStart < sb.LogStart+sb.NLog ||
		sb.BmapStart < sb.InodeStart ||
		sb.DataStart()+sb.NBlocks != sb.Size {
		return fmt.Errorf("%w: inconsistent layout %+v", ErrBadSuper, *sb)
	}
	return nil
}

// Read reads and validates the superblock of d.
func Read(d disk.Disk) (*FsSuper, error) {
	blk, err := d.Read(SUPERBLK)
	if err != nil {
		return nil, err
	}
	return Decode(blk)
}

// Format writes an empty image described by sb to d: an erased log header,
// the superblock, and a bitmap that marks every metadata block in use.
func Format(d disk.Disk, sb *FsSuper) error {
	sz, err := d.Size()
	if err != nil {
		return err
	}
	if sz < sb.Size {
		return fmt.Errorf("%w: image of %d blocks on a %d-block disk", ErrBadSuper, sb.Size, sz)
	}
	zero := make(disk.Block, disk.BlockSize)
	for bn := sb.LogStart; bn < sb.DataStart(); bn++ {
		if err := d.Write(bn, zero); err != nil {
			return err
		}
	}
	// metadata blocks are never allocated
	used := sb.DataStart()
	for i := uint64(0); i < sb.NBitmap(); i++ {
		blk := make(disk.Block, disk.BlockSize)
		for bit := uint64(0); bit < common.NBITBLOCK; bit++ {
			n := i*common.NBITBLOCK + bit
			if n < used || n >= sb.Size {
				blk[bit/8] |= 1 << (bit % 8)
			}
		}
		if err := d.Write(sb.BmapStart+i, blk); err != nil {
			return err
		}
	}
	if err := d.Write(SUPERBLK, sb.Encode()); err != nil {
		return err
	}
	return d.Barrier()
}
