package disk

import (
	"sync"
)

var _ Disk = (*MemDisk)(nil)

// MemDisk is a volatile disk; it survives a simulated crash as long as the
// value is kept, which is what crash tests remount on.
type MemDisk struct {
	l      *sync.RWMutex
	blocks [][BlockSize]byte
}

func NewMemDisk(numBlocks uint64) *MemDisk {
	blocks := make([][BlockSize]byte, numBlocks)
	return &MemDisk{l: new(sync.RWMutex), blocks: blocks}
}

func (d *MemDisk) ReadTo(a uint64, buf Block) error {
	d.l.RLock()
	defer d.l.RUnlock()
	if err := checkBlock(a, uint64(len(d.blocks)), buf); err != nil {
		return err
	}
	copy(buf, d.blocks[a][:])
	return nil
}

func (d *MemDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *MemDisk) Write(a uint64, v Block) error {
	d.l.Lock()
	defer d.l.Unlock()
	if err := checkBlock(a, uint64(len(d.blocks)), v); err != nil {
		return err
	}
	copy(d.blocks[a][:], v)
	return nil
}

func (d *MemDisk) Size() (uint64, error) {
	// this never changes so we assume it's safe to run lock-free
	return uint64(len(d.blocks)), nil
}

func (d *MemDisk) Barrier() error { return nil }

func (d *MemDisk) Close() error { return nil }

// Snapshot returns an independent copy of the disk contents.
func (d *MemDisk) Snapshot() *MemDisk {
	d.l.RLock()
	defer d.l.RUnlock()
	blocks := make([][BlockSize]byte, len(d.blocks))
	copy(blocks, d.blocks)
	return &MemDisk{l: new(sync.RWMutex), blocks: blocks}
}
