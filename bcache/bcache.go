// Package bcache holds a fixed pool of in-memory copies of disk blocks.
//
// A buffer is identified by (device, block number). At most one buffer is
// bound to a key at any time, so concurrent lookups of the same block share
// one copy. Get and Read return a buffer whose content lock is held by the
// caller; the caller must Release it exactly once. Unreferenced buffers are
// recycled least recently released first.
//
// Mutating Data is invisible on disk until Write or a log commit.
package bcache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/sleeplock"
	"github.com/mit-pdos/go-fslog/util"
)

var (
	// ErrNoBuffers halts a lookup when every buffer is referenced.
	ErrNoBuffers = errors.New("bcache: no buffers")
	ErrNotHeld   = errors.New("bcache: buffer content lock not held")
	ErrNoDevice  = errors.New("bcache: no such device")
	ErrIO        = errors.New("bcache: disk I/O failed")
	ErrRefcount  = errors.New("bcache: reference count underflow")
	// ErrDiskOwned halts a change to a buffer the disk is still reading or
	// writing.
	ErrDiskOwned = errors.New("bcache: buffer owned by the disk")
)

type key struct {
	dev   common.Dev
	blkno common.Bnum
}

// Buf is a cached copy of one disk block.
type Buf struct {
	Dev   common.Dev
	Blkno common.Bnum
	Data  disk.Block

	valid bool // has Data been read from disk?
	disk  bool // does the disk own Data?
	bound bool // has the buffer ever held a block?
	lock  *sleeplock.Lock

	// protected by Cache.mu
	refcnt     uint64
	prev, next *Buf

	bc *Cache
}

// Release gives the buffer back to its cache.
func (b *Buf) Release() {
	b.bc.Release(b)
}

// Overwrite replaces the whole content of a held buffer, which makes it valid
// without reading the disk.
func (b *Buf) Overwrite(data []byte) {
	b.mustOwn("overwrite")
	if uint64(len(data)) != disk.BlockSize {
		panic("bcache: overwrite with a partial block")
	}
	copy(b.Data, data)
	b.valid = true
}

// Zero clears a held buffer, making it valid.
func (b *Buf) Zero() {
	b.mustOwn("zero")
	for i := range b.Data {
		b.Data[i] = 0
	}
	b.valid = true
}

func (b *Buf) mustHold(op string) {
	if !b.lock.Holding() {
		util.Fatal(fmt.Errorf("%w: %s dev %d block %d", ErrNotHeld, op, b.Dev, b.Blkno))
	}
}

// mustOwn checks that the caller holds b and the disk is done with Data.
func (b *Buf) mustOwn(op string) {
	b.mustHold(op)
	if b.disk {
		util.Fatal(fmt.Errorf("%w: %s dev %d block %d", ErrDiskOwned, op, b.Dev, b.Blkno))
	}
}

// Cache is the block cache.
type Cache struct {
	mu    *sync.Mutex
	bufs  []*Buf
	head  Buf // recency list sentinel; head.next was released most recently
	index map[key]*Buf
	devs  map[common.Dev]disk.Disk
	m     *metrics
}

// MkCache allocates nbuf buffers for the devices in devs. reg may be nil.
func MkCache(nbuf uint64, devs map[common.Dev]disk.Disk, reg prometheus.Registerer) *Cache {
	bc := &Cache{
		mu:    new(sync.Mutex),
		bufs:  make([]*Buf, 0, nbuf),
		index: make(map[key]*Buf),
		devs:  devs,
		m:     newMetrics(reg),
	}
	bc.head.prev = &bc.head
	bc.head.next = &bc.head
	for i := uint64(0); i < nbuf; i++ {
		b := &Buf{
			Data: make(disk.Block, disk.BlockSize),
			lock: sleeplock.MkLock(),
			bc:   bc,
		}
		bc.bufs = append(bc.bufs, b)
		bc.pushFront(b)
	}
	util.DPrintf(1, "MkCache: %d buffers\n", nbuf)
	return bc
}

func (bc *Cache) Size() uint64 {
	return uint64(len(bc.bufs))
}

// assumes caller holds mu
func (bc *Cache) pushFront(b *Buf) {
	b.next = bc.head.next
	b.prev = &bc.head
	bc.head.next.prev = b
	bc.head.next = b
}

// assumes caller holds mu
func (bc *Cache) unlink(b *Buf) {
	b.prev.next = b.next
	b.next.prev = b.prev
}

// lookup finds the buffer for (dev, blkno), binding a recycled one if the
// block is not cached, and takes a reference on it.
func (bc *Cache) lookup(dev common.Dev, blkno common.Bnum) *Buf {
	k := key{dev: dev, blkno: blkno}
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if b, ok := bc.index[k]; ok {
		b.refcnt += 1
		bc.m.hits.Inc()
		return b
	}
	bc.m.misses.Inc()

	for b := bc.head.prev; b != &bc.head; b = b.prev {
		if b.refcnt != 0 {
			continue
		}
		if b.bound {
			util.DPrintf(5, "bcache: evict %d/%d for %d/%d\n",
				b.Dev, b.Blkno, dev, blkno)
			delete(bc.index, key{dev: b.Dev, blkno: b.Blkno})
			bc.m.evictions.Inc()
		}
		b.Dev = dev
		b.Blkno = blkno
		b.valid = false
		b.bound = true
		b.refcnt = 1
		bc.index[k] = b
		return b
	}
	return nil
}

// Get returns the locked buffer for (dev, blkno) without reading the disk.
// Its content is only meaningful if the block was already cached; use it
// when the caller overwrites the whole block.
func (bc *Cache) Get(dev common.Dev, blkno common.Bnum) *Buf {
	b := bc.lookup(dev, blkno)
	if b == nil {
		util.Fatal(fmt.Errorf("%w: dev %d block %d", ErrNoBuffers, dev, blkno))
	}
	b.lock.Acquire()
	return b
}

// Read returns the locked buffer for (dev, blkno) holding the block's
// content.
func (bc *Cache) Read(dev common.Dev, blkno common.Bnum) *Buf {
	b := bc.Get(dev, blkno)
	if !b.valid {
		bc.io(b, false)
		b.valid = true
	}
	return b
}

// Write writes b's content to its home location. The caller must hold b.
func (bc *Cache) Write(b *Buf) {
	b.mustHold("write")
	bc.io(b, true)
	b.valid = true
}

func (bc *Cache) io(b *Buf, write bool) {
	d, ok := bc.devs[b.Dev]
	if !ok {
		util.Fatal(fmt.Errorf("%w: %d", ErrNoDevice, b.Dev))
	}
	if b.disk {
		util.Fatal(fmt.Errorf("%w: io dev %d block %d", ErrDiskOwned, b.Dev, b.Blkno))
	}
	var err error
	b.disk = true
	if write {
		bc.m.writes.Inc()
		err = d.Write(b.Blkno, b.Data)
	} else {
		bc.m.reads.Inc()
		err = d.ReadTo(b.Blkno, b.Data)
	}
	b.disk = false
	if err != nil {
		util.Fatal(fmt.Errorf("%w: dev %d block %d: %w", ErrIO, b.Dev, b.Blkno, err))
	}
}

// Release drops the caller's reference and content lock. A buffer whose
// last reference goes away becomes the most recently used.
func (bc *Cache) Release(b *Buf) {
	b.mustHold("release")
	b.lock.Release()

	bc.mu.Lock()
	defer bc.mu.Unlock()
	if b.refcnt == 0 {
		util.Fatal(fmt.Errorf("%w: release dev %d block %d", ErrRefcount, b.Dev, b.Blkno))
	}
	b.refcnt -= 1
	if b.refcnt == 0 {
		bc.unlink(b)
		bc.pushFront(b)
	}
}

// Pin takes an extra reference on b so it stays cached after its holder
// releases it.
func (bc *Cache) Pin(b *Buf) {
	bc.mu.Lock()
	b.refcnt += 1
	bc.m.pinned.Inc()
	bc.mu.Unlock()
}

func (bc *Cache) Unpin(b *Buf) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if b.refcnt == 0 {
		util.Fatal(fmt.Errorf("%w: unpin dev %d block %d", ErrRefcount, b.Dev, b.Blkno))
	}
	b.refcnt -= 1
	bc.m.pinned.Dec()
}

// Refcnt reports the number of references on b.
func (bc *Cache) Refcnt(b *Buf) uint64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return b.refcnt
}

// Barrier waits until every write to dev is durable.
func (bc *Cache) Barrier(dev common.Dev) {
	d, ok := bc.devs[dev]
	if !ok {
		util.Fatal(fmt.Errorf("%w: %d", ErrNoDevice, dev))
	}
	if err := d.Barrier(); err != nil {
		util.Fatal(fmt.Errorf("%w: barrier dev %d: %w", ErrIO, dev, err))
	}
}

// Blocks reports the size of dev in blocks.
func (bc *Cache) Blocks(dev common.Dev) (uint64, error) {
	d, ok := bc.devs[dev]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoDevice, dev)
	}
	return d.Size()
}

// Held reports whether b's content lock is held.
func (b *Buf) Held() bool {
	return b.lock.Holding()
}
