package bcache

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
)

const dev = common.ROOTDEV

func mkBlock(b byte) disk.Block {
	block := make(disk.Block, disk.BlockSize)
	for i := range block {
		block[i] = b
	}
	return block
}

// fatalErr runs f and returns the error it halted with, or nil.
func fatalErr(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = r.(error)
		}
	}()
	f()
	return nil
}

type CacheSuite struct {
	suite.Suite
	d   *disk.MemDisk
	reg *prometheus.Registry
	bc  *Cache
}

func (suite *CacheSuite) SetupTest() {
	suite.d = disk.NewMemDisk(100)
	suite.reg = prometheus.NewRegistry()
	suite.bc = MkCache(4, map[common.Dev]disk.Disk{dev: suite.d}, suite.reg)
}

func TestCache(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (suite *CacheSuite) TestReadPopulatesFromDisk() {
	suite.Require().NoError(suite.d.Write(7, mkBlock(7)))
	b := suite.bc.Read(dev, 7)
	suite.Equal(mkBlock(7), b.Data)
	b.Release()
	suite.Equal(1.0, testutil.ToFloat64(suite.bc.m.reads))

	b = suite.bc.Read(dev, 7)
	b.Release()
	suite.Equal(1.0, testutil.ToFloat64(suite.bc.m.reads), "second read is cached")
	suite.Equal(1.0, testutil.ToFloat64(suite.bc.m.hits))
}

func (suite *CacheSuite) TestMutationInvisibleUntilWrite() {
	b := suite.bc.Read(dev, 3)
	copy(b.Data, mkBlock(9))
	blk, _ := suite.d.Read(3)
	suite.Equal(mkBlock(0), blk, "no implicit persistence")
	suite.bc.Write(b)
	b.Release()
	blk, _ = suite.d.Read(3)
	suite.Equal(mkBlock(9), blk)
}

func (suite *CacheSuite) TestSameKeySameBuffer() {
	b1 := suite.bc.Read(dev, 5)
	b1.Release()
	b2 := suite.bc.Read(dev, 5)
	defer b2.Release()
	suite.Same(b1, b2)
}

func (suite *CacheSuite) TestConcurrentLookupsShareBuffer() {
	const n = 16
	bufs := make([]*Buf, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := suite.bc.Read(dev, 11)
			b.Data[0]++
			bufs[i] = b
			b.Release()
		}(i)
	}
	wg.Wait()
	for _, b := range bufs {
		suite.Same(bufs[0], b)
	}
	suite.Equal(byte(n), bufs[0].Data[0], "content lock serializes holders")
}

func (suite *CacheSuite) TestEvictsLeastRecentlyReleased() {
	bc := suite.bc
	for bn := uint64(1); bn <= 4; bn++ {
		bc.Read(dev, bn).Release()
	}
	// block 1 was released first, so it is the victim
	bc.Read(dev, 5).Release()
	suite.Equal(1.0, testutil.ToFloat64(bc.m.evictions))
	_, ok := bc.index[key{dev: dev, blkno: 1}]
	suite.False(ok, "block 1 evicted")
	_, ok = bc.index[key{dev: dev, blkno: 2}]
	suite.True(ok, "block 2 still cached")
}

func (suite *CacheSuite) TestReferencedBufferNeverEvicted() {
	bc := suite.bc
	held := bc.Read(dev, 1)
	copy(held.Data, mkBlock(1))
	for bn := uint64(2); bn < 20; bn++ {
		bc.Read(dev, bn).Release()
	}
	suite.Equal(uint64(1), held.Blkno)
	suite.Equal(mkBlock(1), held.Data)
	held.Release()
}

func (suite *CacheSuite) TestPinnedBufferSurvivesRelease() {
	bc := suite.bc
	b := bc.Read(dev, 1)
	copy(b.Data, mkBlock(4))
	bc.Pin(b)
	b.Release()
	suite.Equal(uint64(1), bc.Refcnt(b))
	suite.Equal(1.0, testutil.ToFloat64(bc.m.pinned))

	for bn := uint64(2); bn < 20; bn++ {
		bc.Read(dev, bn).Release()
	}
	b2 := bc.Read(dev, 1)
	suite.Same(b, b2)
	suite.Equal(mkBlock(4), b2.Data, "pinned content was not discarded")
	b2.Release()

	bc.Unpin(b)
	suite.Equal(uint64(0), bc.Refcnt(b))
}

func (suite *CacheSuite) TestExhaustionIsFatal() {
	bc := suite.bc
	for bn := uint64(0); bn < bc.Size(); bn++ {
		b := bc.Read(dev, bn)
		b.lock.Release() // keep the reference, free the content lock
	}
	err := fatalErr(func() { bc.Read(dev, 99) })
	suite.True(errors.Is(err, ErrNoBuffers), "got %v", err)
}

func (suite *CacheSuite) TestWriteWithoutLockIsFatal() {
	b := suite.bc.Read(dev, 2)
	b.Release()
	err := fatalErr(func() { suite.bc.Write(b) })
	suite.True(errors.Is(err, ErrNotHeld), "got %v", err)
}

func (suite *CacheSuite) TestUnpinUnderflowIsFatal() {
	b := suite.bc.Read(dev, 2)
	b.Release()
	err := fatalErr(func() { suite.bc.Unpin(b) })
	suite.True(errors.Is(err, ErrRefcount))
}

func (suite *CacheSuite) TestGetThenOverwrite() {
	suite.Require().NoError(suite.d.Write(8, mkBlock(8)))
	b := suite.bc.Get(dev, 8)
	b.Overwrite(mkBlock(2))
	b.Release()
	b = suite.bc.Read(dev, 8)
	suite.Equal(mkBlock(2), b.Data, "overwritten buffer is valid and not re-read")
	b.Release()
	suite.Equal(0.0, testutil.ToFloat64(suite.bc.m.reads))
}

func TestIOErrorIsFatal(t *testing.T) {
	d := disk.NewMemDisk(4)
	bc := MkCache(2, map[common.Dev]disk.Disk{dev: d}, nil)
	err := fatalErr(func() { bc.Read(dev, 10) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIO))
	assert.True(t, errors.Is(err, disk.ErrOutOfBounds))
}

func TestUnknownDeviceIsFatal(t *testing.T) {
	bc := MkCache(2, map[common.Dev]disk.Disk{}, nil)
	err := fatalErr(func() { bc.Read(7, 0) })
	assert.True(t, errors.Is(err, ErrNoDevice))
}

// hookDisk runs onWrite while a write is in flight.
type hookDisk struct {
	disk.Disk
	onWrite func()
}

func (h *hookDisk) Write(a uint64, v disk.Block) error {
	h.onWrite()
	return h.Disk.Write(a, v)
}

func TestChangeDuringIOIsFatal(t *testing.T) {
	d := disk.NewMemDisk(8)
	hd := &hookDisk{Disk: d}
	bc := MkCache(2, map[common.Dev]disk.Disk{dev: hd}, nil)
	b := bc.Read(dev, 3)
	hd.onWrite = func() { b.Overwrite(mkBlock(9)) }
	err := fatalErr(func() { bc.Write(b) })
	assert.True(t, errors.Is(err, ErrDiskOwned), "got %v", err)

	onDisk, err := d.Read(3)
	require.NoError(t, err)
	assert.Equal(t, mkBlock(0), onDisk)
}
