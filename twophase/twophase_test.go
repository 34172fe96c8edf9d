package twophase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-fslog/addr"
	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/jrnl"
	"github.com/mit-pdos/go-fslog/lockmap"
	"github.com/mit-pdos/go-fslog/super"
)

func mount(t *testing.T) (*disk.MemDisk, *jrnl.Journal) {
	d := disk.NewMemDisk(1000)
	sb, err := super.MkFsSuper(1000, 31, 64)
	require.NoError(t, err)
	require.NoError(t, super.Format(d, sb))
	j, err := jrnl.Mount(common.ROOTDEV, d, jrnl.Options{}, nil)
	require.NoError(t, err)
	return d, j
}

func counterAddr(sb *super.FsSuper, i uint64) addr.Addr {
	return addr.MkByteAddr(sb.IBlock(i), (i%super.IPB)*super.INODESZ)
}

// increment adds one to the 8-byte counter at a.
func increment(tp *TwoPhase, a addr.Addr) {
	o := tp.ReadObj(a, 64)
	v := marshal.NewDec(o.Data).GetInt()
	enc := marshal.NewEnc(8)
	enc.PutInt(v + 1)
	o.Data = enc.Finish()
	tp.WriteObj(o)
}

func TestAcquireIsIdempotent(t *testing.T) {
	_, j := mount(t)
	lm := lockmap.MkLockMap()
	tp := Begin(j, lm)
	a := counterAddr(j.Super(), 0)
	tp.Acquire(a)
	tp.Acquire(a)
	increment(tp, a)
	assert.Equal(t, 1, lm.Len())
	tp.End()
	assert.Equal(t, 0, lm.Len(), "End releases every lock")
}

func TestConcurrentIncrements(t *testing.T) {
	d, j := mount(t)
	sb := j.Super()
	lm := lockmap.MkLockMap()
	const ncounters = 4
	const workers = 16
	const rounds = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				tp := Begin(j, lm)
				increment(tp, counterAddr(sb, uint64((w+i)%ncounters)))
				tp.End()
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, j.Unmount())

	j, err := jrnl.Mount(common.ROOTDEV, d, jrnl.Options{}, nil)
	require.NoError(t, err)
	op := jrnl.Begin(j)
	var total uint64
	for i := uint64(0); i < ncounters; i++ {
		total += marshal.NewDec(op.ReadObj(counterAddr(sb, i), 64).Data).GetInt()
	}
	op.End()
	assert.Equal(t, uint64(workers*rounds), total, "no lost updates")
}
