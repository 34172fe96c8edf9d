package lockmap

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	lm := MkLockMap()
	lm.Acquire(1)
	lm.Acquire(1 + NSHARD)
	assert.Equal(t, 2, lm.Len())
	lm.Release(1)
	lm.Release(1 + NSHARD)
	assert.Equal(t, 0, lm.Len(), "free keys keep no state")
}

func TestMutualExclusion(t *testing.T) {
	lm := MkLockMap()
	var wg sync.WaitGroup
	counts := make([]int, 4)
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				k := uint64(i % len(counts))
				lm.Acquire(k)
				counts[k]++
				lm.Release(k)
			}
		}()
	}
	wg.Wait()
	for k, c := range counts {
		assert.Equal(t, 20*100/len(counts), c, "key %d", k)
	}
	assert.Equal(t, 0, lm.Len())
}

func TestWaiterWakes(t *testing.T) {
	lm := MkLockMap()
	lm.Acquire(7)
	got := make(chan struct{})
	go func() {
		lm.Acquire(7)
		close(got)
	}()
	select {
	case <-got:
		t.Fatal("acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	lm.Release(7)
	<-got
	lm.Release(7)
}

func TestReleaseFreeIsFatal(t *testing.T) {
	lm := MkLockMap()
	var err error
	func() {
		defer func() { err = recover().(error) }()
		lm.Release(3)
	}()
	assert.True(t, errors.Is(err, ErrNotHeld))
}
