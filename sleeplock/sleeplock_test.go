package sleeplock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRelease(t *testing.T) {
	assert := assert.New(t)
	l := MkLock()
	assert.False(l.Holding())
	l.Acquire()
	assert.True(l.Holding())
	l.Release()
	assert.False(l.Holding())
}

func TestReleaseUnheldPanics(t *testing.T) {
	l := MkLock()
	assert.Panics(t, func() { l.Release() })
}

func TestMutualExclusion(t *testing.T) {
	l := MkLock()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Acquire()
				counter++
				l.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50*100, counter)
}
