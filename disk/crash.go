package disk

import (
	"math"
	"sync"
)

// NoCrash is a CrashDisk limit that never crashes.
const NoCrash uint64 = math.MaxUint64

var _ Disk = (*CrashDisk)(nil)

// CrashDisk simulates power loss: the first limit writes reach the wrapped
// disk and every later write (and barrier) is silently dropped. The wrapped
// disk then holds exactly the image a crash at that point would leave.
type CrashDisk struct {
	d       Disk
	mu      sync.Mutex
	limit   uint64
	writes  uint64
	crashed bool
}

func NewCrashDisk(d Disk, limit uint64) *CrashDisk {
	return &CrashDisk{d: d, limit: limit}
}

func (c *CrashDisk) Read(a uint64) (Block, error) {
	return c.d.Read(a)
}

func (c *CrashDisk) ReadTo(a uint64, b Block) error {
	return c.d.ReadTo(a, b)
}

func (c *CrashDisk) Write(a uint64, v Block) error {
	c.mu.Lock()
	if c.writes >= c.limit {
		c.crashed = true
		c.mu.Unlock()
		return nil
	}
	c.writes++
	c.mu.Unlock()
	return c.d.Write(a, v)
}

func (c *CrashDisk) Size() (uint64, error) {
	return c.d.Size()
}

func (c *CrashDisk) Barrier() error {
	if c.Crashed() {
		return nil
	}
	return c.d.Barrier()
}

func (c *CrashDisk) Close() error {
	return nil
}

// Writes reports how many writes reached the wrapped disk.
func (c *CrashDisk) Writes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *CrashDisk) Crashed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crashed
}
