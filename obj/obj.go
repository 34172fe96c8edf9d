// Package obj installs sub-block objects (a bitmap bit, an inode) into disk
// blocks and loads them back out.
package obj

import (
	"fmt"

	"github.com/mit-pdos/go-fslog/addr"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/util"
)

// Obj is sz bits of Data stored at Addr.
type Obj struct {
	Addr addr.Addr
	Sz   uint64 // number of bits
	Data []byte
}

func MkObj(a addr.Addr, sz uint64, data []byte) *Obj {
	return &Obj{Addr: a, Sz: sz, Data: data}
}

// Load copies the sz bits at a out of blk.
func Load(a addr.Addr, sz uint64, blk disk.Block) *Obj {
	if sz == 1 {
		bit := (blk[a.Off/8] >> (a.Off % 8)) & 1
		return MkObj(a, sz, []byte{bit})
	}
	checkAligned(a, sz)
	bytefirst := a.Off / 8
	data := util.CloneByteSlice(blk[bytefirst : bytefirst+sz/8])
	return MkObj(a, sz, data)
}

func checkAligned(a addr.Addr, sz uint64) {
	if sz%8 != 0 || a.Off%8 != 0 {
		panic(fmt.Sprintf("obj: unsupported object of %d bits at %v", sz, a))
	}
	if a.Off+sz > disk.BlockSize*8 {
		panic(fmt.Sprintf("obj: object of %d bits at %v crosses the block", sz, a))
	}
}

// Install 1 bit from src into dst, at offset bit. return new dst.
func installOneBit(src byte, dst byte, bit uint64) byte {
	var new byte = dst
	if src&(1<<bit) != dst&(1<<bit) {
		if src&(1<<bit) == 0 {
			// dst is 1, but should be 0
			new = new & ^(1 << bit)
		} else {
			// dst is 0, but should be 1
			new = new | (1 << bit)
		}
	}
	return new
}

// Install writes the object's bits into blk.  Two cases: a bit or a
// byte-aligned object
func (o *Obj) Install(blk disk.Block) {
	util.DPrintf(10, "%v: install %d bits\n", o.Addr, o.Sz)
	if o.Sz == 1 {
		dstbyte := o.Addr.Off / 8
		bit := o.Addr.Off % 8
		blk[dstbyte] = installOneBit(o.Data[0]<<bit, blk[dstbyte], bit)
		return
	}
	checkAligned(o.Addr, o.Sz)
	copy(blk[o.Addr.Off/8:], o.Data[:o.Sz/8])
}
