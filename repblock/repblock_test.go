package repblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
	"github.com/mit-pdos/go-fslog/jrnl"
	"github.com/mit-pdos/go-fslog/super"
)

func mkBlock(b0 byte) disk.Block {
	b := make(disk.Block, disk.BlockSize)
	b[0] = b0
	return b
}

func mkfs(t *testing.T) (*disk.MemDisk, common.Bnum) {
	d := disk.NewMemDisk(1000)
	sb, err := super.MkFsSuper(1000, 31, 64)
	require.NoError(t, err)
	require.NoError(t, super.Format(d, sb))
	return d, sb.DataStart()
}

func mount(t *testing.T, d disk.Disk) *jrnl.Journal {
	j, err := jrnl.Mount(common.ROOTDEV, d, jrnl.Options{}, nil)
	require.NoError(t, err)
	return j
}

func TestRepBlock(t *testing.T) {
	d, a := mkfs(t)
	j := mount(t, d)
	rb := Open(j, a)
	rb.Write(mkBlock(1))

	b := rb.Read()
	assert.Equal(t, byte(1), b[0])
	require.NoError(t, j.Unmount())
}

func TestRepBlockRecovery(t *testing.T) {
	d, a := mkfs(t)
	j := mount(t, d)
	rb := Open(j, a)
	rb.Write(mkBlock(1))
	require.NoError(t, j.Unmount())

	rb2 := Open(mount(t, d), a)
	b := rb2.Read()
	assert.Equal(t, byte(1), b[0], "rep block should be crash safe")
}

func TestRepBlockCrash(t *testing.T) {
	for limit := uint64(0); limit < 12; limit++ {
		d, a := mkfs(t)
		j := mount(t, d)
		Open(j, a).Write(mkBlock(1))
		require.NoError(t, j.Unmount())

		j = mount(t, disk.NewCrashDisk(d, limit))
		Open(j, a).Write(mkBlock(2))

		b0, b1 := Open(mount(t, d), a).ReadBoth()
		assert.Equal(t, b0, b1, "limit %d", limit)
		assert.Contains(t, []byte{1, 2}, b0[0], "limit %d", limit)
	}
}
