package super

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-fslog/common"
	"github.com/mit-pdos/go-fslog/disk"
)

func TestLayout(t *testing.T) {
	assert := assert.New(t)
	sb, err := MkFsSuper(1000, 31, 200)
	require.NoError(t, err)
	assert.Equal(common.Bnum(2), sb.LogStart)
	assert.Equal(common.Bnum(33), sb.InodeStart)
	assert.Equal(common.Bnum(33+4), sb.BmapStart, "200 inodes in 4 blocks")
	assert.Equal(uint64(1), sb.NBitmap())
	assert.Equal(common.Bnum(38), sb.DataStart())
	assert.Equal(uint64(1000-38), sb.NBlocks)
	assert.Equal(common.Bnum(34), sb.IBlock(64))
}

func TestLayoutErrors(t *testing.T) {
	_, err := MkFsSuper(40, 31, 200)
	assert.True(t, errors.Is(err, ErrBadSuper), "no data blocks")
	_, err = MkFsSuper(1000, 1, 10)
	assert.True(t, errors.Is(err, ErrBadSuper), "log too small")
}

func TestFormatAndRead(t *testing.T) {
	d := disk.NewMemDisk(1000)
	sb, err := MkFsSuper(1000, 31, 200)
	require.NoError(t, err)
	require.NoError(t, Format(d, sb))

	sb2, err := Read(d)
	require.NoError(t, err)
	assert.Equal(t, sb, sb2)

	bmap, err := d.Read(sb.BmapStart)
	require.NoError(t, err)
	// blocks 0..37 are metadata
	for i := 0; i < 4; i++ {
		assert.Equal(t, byte(0xFF), bmap[i], "byte %d", i)
	}
	assert.Equal(t, byte(0x3F), bmap[4])
	assert.Equal(t, byte(0), bmap[5])
	assert.Equal(t, byte(0), bmap[124])
	assert.Equal(t, byte(0xFF), bmap[125], "blocks past the image stay used")
	assert.Equal(t, byte(0xFF), bmap[200])
}

func TestReadRejectsGarbage(t *testing.T) {
	d := disk.NewMemDisk(10)
	_, err := Read(d)
	assert.True(t, errors.Is(err, ErrBadSuper))
}

func TestFormatTooSmallDisk(t *testing.T) {
	sb, err := MkFsSuper(1000, 31, 200)
	require.NoError(t, err)
	err = Format(disk.NewMemDisk(100), sb)
	assert.True(t, errors.Is(err, ErrBadSuper))
}
