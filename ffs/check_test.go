package ffs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/flashfs"
	"github.com/dacapoday/flashfs/internal/disk"
)

func TestCheckClean(t *testing.T) {
	_, fs := fresh(t, 3)
	tree(t, fs)
	require.NoError(t, fs.Check())
}

func TestCheckSize(t *testing.T) {
	_, fs := fresh(t, 3)
	f := writeFile(t, fs, fs.Root(), "f", []byte("payload"))
	e, _, ok := fs.findInode(f.ID())
	require.True(t, ok)
	e.size++

	err := fs.Check()
	require.ErrorIs(t, err, ErrCorrupt)
	require.Contains(t, err.Error(), "blocks hold 7 bytes, size is 8")
}

func TestCheckLiveBytes(t *testing.T) {
	_, fs := fresh(t, 3)
	writeFile(t, fs, fs.Root(), "f", []byte("payload"))
	fs.areas.Area(0).Live += 3

	err := fs.Check()
	require.ErrorIs(t, err, ErrCorrupt)
	require.Contains(t, err.Error(), "area 0")
}

func TestCheckFlippedBit(t *testing.T) {
	flash, fs := fresh(t, 3)
	f := writeFile(t, fs, fs.Root(), "f", bytes.Repeat([]byte{0xff}, 64))
	e, _, ok := fs.findInode(f.ID())
	require.True(t, ok)
	b, ok := fs.findBlock(e.tail)
	require.True(t, ok)

	off := int64(b.loc.Area)*areaSize + int64(b.loc.Off) + disk.BlockHeaderSize + 10
	_, err := flash.WriteAt([]byte{0xfe}, off)
	require.NoError(t, err)

	err = fs.Check()
	require.ErrorIs(t, err, ErrCorrupt)
	require.ErrorIs(t, err, flashfs.ErrBadChecksum)

	_, err = fs.ReadAt(f, make([]byte, 64), 0)
	require.ErrorIs(t, err, flashfs.ErrBadChecksum)
}

func TestCheckReportsEveryProblem(t *testing.T) {
	_, fs := fresh(t, 3)
	f := writeFile(t, fs, fs.Root(), "f", []byte("payload"))
	g := writeFile(t, fs, fs.Root(), "g", []byte("payload"))
	for _, ino := range []Inode{f, g} {
		e, _, _ := fs.findInode(ino.ID())
		e.size = 100
	}

	err := fs.Check()
	require.ErrorIs(t, err, ErrCorrupt)
	require.Equal(t, 2, bytes.Count([]byte(err.Error()), []byte("size is 100")))
}
