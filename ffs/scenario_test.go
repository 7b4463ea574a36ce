package ffs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/flashfs/internal/disk"
)

// Two 4 KiB areas leave a single data area. After a.txt only 938 bytes
// can be reclaimed, less than a full block record.
func TestScenarioTwoAreasFill(t *testing.T) {
	flash, fs := fresh(t, 2)
	a := writeFile(t, fs, fs.Root(), "a.txt", pattern(1, 3000))

	stats, err := fs.Stats()
	require.NoError(t, err)
	require.Equal(t, 2010, stats.MaxBlockSize)
	require.Equal(t, 2, stats.Blocks)
	data := stats.Areas[0]
	require.Equal(t, uint32(3129), data.Cursor)

	b, err := fs.Create(fs.Root(), "b.txt")
	require.NoError(t, err)
	n, err := fs.WriteAt(b, pattern(2, 3000), 0)
	require.ErrorIs(t, err, ErrFull)
	require.Zero(t, n)

	require.NoError(t, fs.Error())
	require.Equal(t, pattern(1, 3000), readAll(t, fs, a))
	info, err := fs.Stat(b)
	require.NoError(t, err)
	require.Zero(t, info.Size)
	stats, err = fs.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(3129+disk.InodeSize(5)-disk.AreaHeaderSize), stats.Live)
	require.NoError(t, fs.Check())
	require.NoError(t, fs.Close())

	fs = mount(t, flash, 2)
	require.Equal(t, pattern(1, 3000), readAll(t, fs, lookup(t, fs, "a.txt")))
	require.NoError(t, fs.Check())
}

// Deleted files leave every data area too full for a block record; writing
// then has to compact one of them.
func TestScenarioCompactsDeletedData(t *testing.T) {
	flash, fs := fresh(t, 4)
	a := writeFile(t, fs, fs.Root(), "a.txt", pattern(1, 3000))

	record := disk.BlockSize(2010)
	full := func() bool {
		stats, err := fs.Stats()
		require.NoError(t, err)
		for _, area := range stats.Areas {
			if !area.Scratch && area.Length-area.Cursor >= record {
				return false
			}
		}
		return true
	}
	for i := 0; !full(); i++ {
		require.Less(t, i, 100)
		junk := writeFile(t, fs, fs.Root(), "junk", pattern(100+i, 1500))
		require.NoError(t, fs.Unlink(junk))
	}
	before, err := fs.Stats()
	require.NoError(t, err)

	b := writeFile(t, fs, fs.Root(), "b.txt", pattern(2, 3000))
	after, err := fs.Stats()
	require.NoError(t, err)
	require.Greater(t, after.GCRuns, before.GCRuns)
	require.Equal(t, pattern(1, 3000), readAll(t, fs, a))
	require.Equal(t, pattern(2, 3000), readAll(t, fs, b))
	require.NoError(t, fs.Check())
	require.NoError(t, fs.Close())

	fs = mount(t, flash, 4)
	require.Equal(t, pattern(1, 3000), readAll(t, fs, lookup(t, fs, "a.txt")))
	require.Equal(t, pattern(2, 3000), readAll(t, fs, lookup(t, fs, "b.txt")))
	_, err = fs.Lookup(fs.Root(), "junk")
	require.ErrorIs(t, err, ErrNotExist)
	stats, err := fs.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.SeqTies)
	require.NoError(t, fs.Check())
}
