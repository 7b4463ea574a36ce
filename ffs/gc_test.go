package ffs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/flashfs/internal/disk"
)

type recorder struct {
	noopMetrics
	gcs       int
	failures  int
	reclaimed uint64
	free      uint64
}

func (r *recorder) AddGC(_ time.Duration, n uint64) {
	r.gcs++
	r.reclaimed += n
}

func (r *recorder) IncGCFailure()         { r.failures++ }
func (r *recorder) SetFreeBytes(n uint64) { r.free = n }

func TestGCOverwriteKeepsContent(t *testing.T) {
	m := &recorder{}
	flash, fs := fresh(t, 3, WithMetrics(m))
	keep := writeFile(t, fs, fs.Root(), "keep", pattern(99, 300))
	f := writeFile(t, fs, fs.Root(), "f", pattern(0, 1500))
	for i := 1; i <= 40; i++ {
		_, err := fs.WriteAt(f, pattern(i, 1500), 0)
		require.NoError(t, err)
	}
	require.Equal(t, pattern(40, 1500), readAll(t, fs, f))
	require.Equal(t, pattern(99, 300), readAll(t, fs, keep))
	require.NoError(t, fs.Check())

	stats, err := fs.Stats()
	require.NoError(t, err)
	require.Positive(t, stats.GCRuns)
	require.Equal(t, stats.GCRuns, m.gcs)
	require.Equal(t, stats.Reclaimed, m.reclaimed)
	require.Equal(t, stats.Free, m.free)
	require.Zero(t, m.failures)
	require.NoError(t, fs.Close())

	fs = mount(t, flash, 3)
	require.Equal(t, pattern(40, 1500), readAll(t, fs, lookup(t, fs, "f")))
	require.Equal(t, pattern(99, 300), readAll(t, fs, lookup(t, fs, "keep")))
	stats, err = fs.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.SeqTies)
	require.NoError(t, fs.Check())
}

func TestGCCompactionLayout(t *testing.T) {
	_, fs := fresh(t, 3)
	f := writeFile(t, fs, fs.Root(), "f", pattern(0, 1500))
	before, err := fs.Stats()
	require.NoError(t, err)
	oldScratch := -1
	for i, a := range before.Areas {
		if a.Scratch {
			oldScratch = i
		}
	}

	for i := 1; before.GCRuns == 0 && i < 20; i++ {
		_, err = fs.WriteAt(f, pattern(i, 1500), 0)
		require.NoError(t, err)
		before, err = fs.Stats()
		require.NoError(t, err)
	}
	require.Equal(t, 1, before.GCRuns)

	var scratch []int
	for i, a := range before.Areas {
		if a.Scratch {
			scratch = append(scratch, i)
			require.Equal(t, uint32(disk.AreaHeaderSize), a.Cursor)
			require.Zero(t, a.Live)
		}
	}
	require.Len(t, scratch, 1)
	require.NotEqual(t, oldScratch, scratch[0], "the compacted area becomes scratch")
	require.False(t, before.Areas[oldScratch].Scratch)
	require.Equal(t, uint16(1), before.Areas[oldScratch].GCSeq)
	require.Positive(t, before.Reclaimed)
	require.NoError(t, fs.Check())
}

func TestGCFull(t *testing.T) {
	m := &recorder{}
	flash, fs := fresh(t, 2, WithMetrics(m))
	f, err := fs.Create(fs.Root(), "f")
	require.NoError(t, err)

	var written int
	var n int
	for {
		n, err = fs.Append(f, pattern(1, 3000)[written%3000:written%3000+1000])
		written += n
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrFull)
	require.Equal(t, 2000, written)
	require.NoError(t, fs.Error())
	require.Positive(t, m.failures)
	require.Equal(t, pattern(1, 3000)[:2000], readAll(t, fs, f))
	require.NoError(t, fs.Check())

	_, err = fs.Create(fs.Root(), "small")
	require.NoError(t, err, "small records still fit")
	require.NoError(t, fs.Close())

	fs = mount(t, flash, 2)
	require.Equal(t, pattern(1, 3000)[:2000], readAll(t, fs, lookup(t, fs, "f")))
	lookup(t, fs, "small")
	require.NoError(t, fs.Check())
}

func TestGCRetiresTombstones(t *testing.T) {
	flash, fs := fresh(t, 3)
	gone := writeFile(t, fs, fs.Root(), "t", pattern(7, 100))
	require.NoError(t, fs.Unlink(gone))
	stats, err := fs.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Tombstones)

	f := writeFile(t, fs, fs.Root(), "f", pattern(0, 1500))
	for i := 1; i <= 500 && stats.Tombstones > 0; i++ {
		_, err = fs.WriteAt(f, pattern(i, 1500), 0)
		require.NoError(t, err)
		stats, err = fs.Stats()
		require.NoError(t, err)
	}
	require.Zero(t, stats.Tombstones)
	require.NoError(t, fs.Check())
	want := readAll(t, fs, f)
	require.NoError(t, fs.Close())

	fs = mount(t, flash, 3)
	_, err = fs.Lookup(fs.Root(), "t")
	require.ErrorIs(t, err, ErrNotExist)
	require.Equal(t, want, readAll(t, fs, lookup(t, fs, "f")))
	stats, err = fs.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.Tombstones)
	require.Zero(t, stats.Orphans)
	require.NoError(t, fs.Check())
}

func TestGCKeepsTombstonesUntilShadowedRecordsAreGone(t *testing.T) {
	flash, fs := fresh(t, 4)
	gone := writeFile(t, fs, fs.Root(), "t", pattern(7, 100))
	f := writeFile(t, fs, fs.Root(), "f", pattern(0, 1500))
	require.NoError(t, fs.Unlink(gone))

	for i := 1; i <= 200; i++ {
		_, err := fs.WriteAt(f, pattern(i, 1500), 0)
		require.NoError(t, err)
		if i%10 != 0 {
			continue
		}
		require.NoError(t, fs.Close())
		fs = mount(t, flash, 4)
		_, err = fs.Lookup(fs.Root(), "t")
		require.ErrorIs(t, err, ErrNotExist, "after %d overwrites", i)
		f = lookup(t, fs, "f")
		require.Equal(t, pattern(i, 1500), readAll(t, fs, f))
	}
	require.NoError(t, fs.Check())
}
