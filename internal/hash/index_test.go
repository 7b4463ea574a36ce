package hash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/flashfs"
)

func TestIndexInsertFindRemove(t *testing.T) {
	x := New[string](4)
	require.True(t, x.Insert(1, "one"))
	require.True(t, x.Insert(5, "five")) // same bucket as 1
	require.True(t, x.Insert(flashfs.BlockIDMin, "block"))
	require.False(t, x.Insert(5, "again"))
	require.Equal(t, 3, x.Len())

	v, ok := x.Find(5)
	require.True(t, ok)
	require.Equal(t, "five", v)

	require.True(t, x.Remove(1))
	require.False(t, x.Remove(1))
	_, ok = x.Find(1)
	require.False(t, ok)
	v, ok = x.Find(5)
	require.True(t, ok, "chain survives removal of a neighbour")
	require.Equal(t, "five", v)
	require.Equal(t, 2, x.Len())
}

func TestIndexAll(t *testing.T) {
	x := New[int](8)
	for i := range 100 {
		x.Insert(flashfs.ID(i), i)
	}
	seen := map[flashfs.ID]bool{}
	for id, v := range x.All {
		require.Equal(t, int(id), v)
		require.False(t, seen[id], "id %v visited twice", id)
		seen[id] = true
	}
	require.Len(t, seen, 100)

	n := 0
	for range x.All {
		n++
		if n == 10 {
			break
		}
	}
	require.Equal(t, 10, n)
}

func TestIndexReset(t *testing.T) {
	x := New[int](0)
	x.Insert(1, 1)
	x.Insert(2, 2)
	x.Reset()
	require.Equal(t, 0, x.Len())
	_, ok := x.Find(1)
	require.False(t, ok)
	require.True(t, x.Insert(1, 3))
}
