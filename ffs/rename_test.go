package ffs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRename(t *testing.T) {
	flash, fs := fresh(t, 3)
	root := fs.Root()
	d, err := fs.Mkdir(root, "d")
	require.NoError(t, err)
	f := writeFile(t, fs, root, "z", []byte("moved"))

	require.NoError(t, fs.Rename(f, d, "a"))
	_, err = fs.Lookup(root, "z")
	require.ErrorIs(t, err, ErrNotExist)
	require.Equal(t, f, lookup(t, fs, "d", "a"))
	info, err := fs.Stat(f)
	require.NoError(t, err)
	require.Equal(t, d.ID(), info.Parent)
	require.Equal(t, "a", info.Name)

	require.NoError(t, fs.Rename(f, d, "0"))
	infos, err := fs.ReadDir(d)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "0", infos[0].Name)
	require.NoError(t, fs.Check())
	require.NoError(t, fs.Close())

	fs = mount(t, flash, 3)
	require.Equal(t, "moved", string(readAll(t, fs, lookup(t, fs, "d", "0"))))
	require.NoError(t, fs.Check())
}

func TestRenameErrors(t *testing.T) {
	_, fs := fresh(t, 3)
	root := fs.Root()
	a, err := fs.Mkdir(root, "a")
	require.NoError(t, err)
	b, err := fs.Mkdir(a, "b")
	require.NoError(t, err)
	f := writeFile(t, fs, root, "f", nil)
	g := writeFile(t, fs, root, "g", nil)

	require.ErrorIs(t, fs.Rename(root, a, "root"), ErrInvalid)
	require.ErrorIs(t, fs.Rename(a, b, "a"), ErrInvalid, "into its own subtree")
	require.ErrorIs(t, fs.Rename(a, a, "a"), ErrInvalid, "into itself")
	require.ErrorIs(t, fs.Rename(f, root, "g"), ErrExist)
	require.ErrorIs(t, fs.Rename(f, g, "x"), ErrNotDir)
	require.ErrorIs(t, fs.Rename(f, root, ""), ErrInvalid)
	require.ErrorIs(t, fs.Rename(f, root, strings.Repeat("n", 256)), ErrNameTooLong)

	before, err := fs.Stats()
	require.NoError(t, err)
	require.NoError(t, fs.Rename(f, root, "f"))
	after, err := fs.Stats()
	require.NoError(t, err)
	require.Equal(t, before.Free, after.Free, "renaming to the same name writes nothing")

	require.NoError(t, fs.Rename(b, root, "b"))
	require.Equal(t, b, lookup(t, fs, "b"))
	require.NoError(t, fs.Check())
}
