package ffs

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dacapoday/flashfs"
	"github.com/dacapoday/flashfs/mem"
)

const areaSize = 4096

func layout(n int) []flashfs.AreaDesc {
	descs := make([]flashfs.AreaDesc, n)
	for i := range descs {
		descs[i] = flashfs.AreaDesc{Offset: int64(i) * areaSize, Length: areaSize}
	}
	return descs
}

func mount(t *testing.T, flash *mem.Flash, n int, opts ...Option) *FS {
	t.Helper()
	fs, err := Open(flash, layout(n), append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs
}

// fresh formats n areas and mounts them.
func fresh(t *testing.T, n int, opts ...Option) (*mem.Flash, *FS) {
	t.Helper()
	flash := mem.New(n * areaSize)
	require.NoError(t, Format(flash, layout(n), WithLogger(zaptest.NewLogger(t))))
	return flash, mount(t, flash, n, opts...)
}

func pattern(seed, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(seed*31 + i*7 + i/251)
	}
	return p
}

func readAll(t *testing.T, fs *FS, ino Inode) []byte {
	t.Helper()
	info, err := fs.Stat(ino)
	require.NoError(t, err)
	p := make([]byte, info.Size)
	n, err := fs.ReadAt(ino, p, 0)
	if n < len(p) || err != nil && err != io.EOF {
		t.Fatalf("read %d of %d bytes: %v", n, len(p), err)
	}
	return p
}

func writeFile(t *testing.T, fs *FS, dir Inode, name string, data []byte) Inode {
	t.Helper()
	ino, err := fs.Create(dir, name)
	require.NoError(t, err)
	n, err := fs.WriteAt(ino, data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	return ino
}

func lookup(t *testing.T, fs *FS, names ...string) Inode {
	t.Helper()
	ino := fs.Root()
	for _, name := range names {
		var err error
		ino, err = fs.Lookup(ino, name)
		require.NoError(t, err, name)
	}
	return ino
}

func TestFormatOpen(t *testing.T) {
	_, fs := fresh(t, 3)
	root := fs.Root()
	require.Equal(t, flashfs.RootID, root.ID())

	info, err := fs.Stat(root)
	require.NoError(t, err)
	require.True(t, info.Dir)
	require.Equal(t, flashfs.IDNone, info.Parent)

	stats, err := fs.Stats()
	require.NoError(t, err)
	require.Len(t, stats.Areas, 3)
	require.True(t, stats.Areas[2].Scratch)
	require.Equal(t, uint64(2*(areaSize-20)), stats.Capacity)
	require.Equal(t, uint64(24), stats.Live, "root inode")
	require.Equal(t, 1, stats.Inodes)
	require.Equal(t, 2010, stats.MaxBlockSize)
	require.NoError(t, fs.Check())
}

func TestOpenUnformatted(t *testing.T) {
	_, err := Open(mem.New(3*areaSize), layout(3), WithLogger(zaptest.NewLogger(t)))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCreateLookup(t *testing.T) {
	_, fs := fresh(t, 3)
	root := fs.Root()

	dir, err := fs.Mkdir(root, "etc")
	require.NoError(t, err)
	require.True(t, dir.ID().IsDir())

	file, err := fs.Create(dir, "hosts")
	require.NoError(t, err)
	require.True(t, file.ID().IsFile())

	_, err = fs.Create(dir, "hosts")
	require.ErrorIs(t, err, ErrExist)
	_, err = fs.Mkdir(root, "etc")
	require.ErrorIs(t, err, ErrExist)

	got := lookup(t, fs, "etc", "hosts")
	require.Equal(t, file, got)

	_, err = fs.Lookup(dir, "passwd")
	require.ErrorIs(t, err, ErrNotExist)
	_, err = fs.Lookup(file, "x")
	require.ErrorIs(t, err, ErrNotDir)
	_, err = fs.Create(file, "x")
	require.ErrorIs(t, err, ErrNotDir)

	info, err := fs.Stat(file)
	require.NoError(t, err)
	require.Equal(t, Info{ID: file.ID(), Parent: dir.ID(), Name: "hosts"}, info)
	require.NoError(t, fs.Check())
}

func TestNames(t *testing.T) {
	_, fs := fresh(t, 3)
	root := fs.Root()

	_, err := fs.Create(root, "")
	require.ErrorIs(t, err, ErrInvalid)
	_, err = fs.Create(root, "a/b")
	require.ErrorIs(t, err, ErrInvalid)

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'x'
	}
	_, err = fs.Create(root, string(long))
	require.ErrorIs(t, err, ErrNameTooLong)
	_, err = fs.Create(root, string(long[:255]))
	require.NoError(t, err)
}

func TestReadDirSorted(t *testing.T) {
	_, fs := fresh(t, 3)
	root := fs.Root()
	for _, name := range []string{"m", "b", "z", "a"} {
		_, err := fs.Create(root, name)
		require.NoError(t, err)
	}
	_, err := fs.Mkdir(root, "d")
	require.NoError(t, err)

	infos, err := fs.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	require.Equal(t, []string{"a", "b", "d", "m", "z"}, names)
	require.True(t, infos[2].Dir)
}

func TestClose(t *testing.T) {
	_, fs := fresh(t, 3)
	root := fs.Root()
	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())

	_, err := fs.Create(root, "x")
	require.ErrorIs(t, err, ErrClosed)
	_, err = fs.ReadDir(root)
	require.ErrorIs(t, err, ErrClosed)
	_, err = fs.Append(root, []byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, fs.Check(), ErrClosed)
	require.ErrorIs(t, fs.Error(), ErrClosed)

	closed := fs.Root()
	require.Equal(t, flashfs.RootID, closed.ID())
	require.False(t, closed.h.Valid(), "no handle is issued after Close")
	_, err = fs.Lookup(closed, "x")
	require.ErrorIs(t, err, ErrClosed)
}

func TestInodePool(t *testing.T) {
	flash, fs := fresh(t, 3, WithMaxInodes(3))
	root := fs.Root()
	_, err := fs.Create(root, "a")
	require.NoError(t, err)
	_, err = fs.Create(root, "b")
	require.NoError(t, err)
	_, err = fs.Create(root, "c")
	require.ErrorIs(t, err, ErrNoMem)
	require.NoError(t, fs.Check())
	require.NoError(t, fs.Close())

	_, err = Open(flash, layout(3), WithLogger(zaptest.NewLogger(t)), WithMaxInodes(2))
	require.ErrorIs(t, err, ErrNoMem)
}

func TestBlockPool(t *testing.T) {
	_, fs := fresh(t, 4, WithMaxBlocks(2), WithMaxBlockSize(100))
	f, err := fs.Create(fs.Root(), "f")
	require.NoError(t, err)
	n, err := fs.WriteAt(f, pattern(1, 250), 0)
	require.ErrorIs(t, err, ErrNoMem)
	require.Equal(t, 200, n)
	require.Equal(t, pattern(1, 200), readAll(t, fs, f))
	require.NoError(t, fs.Check())
}

func TestConcurrentCreate(t *testing.T) {
	_, fs := fresh(t, 4)
	root := fs.Root()
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				f, err := fs.Create(root, fmt.Sprintf("w%d-%d", w, i))
				if err != nil {
					t.Error(err)
					return
				}
				if _, err = fs.WriteAt(f, pattern(w*10+i, 50), 0); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	infos, err := fs.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, infos, 40)
	require.NoError(t, fs.Check())
	require.Equal(t, pattern(23, 50), readAll(t, fs, lookup(t, fs, "w2-3")))
}
