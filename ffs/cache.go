package ffs

import (
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dacapoday/flashfs/internal/disk"
)

// extent places one block of a file.
type extent struct {
	id  ID
	off int64 // file offset of the first byte
	len uint16
}

func (x extent) end() int64 {
	return x.off + int64(x.len)
}

// cache keeps the forward block ordering of recently used files. Chains
// are stored tail to head on flash, so building the ordering costs a walk
// over every block header of the file.
type cache struct {
	lru *lru.Cache[ID, []extent]
}

func newCache(size int) *cache {
	l, err := lru.New[ID, []extent](size)
	if err != nil {
		panic(fmt.Errorf("ffs: extent cache: %w", err))
	}
	return &cache{lru: l}
}

func (c *cache) remove(id ID) {
	c.lru.Remove(id)
}

func (c *cache) purge() {
	c.lru.Purge()
}

// extents returns the blocks of file ino in file order.
func (fs *FS) extents(ino *inode) ([]extent, error) {
	if exts, ok := fs.cache.lru.Get(ino.id); ok {
		return exts, nil
	}

	var exts []extent
	for id := ino.tail; id != 0; {
		if len(exts) >= fs.blocks.Len() {
			return nil, fmt.Errorf("%w: block chain of %v loops", ErrCorrupt, ino.id)
		}
		b, ok := fs.findBlock(id)
		if !ok {
			return nil, fmt.Errorf("%w: block %v of %v is not indexed", ErrCorrupt, id, ino.id)
		}
		hdr, err := disk.ReadBlockHeader(fs.areas.ReaderAt(int(b.loc.Area)), b.loc.Off)
		if err != nil {
			return nil, err
		}
		if hdr.ID != id || hdr.Inode != ino.id {
			return nil, fmt.Errorf("%w: block %v at %v belongs to %v/%v", ErrCorrupt, id, b.loc, hdr.ID, hdr.Inode)
		}
		exts = append(exts, extent{id: id, len: hdr.Len})
		id = hdr.Prev
	}
	slices.Reverse(exts)

	var off int64
	for i := range exts {
		exts[i].off = off
		off += int64(exts[i].len)
	}
	if off != ino.size {
		return nil, fmt.Errorf("%w: blocks of %v hold %d bytes, expected %d", ErrCorrupt, ino.id, off, ino.size)
	}

	fs.cache.lru.Add(ino.id, exts)
	return exts, nil
}

// seek returns the index of the first extent ending after off.
func seek(exts []extent, off int64) int {
	i, _ := slices.BinarySearchFunc(exts, off, func(x extent, off int64) int {
		if x.end() <= off {
			return -1
		}
		return 1
	})
	return i
}
