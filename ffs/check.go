package ffs

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dacapoday/flashfs"
	"github.com/dacapoday/flashfs/internal/area"
	"github.com/dacapoday/flashfs/internal/disk"
)

// Check audits the filesystem against flash and returns an error wrapping
// ErrCorrupt listing every violation found. Every referenced record is read
// back and verified.
func (fs *FS) Check() (err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.ready(); err != nil {
		return
	}
	var problems []error
	report := func(format string, a ...any) {
		problems = append(problems, fmt.Errorf(format, a...))
	}

	scratch := fs.areas.Scratch()
	if scratch < 0 {
		report("no scratch area")
	} else if a := fs.areas.Area(scratch); a.Cursor != disk.AreaHeaderSize || a.Live != 0 {
		report("scratch area %d is in use", scratch)
	}

	live := make([]uint32, fs.areas.Len())
	placed := func(what fmt.Stringer, loc area.Loc, size uint32) {
		i := int(loc.Area)
		if i >= len(live) || i == scratch {
			report("%v placed in area %d", what, i)
			return
		}
		if loc.Off < disk.AreaHeaderSize || loc.Off+size > fs.areas.Area(i).Cursor {
			report("%v at %v lies outside the log", what, loc)
		}
		live[i] += size
	}

	if root, _, ok := fs.findInode(flashfs.RootID); !ok || !root.isDir() || root.parent != flashfs.IDNone {
		report("bad root directory")
	}

	inodes, chained := 0, 0
	for id, h := range fs.index.All {
		if id.IsBlock() {
			continue
		}
		inodes++
		e, ok := fs.inodes.Get(h)
		if !ok || e.id != id || e.dummy || e.deleted() {
			report("inode %v: bad entry", id)
			continue
		}
		placed(id, e.loc, e.recordSize())
		if obj, err := fs.decode(e.loc); err != nil {
			report("inode %v: %w", id, err)
		} else if rec, ok := obj.(*disk.Inode); !ok || *rec != e.record() {
			report("inode %v: record at %v does not match", id, e.loc)
		}

		if id != flashfs.RootID {
			p, _, ok := fs.findInode(e.parent)
			if !ok || !p.isDir() {
				report("inode %v: parent %v is not a directory", id, e.parent)
			} else if n := count(p.children, id); n != 1 {
				report("inode %v: listed %d times in %v", id, n, e.parent)
			}
		}

		if e.isDir() {
			if e.tail != 0 || e.size != 0 {
				report("directory %v holds data", id)
			}
			if !slices.IsSortedFunc(e.children, fs.compareChildren) {
				report("directory %v: entries out of order", id)
			}
			for _, c := range e.children {
				if x, _, ok := fs.findInode(c); !ok || x.parent != id {
					report("directory %v: stray entry %v", id, c)
				}
			}
			continue
		}

		var size int64
		n := 0
		for b := e.tail; b != 0; n++ {
			if n > fs.blocks.Len() {
				report("file %v: block chain loops", id)
				break
			}
			blk, err := fs.readBlock(b)
			if err != nil {
				report("file %v: %w", id, err)
				break
			}
			if blk.Inode != id {
				report("file %v: block %v owned by %v", id, b, blk.Inode)
			}
			loc, _ := fs.findBlock(b)
			placed(b, loc.loc, blk.Size())
			size += int64(blk.Len)
			b = blk.Prev
		}
		chained += n
		if size != e.size {
			report("file %v: blocks hold %d bytes, size is %d", id, size, e.size)
		}
	}
	if inodes != fs.inodes.Len() {
		report("%d inodes indexed, %d allocated", inodes, fs.inodes.Len())
	}
	if chained != fs.blocks.Len() {
		report("%d blocks chained, %d allocated", chained, fs.blocks.Len())
	}

	for id, t := range fs.tombs {
		if _, ok := fs.index.Find(id); ok {
			report("tombstone %v: id is live", id)
		}
		placed(id, t.loc, t.rec.Size())
	}

	for i := range fs.areas.Len() {
		a := fs.areas.Area(i)
		if a.Cursor > a.Length || a.Cursor < disk.AreaHeaderSize {
			report("area %d: cursor %d", i, a.Cursor)
		}
		if i != scratch && live[i] != a.Live {
			report("area %d: %d live bytes counted, %d recorded", i, live[i], a.Live)
		}
	}

	if len(problems) > 0 {
		err = fmt.Errorf("ffs.Check: %w: %w", ErrCorrupt, errors.Join(problems...))
	}
	return
}

func count(ids []ID, id ID) (n int) {
	for _, x := range ids {
		if x == id {
			n++
		}
	}
	return
}
