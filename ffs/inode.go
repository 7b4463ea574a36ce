package ffs

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/dacapoday/flashfs"
	"github.com/dacapoday/flashfs/internal/area"
	"github.com/dacapoday/flashfs/internal/arena"
	"github.com/dacapoday/flashfs/internal/disk"
)

type inode struct {
	id     ID
	loc    area.Loc
	seq    uint32
	parent ID
	flags  uint16
	name   string

	children []ID // sorted by name, then id
	tail     ID   // last block, 0 when empty
	size     int64

	dummy bool // referenced by a record but not scanned yet
}

func (ino *inode) isDir() bool {
	return ino.flags&disk.FlagDirectory != 0
}

func (ino *inode) deleted() bool {
	return ino.flags&disk.FlagDeleted != 0
}

func (ino *inode) record() disk.Inode {
	return disk.Inode{ID: ino.id, Seq: ino.seq, Parent: ino.parent, Flags: ino.flags, Name: ino.name}
}

func (ino *inode) recordSize() uint32 {
	return disk.InodeSize(len(ino.name))
}

type block struct {
	id  ID
	loc area.Loc
}

// tombstone is a persisted deletion. It must outlive every older record of
// its id; mask holds the areas that may still contain one.
type tombstone struct {
	rec  disk.Inode
	loc  area.Loc
	mask uint64
}

// Inode is a handle to a file or directory. It becomes stale once the inode
// is unlinked; calls taking a stale handle return ErrNotExist.
type Inode struct {
	id ID
	h  arena.Handle
}

func (ino Inode) ID() ID {
	return ino.id
}

// Info describes an inode.
type Info struct {
	ID     ID
	Parent ID
	Name   string
	Size   int64
	Dir    bool
}

func (ino *inode) info() Info {
	return Info{ID: ino.id, Parent: ino.parent, Name: ino.name, Size: ino.size, Dir: ino.isDir()}
}

func (fs *FS) findInode(id ID) (*inode, arena.Handle, bool) {
	if !id.IsInode() {
		return nil, arena.Handle{}, false
	}
	h, ok := fs.index.Find(id)
	if !ok {
		return nil, h, false
	}
	ino, ok := fs.inodes.Get(h)
	return ino, h, ok
}

func (fs *FS) findBlock(id ID) (*block, bool) {
	if !id.IsBlock() {
		return nil, false
	}
	h, ok := fs.index.Find(id)
	if !ok {
		return nil, false
	}
	return fs.blocks.Get(h)
}

func (fs *FS) resolve(ino Inode) (*inode, error) {
	e, ok := fs.inodes.Get(ino.h)
	if !ok || e.id != ino.id {
		return nil, fmt.Errorf("inode %v: %w", ino.id, ErrNotExist)
	}
	return e, nil
}

func (fs *FS) resolveDir(ino Inode) (*inode, error) {
	e, err := fs.resolve(ino)
	if err != nil {
		return nil, err
	}
	if !e.isDir() {
		return nil, fmt.Errorf("inode %v: %w", ino.id, ErrNotDir)
	}
	return e, nil
}

func (fs *FS) handle(id ID) Inode {
	_, h, _ := fs.findInode(id)
	return Inode{id: id, h: h}
}

func (fs *FS) name(id ID) string {
	if e, _, ok := fs.findInode(id); ok {
		return e.name
	}
	return ""
}

func (fs *FS) compareChildren(a, b ID) int {
	if c := strings.Compare(fs.name(a), fs.name(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}

func (fs *FS) sortChildren(dir *inode) {
	slices.SortFunc(dir.children, fs.compareChildren)
}

// child returns the id of the entry of dir called name.
func (fs *FS) child(dir *inode, name string) (ID, bool) {
	i, _ := slices.BinarySearchFunc(dir.children, name, func(id ID, name string) int {
		return strings.Compare(fs.name(id), name)
	})
	if i < len(dir.children) && fs.name(dir.children[i]) == name {
		return dir.children[i], true
	}
	return 0, false
}

func (fs *FS) insertChild(dir *inode, id ID) {
	i, _ := slices.BinarySearchFunc(dir.children, id, fs.compareChildren)
	dir.children = slices.Insert(dir.children, i, id)
}

func (fs *FS) removeChild(dir *inode, id ID) {
	if i := slices.Index(dir.children, id); i >= 0 {
		dir.children = slices.Delete(dir.children, i, i+1)
	}
}

func validName(name string) error {
	if name == "" || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: name %q", ErrInvalid, name)
	}
	if len(name) > disk.MaxFilename {
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(name))
	}
	return nil
}

func (fs *FS) allocID(dir bool) (id ID, err error) {
	if dir {
		if fs.nextDir >= flashfs.FileIDMin {
			err = fmt.Errorf("%w: directory ids exhausted", ErrFull)
			return
		}
		id = fs.nextDir
		fs.nextDir++
		return
	}
	if fs.nextFile >= flashfs.BlockIDMin {
		err = fmt.Errorf("%w: file ids exhausted", ErrFull)
		return
	}
	id = fs.nextFile
	fs.nextFile++
	return
}

func (fs *FS) allocBlockID() (id ID, err error) {
	if fs.nextBlock > flashfs.BlockIDMax {
		err = fmt.Errorf("%w: block ids exhausted", ErrFull)
		return
	}
	id = fs.nextBlock
	fs.nextBlock++
	return
}

// unallocID returns id to its counter if it was the last one handed out.
// Only ids that never reached flash may be returned.
func (fs *FS) unallocID(id ID) {
	next := &fs.nextDir
	switch {
	case id.IsBlock():
		next = &fs.nextBlock
	case id.IsFile():
		next = &fs.nextFile
	}
	if id+1 == *next {
		*next = id
	}
}

// Root returns the root directory. Once the filesystem is closed or stopped
// it returns a handle that no call accepts.
func (fs *FS) Root() Inode {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if fs.ready() != nil {
		return Inode{id: flashfs.RootID}
	}
	return fs.handle(flashfs.RootID)
}

// Inode returns the handle of the live inode id.
func (fs *FS) Inode(id ID) (ino Inode, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.ready(); err != nil {
		return
	}
	if _, _, ok := fs.findInode(id); !ok {
		err = fmt.Errorf("ffs.Inode(%v): %w", id, ErrNotExist)
		return
	}
	return fs.handle(id), nil
}

// Create makes an empty file called name in dir.
func (fs *FS) Create(dir Inode, name string) (ino Inode, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if ino, err = fs.create(dir, name, 0); err != nil {
		err = fmt.Errorf("ffs.Create(%q): %w", name, err)
	}
	return
}

// Mkdir makes an empty directory called name in dir.
func (fs *FS) Mkdir(dir Inode, name string) (ino Inode, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if ino, err = fs.create(dir, name, disk.FlagDirectory); err != nil {
		err = fmt.Errorf("ffs.Mkdir(%q): %w", name, err)
	}
	return
}

func (fs *FS) create(dir Inode, name string, flags uint16) (ino Inode, err error) {
	if err = fs.ready(); err != nil {
		return
	}
	parent, err := fs.resolveDir(dir)
	if err != nil {
		return
	}
	if err = validName(name); err != nil {
		return
	}
	if _, ok := fs.child(parent, name); ok {
		err = ErrExist
		return
	}

	h, e, err := fs.inodes.Alloc()
	if err != nil {
		return
	}
	id, err := fs.allocID(flags&disk.FlagDirectory != 0)
	if err != nil {
		fs.inodes.Free(h)
		return
	}
	rec := disk.Inode{ID: id, Parent: parent.id, Flags: flags, Name: name}
	loc, err := fs.commit(rec.Size(), func(dst []byte) ([]byte, error) {
		return rec.Append(dst), nil
	})
	if err != nil {
		fs.inodes.Free(h)
		if loc == (area.Loc{}) {
			fs.unallocID(id)
		}
		return
	}

	*e = inode{id: id, loc: loc, parent: parent.id, flags: flags, name: name}
	fs.index.Insert(id, h)
	fs.insertChild(parent, id)
	fs.report()
	return Inode{id: id, h: h}, nil
}

// Lookup returns the entry of dir called name.
func (fs *FS) Lookup(dir Inode, name string) (ino Inode, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.ready(); err != nil {
		return
	}
	parent, err := fs.resolveDir(dir)
	if err != nil {
		err = fmt.Errorf("ffs.Lookup(%q): %w", name, err)
		return
	}
	id, ok := fs.child(parent, name)
	if !ok {
		err = fmt.Errorf("ffs.Lookup(%q): %w", name, ErrNotExist)
		return
	}
	return fs.handle(id), nil
}

func (fs *FS) Stat(ino Inode) (info Info, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.ready(); err != nil {
		return
	}
	e, err := fs.resolve(ino)
	if err != nil {
		err = fmt.Errorf("ffs.Stat: %w", err)
		return
	}
	return e.info(), nil
}

// ReadDir returns the entries of dir sorted by name.
func (fs *FS) ReadDir(dir Inode) (infos []Info, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.ready(); err != nil {
		return
	}
	e, err := fs.resolveDir(dir)
	if err != nil {
		err = fmt.Errorf("ffs.ReadDir: %w", err)
		return
	}
	infos = make([]Info, 0, len(e.children))
	for _, id := range e.children {
		if child, _, ok := fs.findInode(id); ok {
			infos = append(infos, child.info())
		}
	}
	return
}

// Unlink removes ino and, for a directory, everything below it. The
// deletion is persisted as a single record; flash is reclaimed later by
// compaction. The root directory cannot be removed.
func (fs *FS) Unlink(ino Inode) (err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.unlink(ino); err != nil {
		err = fmt.Errorf("ffs.Unlink: %w", err)
	}
	return
}

type doomed struct {
	id      ID
	extents []extent
}

func (fs *FS) unlink(ino Inode) (err error) {
	if err = fs.ready(); err != nil {
		return
	}
	e, err := fs.resolve(ino)
	if err != nil {
		return
	}
	if e.id == flashfs.RootID {
		return fmt.Errorf("%w: cannot remove the root directory", ErrInvalid)
	}

	// Everything that could fail on a read happens before the deletion is
	// written.
	var subtree []doomed
	stack := []ID{e.id}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, _, ok := fs.findInode(id)
		if !ok {
			continue
		}
		d := doomed{id: id}
		if x.isDir() {
			stack = append(stack, x.children...)
		} else if d.extents, err = fs.extents(x); err != nil {
			return
		}
		subtree = append(subtree, d)
	}

	var rec disk.Inode
	loc, err := fs.commit(e.recordSize(), func(dst []byte) ([]byte, error) {
		rec = e.record()
		rec.Seq++
		rec.Flags |= disk.FlagDeleted
		return rec.Append(dst), nil
	})
	if err != nil {
		return
	}
	fs.tombs[e.id] = &tombstone{rec: rec, loc: loc, mask: fs.areas.Mask()}

	if parent, _, ok := fs.findInode(e.parent); ok {
		fs.removeChild(parent, e.id)
	}
	for _, d := range subtree {
		for _, x := range d.extents {
			if b, ok := fs.findBlock(x.id); ok {
				fs.release(b.loc, disk.BlockSize(int(x.len)))
			}
			fs.forget(x.id)
		}
		if x, _, ok := fs.findInode(d.id); ok {
			fs.release(x.loc, x.recordSize())
		}
		fs.forget(d.id)
	}
	fs.report()
	return
}

// forget removes id from the index and returns its entry to the pool.
// Live byte accounting is left to the caller.
func (fs *FS) forget(id ID) {
	h, ok := fs.index.Find(id)
	if !ok {
		return
	}
	fs.index.Remove(id)
	if id.IsBlock() {
		fs.blocks.Free(h)
		return
	}
	fs.inodes.Free(h)
	fs.cache.remove(id)
}

// Rename moves ino into dir under name. Moving a directory below itself
// fails with ErrInvalid; an existing entry called name fails with ErrExist.
func (fs *FS) Rename(ino Inode, dir Inode, name string) (err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.rename(ino, dir, name); err != nil {
		err = fmt.Errorf("ffs.Rename(%q): %w", name, err)
	}
	return
}

func (fs *FS) rename(ino Inode, dir Inode, name string) (err error) {
	if err = fs.ready(); err != nil {
		return
	}
	e, err := fs.resolve(ino)
	if err != nil {
		return
	}
	if e.id == flashfs.RootID {
		return fmt.Errorf("%w: cannot move the root directory", ErrInvalid)
	}
	parent, err := fs.resolveDir(dir)
	if err != nil {
		return
	}
	if err = validName(name); err != nil {
		return
	}
	for p := parent; p.id != flashfs.RootID; {
		if p.id == e.id {
			return fmt.Errorf("%w: cannot move %v below itself", ErrInvalid, e.id)
		}
		var ok bool
		if p, _, ok = fs.findInode(p.parent); !ok {
			return fmt.Errorf("%w: directory %v has no parent", ErrCorrupt, parent.id)
		}
	}
	if id, ok := fs.child(parent, name); ok {
		if id == e.id {
			return nil
		}
		return ErrExist
	}

	old := e.recordSize()
	loc, err := fs.commit(disk.InodeSize(len(name)), func(dst []byte) ([]byte, error) {
		rec := e.record()
		rec.Seq++
		rec.Parent = parent.id
		rec.Name = name
		return rec.Append(dst), nil
	})
	if err != nil {
		return
	}
	fs.release(e.loc, old)

	if from, _, ok := fs.findInode(e.parent); ok {
		fs.removeChild(from, e.id)
	}
	e.seq++
	e.loc = loc
	e.parent = parent.id
	e.name = name
	fs.insertChild(parent, e.id)
	return
}
