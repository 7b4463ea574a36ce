// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package ffs

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dacapoday/flashfs"
	"github.com/dacapoday/flashfs/internal/area"
	"github.com/dacapoday/flashfs/internal/disk"
)

// blockMeta is what a mount needs to know about a block beyond its
// location. It is dropped once the chains are linked.
type blockMeta struct {
	seq   uint32
	inode ID
	prev  ID
	len   uint16
}

type scan struct {
	blocks map[ID]blockMeta

	nextDir, nextFile, nextBlock ID
	largest                      int
	ties                         int
	orphans                      int
}

// see records that a record mentions id so that new ids start after it.
func (s *scan) see(id ID) {
	switch {
	case id.IsBlock():
		s.nextBlock = max(s.nextBlock, id+1)
	case id.IsFile():
		s.nextFile = max(s.nextFile, id+1)
	case id.IsDir():
		s.nextDir = max(s.nextDir, id+1)
	}
}

// restore rebuilds the RAM index from the area logs. The first pass reads
// every record, keeping the highest seq of each id and placeholders for
// ids referenced before they were seen. The second pass links the tree and
// the block chains and drops what cannot be reached from the root.
func (fs *FS) restore() (err error) {
	s := &scan{
		blocks:    make(map[ID]blockMeta),
		nextDir:   flashfs.RootID + 1,
		nextFile:  flashfs.FileIDMin,
		nextBlock: flashfs.BlockIDMin,
	}
	for i := range fs.areas.Len() {
		if i == fs.areas.Scratch() {
			continue
		}
		if err = fs.scanArea(s, i); err != nil {
			return
		}
	}
	return fs.link(s)
}

func (fs *FS) scanArea(s *scan, i int) (err error) {
	a := fs.areas.Area(i)
	r := fs.areas.ReaderAt(i)
	off := uint32(disk.AreaHeaderSize)
	for {
		obj, err := disk.Decode(r, off, a.Length)
		if err != nil {
			return fmt.Errorf("area %d: %w", i, err)
		}
		loc := area.Loc{Area: uint16(i), Off: off}
		switch o := obj.(type) {
		case *disk.Inode:
			if err = fs.scanInode(s, o, loc); err != nil {
				return err
			}
			off += o.Size()
			continue
		case *disk.Block:
			if err = fs.scanBlock(s, o, loc); err != nil {
				return err
			}
			off += o.Size()
			continue
		case disk.EndOfLog:
			a.Cursor = off
		case disk.Corrupt:
			fs.log.Warn("sealed area at corrupt record",
				zap.Int("area", i),
				zap.Uint32("offset", off),
				zap.Error(o))
			a.Cursor = a.Length
		}
		return nil
	}
}

func (fs *FS) tie(s *scan, id ID, seq uint32, loc area.Loc) {
	s.ties++
	fs.log.Warn("records share a sequence number, keeping the first",
		zap.Stringer("id", id),
		zap.Uint32("seq", seq),
		zap.Stringer("ignored", loc))
}

// placeholder makes sure an inode entry exists for id.
func (fs *FS) placeholder(id ID) error {
	if _, _, ok := fs.findInode(id); ok {
		return nil
	}
	h, e, err := fs.inodes.Alloc()
	if err != nil {
		return err
	}
	*e = inode{id: id, dummy: true}
	fs.index.Insert(id, h)
	return nil
}

func (fs *FS) scanInode(s *scan, rec *disk.Inode, loc area.Loc) error {
	s.see(rec.ID)
	s.see(rec.Parent)

	e, _, ok := fs.findInode(rec.ID)
	switch {
	case !ok:
		h, x, err := fs.inodes.Alloc()
		if err != nil {
			return err
		}
		fs.index.Insert(rec.ID, h)
		e = x
	case e.dummy || rec.Seq > e.seq:
	case rec.Seq == e.seq:
		fs.tie(s, rec.ID, rec.Seq, loc)
		return nil
	default:
		return nil
	}
	*e = inode{
		id:     rec.ID,
		loc:    loc,
		seq:    rec.Seq,
		parent: rec.Parent,
		flags:  rec.Flags,
		name:   rec.Name,
	}

	if !rec.IsDeleted() && rec.Parent.IsDir() {
		return fs.placeholder(rec.Parent)
	}
	return nil
}

func (fs *FS) scanBlock(s *scan, rec *disk.Block, loc area.Loc) error {
	s.see(rec.ID)
	s.see(rec.Inode)
	if rec.Prev != 0 {
		s.see(rec.Prev)
	}
	s.largest = max(s.largest, int(rec.Len))

	if meta, ok := s.blocks[rec.ID]; ok {
		if rec.Seq < meta.seq {
			return nil
		}
		if rec.Seq == meta.seq {
			fs.tie(s, rec.ID, rec.Seq, loc)
			return nil
		}
		b, ok := fs.findBlock(rec.ID)
		if !ok {
			return fmt.Errorf("%w: block %v lost from index", ErrUnexpected, rec.ID)
		}
		b.loc = loc
	} else {
		h, b, err := fs.blocks.Alloc()
		if err != nil {
			return err
		}
		*b = block{id: rec.ID, loc: loc}
		fs.index.Insert(rec.ID, h)
	}
	s.blocks[rec.ID] = blockMeta{seq: rec.Seq, inode: rec.Inode, prev: rec.Prev, len: rec.Len}
	return fs.placeholder(rec.Inode)
}

func (fs *FS) orphan(s *scan, id ID, reason string) {
	s.orphans++
	fs.log.Warn("dropped orphan", zap.Stringer("id", id), zap.String("reason", reason))
	fs.forget(id)
}

func (fs *FS) link(s *scan) (err error) {
	var placeholders, deleted, live []ID
	for id, h := range fs.index.All {
		if !id.IsInode() {
			continue
		}
		e, _ := fs.inodes.Get(h)
		switch {
		case e.dummy:
			placeholders = append(placeholders, id)
		case e.deleted():
			deleted = append(deleted, id)
		case id != flashfs.RootID:
			live = append(live, id)
		}
	}
	for _, id := range placeholders {
		fs.forget(id)
	}
	mask := fs.areas.Mask()
	for _, id := range deleted {
		e, _, _ := fs.findInode(id)
		fs.tombs[id] = &tombstone{rec: e.record(), loc: e.loc, mask: mask}
		fs.forget(id)
	}

	root, _, ok := fs.findInode(flashfs.RootID)
	if !ok || !root.isDir() {
		return fmt.Errorf("%w: no root directory", ErrCorrupt)
	}

	for _, id := range live {
		e, _, _ := fs.findInode(id)
		if p, _, ok := fs.findInode(e.parent); ok && p.isDir() && p != e {
			p.children = append(p.children, id)
		}
	}
	reached := map[ID]bool{flashfs.RootID: true}
	queue := []ID{flashfs.RootID}
	for len(queue) > 0 {
		e, _, _ := fs.findInode(queue[0])
		queue = queue[1:]
		for _, id := range e.children {
			if !reached[id] {
				reached[id] = true
				queue = append(queue, id)
			}
		}
	}
	for _, id := range live {
		if !reached[id] {
			fs.orphan(s, id, "unreachable from root")
		}
	}

	files := make(map[ID][]ID)
	for id, meta := range s.blocks {
		if owner, _, ok := fs.findInode(meta.inode); !ok || owner.isDir() {
			s.orphans++
			fs.forget(id)
			delete(s.blocks, id)
			continue
		}
		files[meta.inode] = append(files[meta.inode], id)
	}
	for file, ids := range files {
		e, _, _ := fs.findInode(file)
		tail, size, ok := chain(s, file, ids)
		if !ok {
			fs.log.Warn("swept inconsistent block chain",
				zap.Stringer("inode", file),
				zap.Int("blocks", len(ids)))
			for _, id := range ids {
				fs.forget(id)
				delete(s.blocks, id)
			}
			continue
		}
		e.tail, e.size = tail, size
	}

	for id, h := range fs.index.All {
		if id.IsBlock() {
			b, _ := fs.blocks.Get(h)
			fs.areas.Area(int(b.loc.Area)).Live += disk.BlockSize(int(s.blocks[id].len))
			continue
		}
		e, _ := fs.inodes.Get(h)
		if e.isDir() {
			fs.sortChildren(e)
		}
		fs.areas.Area(int(e.loc.Area)).Live += e.recordSize()
	}
	for _, t := range fs.tombs {
		fs.areas.Area(int(t.loc.Area)).Live += t.rec.Size()
	}

	fs.nextDir, fs.nextFile, fs.nextBlock = s.nextDir, s.nextFile, s.nextBlock
	fs.maxData = max(fs.derivedMaxData(), s.largest)
	fs.seqTies, fs.orphans = s.ties, s.orphans
	fs.metrics.AddSeqTies(s.ties)
	fs.metrics.AddOrphans(s.orphans)
	return
}

// chain checks that the blocks of file form one list ending at a single
// tail and reaching a head with prev 0.
func chain(s *scan, file ID, ids []ID) (tail ID, size int64, ok bool) {
	named := make(map[ID]bool, len(ids))
	for _, id := range ids {
		if prev := s.blocks[id].prev; prev != 0 {
			named[prev] = true
		}
	}
	for _, id := range ids {
		if !named[id] {
			if tail != 0 {
				return 0, 0, false
			}
			tail = id
		}
	}
	if tail == 0 {
		return 0, 0, false
	}

	n := 0
	for id := tail; id != 0; n++ {
		meta, found := s.blocks[id]
		if !found || meta.inode != file || n >= len(ids) {
			return 0, 0, false
		}
		size += int64(meta.len)
		id = meta.prev
	}
	return tail, size, n == len(ids)
}
