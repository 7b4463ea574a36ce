// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package ffs

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/dacapoday/flashfs/internal/area"
	"github.com/dacapoday/flashfs/internal/disk"
)

// collect compacts one area into the scratch area so that a record of size
// bytes fits afterwards. It is the collect callback of area.Manager.Reserve.
func (fs *FS) collect(size uint32) (err error) {
	start := time.Now()
	src, ok := fs.victim(size)
	if !ok {
		fs.metrics.IncGCFailure()
		return fmt.Errorf("%w: compaction cannot free %d bytes", ErrFull, size)
	}
	reclaimed, err := fs.compact(src)
	if err != nil {
		fs.metrics.IncGCFailure()
		return fmt.Errorf("gc: %w", err)
	}
	fs.gcRuns++
	fs.reclaimed += uint64(reclaimed)
	fs.metrics.AddGC(time.Since(start), uint64(reclaimed))
	fs.metrics.SetFreeBytes(fs.areas.Free())
	return
}

// victim picks the area whose compaction leaves the most free space, at
// least size bytes. Its live records must fit the scratch area.
func (fs *FS) victim(size uint32) (src int, ok bool) {
	s := fs.areas.Scratch()
	if s < 0 {
		return
	}
	capacity := fs.areas.Area(s).Length - disk.AreaHeaderSize
	var bestFree, bestStale uint32
	for i := range fs.areas.Len() {
		a := fs.areas.Area(i)
		if i == s || a.Live > capacity {
			continue
		}
		free := capacity - a.Live
		if free < size {
			continue
		}
		if !ok || free > bestFree || (free == bestFree && a.Stale() > bestStale) {
			src, ok = i, true
			bestFree, bestStale = free, a.Stale()
		}
	}
	return
}

type moveKind uint8

const (
	moveInode moveKind = iota
	moveBlock
	moveTomb
)

type move struct {
	kind moveKind
	id   ID
	off  uint32
	to   area.Loc
}

// compact copies the live records and the still needed tombstones of area
// src into scratch, promotes scratch to take the place of src and erases
// src as the new scratch area. RAM locations change only once the promotion
// is on flash; a failure before it leaves src authoritative.
func (fs *FS) compact(src int) (reclaimed uint32, err error) {
	dest := fs.areas.Scratch()
	bit := uint64(1) << src

	var moves []move
	var retired []ID
	for id, h := range fs.index.All {
		if id.IsBlock() {
			if b, _ := fs.blocks.Get(h); int(b.loc.Area) == src {
				moves = append(moves, move{kind: moveBlock, id: id, off: b.loc.Off})
			}
		} else if e, _ := fs.inodes.Get(h); int(e.loc.Area) == src {
			moves = append(moves, move{kind: moveInode, id: id, off: e.loc.Off})
		}
	}
	for id, t := range fs.tombs {
		if int(t.loc.Area) != src {
			continue
		}
		if t.mask&^bit == 0 {
			retired = append(retired, id)
			continue
		}
		moves = append(moves, move{kind: moveTomb, id: id, off: t.loc.Off})
	}
	slices.SortFunc(moves, func(a, b move) int {
		return cmp.Compare(a.off, b.off)
	})

	length := fs.areas.Area(dest).Length
	cursor := uint32(disk.AreaHeaderSize)
	for i := range moves {
		m := &moves[i]
		var rec []byte
		if rec, err = fs.recopy(m); err != nil {
			break
		}
		if cursor+uint32(len(rec)) > length {
			err = fmt.Errorf("%w: live records of area %d overflow scratch", ErrUnexpected, src)
			break
		}
		if err = fs.areas.Write(dest, cursor, rec); err != nil {
			break
		}
		m.to = area.Loc{Area: uint16(dest), Off: cursor}
		cursor += uint32(len(rec))
	}
	if err == nil {
		err = fs.areas.Promote(src)
	}
	if err != nil {
		if ferr := fs.areas.FormatScratch(dest); ferr != nil {
			fs.fail(fmt.Errorf("gc: scratch area %d lost: %w", dest, ferr))
		}
		return
	}

	for _, m := range moves {
		switch m.kind {
		case moveInode:
			e, _, _ := fs.findInode(m.id)
			e.loc = m.to
			e.seq++
		case moveBlock:
			b, _ := fs.findBlock(m.id)
			b.loc = m.to
		case moveTomb:
			t := fs.tombs[m.id]
			t.loc = m.to
			t.rec.Seq++
		}
	}
	for _, id := range retired {
		delete(fs.tombs, id)
	}
	for _, t := range fs.tombs {
		t.mask &^= bit
	}

	from := fs.areas.Area(src)
	reclaimed = from.Cursor - cursor
	to := fs.areas.Area(dest)
	to.Cursor = cursor
	to.Live = cursor - disk.AreaHeaderSize

	if err = fs.areas.FormatScratch(src); err != nil {
		err = fmt.Errorf("gc: erase area %d: %w", src, err)
		fs.fail(err)
		return
	}

	fs.log.Debug("compacted area",
		zap.Int("source", src),
		zap.Int("destination", dest),
		zap.Int("records", len(moves)),
		zap.Int("retired_tombstones", len(retired)),
		zap.Uint32("live", cursor-disk.AreaHeaderSize),
		zap.Uint32("reclaimed", reclaimed))
	return
}

// recopy encodes the copy of m written into scratch, with seq raised by one.
func (fs *FS) recopy(m *move) ([]byte, error) {
	dst := fs.gcBuffer[:0]
	switch m.kind {
	case moveInode:
		e, _, _ := fs.findInode(m.id)
		rec := e.record()
		rec.Seq++
		dst = rec.Append(dst)
	case moveTomb:
		rec := fs.tombs[m.id].rec
		rec.Seq++
		dst = rec.Append(dst)
	case moveBlock:
		blk, err := fs.readBlock(m.id)
		if err != nil {
			return nil, err
		}
		blk.Seq++
		dst = blk.Append(dst)
	}
	fs.gcBuffer = dst
	return dst, nil
}
