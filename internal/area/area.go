// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package area manages the erase regions of a flash device: their headers,
// write cursors, live byte counters and the scratch designation.
package area

import (
	"errors"
	"fmt"
	"io"

	"github.com/dacapoday/flashfs"
	"github.com/dacapoday/flashfs/internal/disk"
)

// MaxAreas bounds the number of areas so that a set of areas fits a uint64 mask.
const MaxAreas = 64

// Loc is a flash location: an area index and a byte offset inside that area.
type Loc struct {
	Area uint16
	Off  uint32
}

func (loc Loc) String() string {
	return fmt.Sprintf("%d:%d", loc.Area, loc.Off)
}

type Area struct {
	Offset  int64
	Length  uint32
	ID      uint32
	GCSeq   uint16
	Cursor  uint32 // next free byte
	Live    uint32 // bytes held by records still referenced from RAM
	Scratch bool
}

// Free returns the bytes left behind the cursor.
func (area *Area) Free() uint32 {
	return area.Length - area.Cursor
}

// Stale returns the bytes written but no longer referenced.
func (area *Area) Stale() uint32 {
	return area.Cursor - disk.AreaHeaderSize - area.Live
}

// Repair describes a fix applied by Detect.
type Repair struct {
	Area   int
	Reason string
}

type Manager struct {
	flash   flashfs.Flash
	areas   []Area
	scratch int
	buffer  [disk.AreaHeaderSize]byte
}

// New validates the area layout. It does not touch the flash.
func New(flash flashfs.Flash, descs []flashfs.AreaDesc) (*Manager, error) {
	if len(descs) < 2 {
		return nil, fmt.Errorf("area.New: %w: need at least 2 areas, got %d", flashfs.ErrInvalid, len(descs))
	}
	if len(descs) > MaxAreas {
		return nil, fmt.Errorf("area.New: %w: at most %d areas, got %d", flashfs.ErrInvalid, MaxAreas, len(descs))
	}
	minLength := disk.AreaHeaderSize + disk.InodeSize(disk.MaxFilename)
	manager := &Manager{flash: flash, areas: make([]Area, len(descs)), scratch: -1}
	for i, desc := range descs {
		if desc.Offset < 0 || desc.Length < minLength {
			return nil, fmt.Errorf("area.New: %w: area %d at %d has length %d", flashfs.ErrInvalid, i, desc.Offset, desc.Length)
		}
		for j := range i {
			prev := descs[j]
			if desc.Offset < prev.Offset+int64(prev.Length) && prev.Offset < desc.Offset+int64(desc.Length) {
				return nil, fmt.Errorf("area.New: %w: areas %d and %d overlap", flashfs.ErrInvalid, j, i)
			}
		}
		manager.areas[i] = Area{Offset: desc.Offset, Length: desc.Length, ID: disk.AreaIDNone, GCSeq: disk.GCSeqNone}
	}
	return manager, nil
}

func (manager *Manager) Len() int {
	return len(manager.areas)
}

// Area returns the state of area i. The pointer stays valid for the life of
// the Manager.
func (manager *Manager) Area(i int) *Area {
	return &manager.areas[i]
}

// Scratch returns the index of the scratch area, or -1 if there is none.
func (manager *Manager) Scratch() int {
	return manager.scratch
}

// Mask returns the set of non-scratch areas, bit i standing for area i.
func (manager *Manager) Mask() (mask uint64) {
	for i := range manager.areas {
		if i != manager.scratch {
			mask |= 1 << i
		}
	}
	return
}

func hardware(err error) error {
	return fmt.Errorf("%w: %w", flashfs.ErrHardware, err)
}

// Read fills p from area i at off.
func (manager *Manager) Read(i int, off uint32, p []byte) error {
	area := &manager.areas[i]
	if uint64(off)+uint64(len(p)) > uint64(area.Length) {
		return fmt.Errorf("%w: read %d bytes at %d of area %d", flashfs.ErrUnexpected, len(p), off, i)
	}
	n, err := manager.flash.ReadAt(p, area.Offset+int64(off))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
		return hardware(err)
	}
	return nil
}

// Write programs p into area i at off.
func (manager *Manager) Write(i int, off uint32, p []byte) error {
	area := &manager.areas[i]
	if uint64(off)+uint64(len(p)) > uint64(area.Length) {
		return fmt.Errorf("%w: write %d bytes at %d of area %d", flashfs.ErrUnexpected, len(p), off, i)
	}
	if _, err := manager.flash.WriteAt(p, area.Offset+int64(off)); err != nil {
		return hardware(err)
	}
	return nil
}

// Erase erases the whole of area i.
func (manager *Manager) Erase(i int) error {
	area := &manager.areas[i]
	if err := manager.flash.Erase(area.Offset, int64(area.Length)); err != nil {
		return hardware(err)
	}
	return nil
}

type reader struct {
	manager *Manager
	index   int
}

func (r reader) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off > int64(r.manager.areas[r.index].Length) {
		return 0, fmt.Errorf("%w: offset %d outside area %d", flashfs.ErrUnexpected, off, r.index)
	}
	if err = r.manager.Read(r.index, uint32(off), p); err != nil {
		return
	}
	return len(p), nil
}

// ReaderAt returns a reader over area i with offsets relative to the area.
func (manager *Manager) ReaderAt(i int) io.ReaderAt {
	return reader{manager: manager, index: i}
}

func (manager *Manager) readHeader(i int) (h disk.AreaHeader, blank bool, err error) {
	buffer := manager.buffer[:]
	if err = manager.Read(i, 0, buffer); err != nil {
		return
	}
	if disk.Blank(buffer) {
		blank = true
		err = fmt.Errorf("%w: area %d is erased", flashfs.ErrCorrupt, i)
		return
	}
	if h, err = disk.DecodeAreaHeader(buffer); err != nil {
		err = fmt.Errorf("area %d: %w", i, err)
		return
	}
	if h.Length != manager.areas[i].Length {
		err = fmt.Errorf("%w: area %d header length %d, expected %d", flashfs.ErrCorrupt, i, h.Length, manager.areas[i].Length)
	}
	return
}

func (manager *Manager) writeHeader(i int, h *disk.AreaHeader) error {
	return manager.Write(i, 0, h.Append(manager.buffer[:0]))
}

// Format erases every area and writes fresh headers. Area ids continue after
// the largest id found in a readable header. The largest area becomes
// scratch, the last one on ties.
func (manager *Manager) Format() (err error) {
	next := uint32(0)
	for i := range manager.areas {
		if h, _, err := manager.readHeader(i); err == nil && !h.Scratch && h.ID >= next {
			next = h.ID + 1
		} else if errors.Is(err, flashfs.ErrHardware) {
			return fmt.Errorf("area.Format: %w", err)
		}
	}

	scratch := 0
	for i := range manager.areas {
		if manager.areas[i].Length >= manager.areas[scratch].Length {
			scratch = i
		}
	}

	for i := range manager.areas {
		if i == scratch {
			continue
		}
		area := &manager.areas[i]
		if err = manager.Erase(i); err != nil {
			return fmt.Errorf("area.Format: %w", err)
		}
		*area = Area{Offset: area.Offset, Length: area.Length, Cursor: disk.AreaHeaderSize}
		if next == disk.AreaIDNone {
			next = 0
		}
		area.ID = next
		next++
		if err = manager.writeHeader(i, &disk.AreaHeader{Length: area.Length, ID: area.ID}); err != nil {
			return fmt.Errorf("area.Format: %w", err)
		}
	}
	manager.scratch = -1
	if err = manager.FormatScratch(scratch); err != nil {
		return fmt.Errorf("area.Format: %w", err)
	}
	return
}

// Detect reads every header and rebuilds the area table. Cursors are left at
// the end of the header; the caller moves them while scanning the logs.
//
// The states an interrupted compaction can leave behind are repaired:
// a scratch area that is not blank is erased again, two areas sharing an id
// lose the older copy, and a single unreadable header while no scratch exists
// becomes the scratch area. Anything else fails with flashfs.ErrCorrupt.
func (manager *Manager) Detect() (repairs []Repair, err error) {
	var (
		invalid []int
		scratch []int
		cause   error
	)
	for i := range manager.areas {
		area := &manager.areas[i]
		h, _, err := manager.readHeader(i)
		if err != nil {
			if errors.Is(err, flashfs.ErrHardware) {
				return nil, fmt.Errorf("area.Detect: %w", err)
			}
			invalid = append(invalid, i)
			cause = err
			*area = Area{Offset: area.Offset, Length: area.Length, ID: disk.AreaIDNone, GCSeq: disk.GCSeqNone}
			continue
		}
		*area = Area{
			Offset:  area.Offset,
			Length:  area.Length,
			ID:      h.ID,
			GCSeq:   h.GCSeq,
			Cursor:  disk.AreaHeaderSize,
			Scratch: h.Scratch,
		}
		if h.Scratch {
			scratch = append(scratch, i)
		}
	}

	manager.scratch = -1
	switch {
	case len(scratch) > 1:
		return nil, fmt.Errorf("area.Detect: %w: %d scratch areas", flashfs.ErrCorrupt, len(scratch))
	case len(scratch) == 1 && len(invalid) > 0:
		return nil, fmt.Errorf("area.Detect: %w", cause)
	case len(scratch) == 1:
		if dup := manager.duplicate(); dup != nil {
			return nil, fmt.Errorf("area.Detect: %w: areas %d and %d share id %d", flashfs.ErrCorrupt, dup[0], dup[1], manager.areas[dup[0]].ID)
		}
		i := scratch[0]
		manager.scratch = i
		var dirty bool
		if dirty, err = manager.dirty(i); err != nil {
			return nil, fmt.Errorf("area.Detect: %w", err)
		}
		if dirty {
			if err = manager.FormatScratch(i); err != nil {
				return nil, fmt.Errorf("area.Detect: %w", err)
			}
			repairs = append(repairs, Repair{Area: i, Reason: "erased interrupted compaction"})
		}
		return
	}

	if dup := manager.duplicate(); dup != nil {
		if len(invalid) > 0 {
			return nil, fmt.Errorf("area.Detect: %w", cause)
		}
		a, b := dup[0], dup[1]
		var src int
		switch {
		case disk.NextGCSeq(manager.areas[a].GCSeq) == manager.areas[b].GCSeq:
			src = a
		case disk.NextGCSeq(manager.areas[b].GCSeq) == manager.areas[a].GCSeq:
			src = b
		default:
			return nil, fmt.Errorf("area.Detect: %w: areas %d and %d share id %d with gc seq %d and %d",
				flashfs.ErrCorrupt, a, b, manager.areas[a].ID, manager.areas[a].GCSeq, manager.areas[b].GCSeq)
		}
		if err = manager.FormatScratch(src); err != nil {
			return nil, fmt.Errorf("area.Detect: %w", err)
		}
		repairs = append(repairs, Repair{Area: src, Reason: "erased compacted source"})
		if dup := manager.duplicate(); dup != nil {
			return nil, fmt.Errorf("area.Detect: %w: areas %d and %d share id %d", flashfs.ErrCorrupt, dup[0], dup[1], manager.areas[dup[0]].ID)
		}
		return
	}

	if len(invalid) != 1 {
		if len(invalid) == 0 {
			return nil, fmt.Errorf("area.Detect: %w: no scratch area", flashfs.ErrCorrupt)
		}
		return nil, fmt.Errorf("area.Detect: %d unreadable headers: %w", len(invalid), cause)
	}
	if err = manager.FormatScratch(invalid[0]); err != nil {
		return nil, fmt.Errorf("area.Detect: %w", err)
	}
	repairs = append(repairs, Repair{Area: invalid[0], Reason: "restored missing scratch header"})
	return
}

// duplicate returns the first pair of active areas sharing an id.
func (manager *Manager) duplicate() []int {
	for i := range manager.areas {
		a := &manager.areas[i]
		if a.Scratch || a.ID == disk.AreaIDNone {
			continue
		}
		for j := i + 1; j < len(manager.areas); j++ {
			b := &manager.areas[j]
			if !b.Scratch && b.ID == a.ID {
				return []int{i, j}
			}
		}
	}
	return nil
}

// dirty reports whether scratch area i holds anything besides a clean header.
func (manager *Manager) dirty(i int) (bool, error) {
	buffer := manager.buffer[:]
	if err := manager.Read(i, 0, buffer); err != nil {
		return false, err
	}
	if !disk.Blank(buffer[disk.OffsetPromote:]) {
		return true, nil
	}
	page := make([]byte, 512)
	length := manager.areas[i].Length
	for off := uint32(disk.AreaHeaderSize); off < length; off += uint32(len(page)) {
		chunk := page[:min(uint32(len(page)), length-off)]
		if err := manager.Read(i, off, chunk); err != nil {
			return false, err
		}
		if !disk.Blank(chunk) {
			return true, nil
		}
	}
	return false, nil
}

// Reserve finds room for size bytes in a non-scratch area and advances its
// cursor. When no area has room, collect is called once to free space and
// the search is retried.
func (manager *Manager) Reserve(size uint32, collect func(size uint32) error) (loc Loc, err error) {
	if loc, ok := manager.reserve(size); ok {
		return loc, nil
	}
	if collect != nil {
		if err = collect(size); err != nil {
			return
		}
		if loc, ok := manager.reserve(size); ok {
			return loc, nil
		}
	}
	err = fmt.Errorf("%w: no area can hold %d bytes", flashfs.ErrFull, size)
	return
}

func (manager *Manager) reserve(size uint32) (loc Loc, ok bool) {
	for i := range manager.areas {
		area := &manager.areas[i]
		if i == manager.scratch || area.Free() < size {
			continue
		}
		loc = Loc{Area: uint16(i), Off: area.Cursor}
		area.Cursor += size
		return loc, true
	}
	return
}

// Seal closes area i to further writes.
func (manager *Manager) Seal(i int) {
	manager.areas[i].Cursor = manager.areas[i].Length
}

// Free returns the bytes available to new records outside the scratch area.
func (manager *Manager) Free() (free uint64) {
	for i := range manager.areas {
		if i != manager.scratch {
			free += uint64(manager.areas[i].Free())
		}
	}
	return
}

// Promote makes the scratch area take over the identity of area src: the
// erased gc seq and id fields are programmed first, then the state byte.
// The scratch designation is cleared; FormatScratch(src) must follow.
func (manager *Manager) Promote(src int) (err error) {
	s := manager.scratch
	if s < 0 || src == s {
		return fmt.Errorf("area.Promote: %w: scratch %d, source %d", flashfs.ErrUnexpected, s, src)
	}
	gcSeq, id := disk.NextGCSeq(manager.areas[src].GCSeq), manager.areas[src].ID
	if err = manager.Write(s, disk.OffsetPromote, disk.PromoteFields(gcSeq, id)); err != nil {
		return fmt.Errorf("area.Promote: %w", err)
	}
	off, b := disk.ActivateField()
	if err = manager.Write(s, off, b); err != nil {
		return fmt.Errorf("area.Promote: %w", err)
	}
	dest := &manager.areas[s]
	dest.ID, dest.GCSeq, dest.Scratch = id, gcSeq, false
	manager.scratch = -1
	return
}

// FormatScratch erases area i and makes it the scratch area.
func (manager *Manager) FormatScratch(i int) (err error) {
	area := &manager.areas[i]
	if err = manager.Erase(i); err != nil {
		return
	}
	*area = Area{
		Offset:  area.Offset,
		Length:  area.Length,
		ID:      disk.AreaIDNone,
		GCSeq:   disk.GCSeqNone,
		Cursor:  disk.AreaHeaderSize,
		Scratch: true,
	}
	manager.scratch = -1
	if err = manager.writeHeader(i, &disk.AreaHeader{Length: area.Length, Scratch: true}); err != nil {
		return
	}
	manager.scratch = i
	return
}
