// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package ffs implements a log-structured filesystem on raw NOR flash.
//
// The flash is split into areas. Every area but one holds a log of inode
// and data block records; the remaining scratch area stays erased and
// receives the live records of another area when space runs out. Nothing is
// ever overwritten: an update is a new record carrying the same id and a
// higher sequence number, and mounting replays every log to rebuild the
// index kept in RAM.
package ffs

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dacapoday/flashfs"
	"github.com/dacapoday/flashfs/internal/area"
	"github.com/dacapoday/flashfs/internal/arena"
	"github.com/dacapoday/flashfs/internal/disk"
	"github.com/dacapoday/flashfs/internal/hash"
)

type ID = flashfs.ID

// FS is a mounted filesystem. It is safe for concurrent use; operations are
// serialized.
type FS struct {
	*cfg

	mutex sync.Mutex
	phase atomic.Pointer[phase]

	areas  *area.Manager
	index  *hash.Index[arena.Handle]
	inodes *arena.Arena[inode]
	blocks *arena.Arena[block]
	tombs  map[ID]*tombstone
	cache  *cache

	nextDir, nextFile, nextBlock ID
	maxData int

	seqTies   int
	orphans   int
	gcRuns    int
	reclaimed uint64

	buffer   []byte
	gcBuffer []byte
}

type phase struct{ error }

var mounted = &phase{errors.New("mounted")}

// Format erases the areas and writes an empty filesystem holding only the
// root directory.
func Format(flash flashfs.Flash, descs []flashfs.AreaDesc, opts ...Option) (err error) {
	c := defaultCfg()
	for _, opt := range opts {
		opt(c)
	}

	areas, err := area.New(flash, descs)
	if err != nil {
		return fmt.Errorf("ffs.Format: %w", err)
	}
	if err = areas.Format(); err != nil {
		return fmt.Errorf("ffs.Format: %w", err)
	}

	root := disk.Inode{ID: flashfs.RootID, Parent: flashfs.IDNone, Flags: disk.FlagDirectory}
	loc, err := areas.Reserve(root.Size(), nil)
	if err != nil {
		return fmt.Errorf("ffs.Format: %w", err)
	}
	if err = areas.Write(int(loc.Area), loc.Off, root.Append(nil)); err != nil {
		return fmt.Errorf("ffs.Format: %w", err)
	}

	c.log.Info("formatted",
		zap.Int("areas", areas.Len()),
		zap.Int("scratch", areas.Scratch()),
		zap.Uint64("free", areas.Free()))
	return
}

// Open mounts the filesystem stored in the areas of flash.
func Open(flash flashfs.Flash, descs []flashfs.AreaDesc, opts ...Option) (fs *FS, err error) {
	c := defaultCfg()
	for _, opt := range opts {
		opt(c)
	}

	areas, err := area.New(flash, descs)
	if err != nil {
		return nil, fmt.Errorf("ffs.Open: %w", err)
	}
	repairs, err := areas.Detect()
	if err != nil {
		return nil, fmt.Errorf("ffs.Open: %w", err)
	}
	for _, r := range repairs {
		c.log.Warn("repaired area after interrupted compaction",
			zap.Int("area", r.Area),
			zap.String("reason", r.Reason))
	}

	fs = &FS{
		cfg:    c,
		areas:  areas,
		index:  hash.New[arena.Handle](c.hashBuckets),
		inodes: arena.New[inode](c.maxInodes),
		blocks: arena.New[block](c.maxBlocks),
		tombs:  make(map[ID]*tombstone),
		cache:  newCache(c.cacheSize),
	}
	if err = fs.restore(); err != nil {
		return nil, fmt.Errorf("ffs.Open: %w", err)
	}
	fs.phase.Store(mounted)
	fs.report()

	fs.log.Info("mounted",
		zap.Int("inodes", fs.inodes.Len()),
		zap.Int("blocks", fs.blocks.Len()),
		zap.Int("tombstones", len(fs.tombs)),
		zap.Int("max_block_size", fs.maxData),
		zap.Uint64("free", fs.areas.Free()))
	return
}

// Close unmounts the filesystem. Every later call returns ErrClosed.
func (fs *FS) Close() error {
	phase := fs.phase.Swap(nil)
	if phase == nil {
		return nil
	}

	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	fs.index.Reset()
	fs.inodes.Reset()
	fs.blocks.Reset()
	fs.tombs = nil
	fs.cache.purge()
	fs.buffer, fs.gcBuffer = nil, nil
	return nil
}

// Error returns the error that stopped the filesystem, ErrClosed after
// Close, or nil while it is usable.
func (fs *FS) Error() error {
	return fs.ready()
}

func (fs *FS) ready() error {
	phase := fs.phase.Load()
	if phase == mounted {
		return nil
	}
	if phase == nil {
		return ErrClosed
	}
	return phase.error
}

// fail stops the filesystem after flash was left in a state RAM no longer
// describes. A remount repairs it.
func (fs *FS) fail(err error) {
	if fs.phase.CompareAndSwap(mounted, &phase{err}) {
		fs.log.Error("filesystem stopped", zap.Error(err))
	}
}

func (fs *FS) report() {
	fs.metrics.SetFreeBytes(fs.areas.Free())
	fs.metrics.SetInodes(fs.inodes.Len())
	fs.metrics.SetBlocks(fs.blocks.Len())
}

// derivedMaxData returns the block payload limit that lets two full blocks
// share the smallest area.
func (fs *FS) derivedMaxData() int {
	if fs.maxBlockSize > 0 {
		return fs.maxBlockSize
	}
	smallest := fs.areas.Area(0).Length
	for i := 1; i < fs.areas.Len(); i++ {
		smallest = min(smallest, fs.areas.Area(i).Length)
	}
	n := int(smallest-disk.AreaHeaderSize)/2 - int(disk.BlockSize(0))
	return max(1, min(n, disk.MaxBlockData))
}

// commit reserves size bytes and programs the record produced by encode.
// encode runs after the reservation because a compaction triggered by it
// renumbers the records it moves. Any failure after the reservation seals
// the area so that no record is ever written behind a gap or a torn record.
// On failure loc is the zero Loc only if nothing was reserved, so the record
// cannot be on flash.
func (fs *FS) commit(size uint32, encode func(dst []byte) ([]byte, error)) (loc area.Loc, err error) {
	if loc, err = fs.areas.Reserve(size, fs.collect); err != nil {
		return area.Loc{}, err
	}
	rec, err := encode(fs.buffer[:0])
	if err == nil && uint32(len(rec)) != size {
		err = fmt.Errorf("%w: record of %d bytes in a %d byte reservation", ErrUnexpected, len(rec), size)
	}
	if err == nil {
		fs.buffer = rec[:0]
		err = fs.areas.Write(int(loc.Area), loc.Off, rec)
	}
	if err != nil {
		fs.areas.Seal(int(loc.Area))
		fs.log.Warn("sealed area after failed write",
			zap.Int("area", int(loc.Area)),
			zap.Uint32("offset", loc.Off),
			zap.Error(err))
		return
	}
	fs.areas.Area(int(loc.Area)).Live += size
	return
}

// release drops size live bytes from the area holding loc.
func (fs *FS) release(loc area.Loc, size uint32) {
	fs.areas.Area(int(loc.Area)).Live -= size
}

// decode reads the record at loc.
func (fs *FS) decode(loc area.Loc) (disk.Object, error) {
	a := int(loc.Area)
	obj, err := disk.Decode(fs.areas.ReaderAt(a), loc.Off, fs.areas.Area(a).Length)
	if err != nil {
		return nil, err
	}
	if c, ok := obj.(disk.Corrupt); ok {
		return nil, c
	}
	return obj, nil
}

// readBlock reads and verifies the block record of id.
func (fs *FS) readBlock(id ID) (*disk.Block, error) {
	b, ok := fs.findBlock(id)
	if !ok {
		return nil, fmt.Errorf("%w: block %v is not indexed", ErrCorrupt, id)
	}
	obj, err := fs.decode(b.loc)
	if err != nil {
		return nil, err
	}
	blk, ok := obj.(*disk.Block)
	if !ok || blk.ID != id {
		return nil, fmt.Errorf("%w: no block %v at %v", ErrCorrupt, id, b.loc)
	}
	return blk, nil
}
