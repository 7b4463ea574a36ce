// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package arena provides fixed-capacity entry pools addressed by
// generation-checked handles.
package arena

import (
	"fmt"

	"github.com/dacapoday/flashfs"
)

const pageSize = 256

// Handle refers to a slot of an Arena. A handle outlives its entry safely:
// once the slot is freed the generation moves on and Get reports false.
// The zero Handle is never valid.
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) Valid() bool {
	return h.gen != 0
}

type slot[T any] struct {
	val  T
	gen  uint32
	used bool
}

// Arena is a pool of T values. Slots live in fixed pages, so pointers
// returned by Alloc and Get stay valid until the slot is freed.
// Not thread-safe.
type Arena[T any] struct {
	pages [][]slot[T]
	free  []uint32
	limit int
	live  int
}

// New returns an Arena holding at most limit entries; limit <= 0 means
// unbounded.
func New[T any](limit int) *Arena[T] {
	return &Arena[T]{limit: limit}
}

func (arena *Arena[T]) slot(index uint32) *slot[T] {
	return &arena.pages[index/pageSize][index%pageSize]
}

// Alloc returns a zeroed entry. It fails with flashfs.ErrNoMem when the
// arena is full.
func (arena *Arena[T]) Alloc() (h Handle, val *T, err error) {
	if arena.limit > 0 && arena.live >= arena.limit {
		err = fmt.Errorf("%w: pool of %d entries exhausted", flashfs.ErrNoMem, arena.limit)
		return
	}
	var index uint32
	if n := len(arena.free); n > 0 {
		index = arena.free[n-1]
		arena.free = arena.free[:n-1]
	} else {
		index = uint32(len(arena.pages) * pageSize)
		arena.pages = append(arena.pages, make([]slot[T], pageSize))
		for i := pageSize - 1; i > 0; i-- {
			arena.free = append(arena.free, index+uint32(i))
		}
	}
	s := arena.slot(index)
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.used = true
	arena.live++
	return Handle{index: index, gen: s.gen}, &s.val, nil
}

// Get returns the entry for h, or false if h is stale or invalid.
func (arena *Arena[T]) Get(h Handle) (val *T, ok bool) {
	if !h.Valid() || int(h.index/pageSize) >= len(arena.pages) {
		return
	}
	s := arena.slot(h.index)
	if !s.used || s.gen != h.gen {
		return
	}
	return &s.val, true
}

// Free releases the entry for h. It reports false if h was already stale.
func (arena *Arena[T]) Free(h Handle) bool {
	if _, ok := arena.Get(h); !ok {
		return false
	}
	s := arena.slot(h.index)
	var zero T
	s.val = zero
	s.used = false
	s.gen++
	arena.free = append(arena.free, h.index)
	arena.live--
	return true
}

// Len returns the number of live entries.
func (arena *Arena[T]) Len() int {
	return arena.live
}

// Cap returns the configured capacity, or 0 if unbounded.
func (arena *Arena[T]) Cap() int {
	return arena.limit
}

// Reset frees every entry. Handles issued before Reset become stale.
func (arena *Arena[T]) Reset() {
	arena.free = arena.free[:0]
	for p := len(arena.pages) - 1; p >= 0; p-- {
		page := arena.pages[p]
		for i := pageSize - 1; i >= 0; i-- {
			s := &page[i]
			if s.used {
				var zero T
				s.val = zero
				s.used = false
				s.gen++
			}
			arena.free = append(arena.free, uint32(p*pageSize+i))
		}
	}
	arena.live = 0
}
