// Package hash implements the RAM index of a mounted filesystem: an open
// hash table with chained buckets keyed by object ID.
package hash

import "github.com/dacapoday/flashfs"

type ID = flashfs.ID

type slot[V any] struct {
	id  ID
	val V
}

// Index maps object IDs to values. Not thread-safe.
type Index[V any] struct {
	buckets [][]slot[V]
	len     int
}

// New returns an Index with n buckets.
func New[V any](n int) *Index[V] {
	if n <= 0 {
		n = 1
	}
	return &Index[V]{buckets: make([][]slot[V], n)}
}

func (index *Index[V]) bucket(id ID) *[]slot[V] {
	return &index.buckets[uint32(id)%uint32(len(index.buckets))]
}

// Insert adds id. It reports false and changes nothing if id is present.
func (index *Index[V]) Insert(id ID, val V) bool {
	b := index.bucket(id)
	for i := range *b {
		if (*b)[i].id == id {
			return false
		}
	}
	*b = append(*b, slot[V]{id: id, val: val})
	index.len++
	return true
}

// Remove deletes id and reports whether it was present.
func (index *Index[V]) Remove(id ID) bool {
	b := index.bucket(id)
	for i := range *b {
		if (*b)[i].id == id {
			last := len(*b) - 1
			(*b)[i] = (*b)[last]
			(*b)[last] = slot[V]{}
			*b = (*b)[:last]
			index.len--
			return true
		}
	}
	return false
}

func (index *Index[V]) Find(id ID) (val V, ok bool) {
	for _, s := range *index.bucket(id) {
		if s.id == id {
			return s.val, true
		}
	}
	return
}

func (index *Index[V]) Len() int {
	return index.len
}

// All implements iter.Seq2[ID, V], visiting every entry in bucket order.
// The index must not be modified during iteration.
func (index *Index[V]) All(yield func(ID, V) bool) {
	for _, b := range index.buckets {
		for _, s := range b {
			if !yield(s.id, s.val) {
				return
			}
		}
	}
}

// Reset removes every entry.
func (index *Index[V]) Reset() {
	for i := range index.buckets {
		clear(index.buckets[i])
		index.buckets[i] = index.buckets[i][:0]
	}
	index.len = 0
}
