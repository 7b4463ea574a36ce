// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package mem

import (
	"errors"
	"io"
	"sync"

	"github.com/dacapoday/flashfs"
)

var (
	ErrPowerLoss = errors.New("power loss")
	ErrNotErased = errors.New("program over unerased bits")
)

// Flash is an in-memory NOR flash simulator implementing flashfs.Flash.
// It is safe for concurrent use by multiple goroutines.
//
// A new Flash reads as erased (every byte 0xff). WriteAt programs bits from
// one to zero only and refuses writes that would need an erase first.
//
// Power loss is simulated with CutAfter: every programmed byte and every
// erase consumes one unit, and once the budget runs out the crossing write is
// torn and the device stops responding until PowerOn.
type Flash struct {
	rw     sync.RWMutex
	data   []byte
	budget int64
	dead   bool
	units  int64
	erases int
}

var _ flashfs.Flash = new(Flash)

// New returns a Flash of size bytes in the erased state.
func New(size int) *Flash {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xff
	}
	return &Flash{data: data, budget: -1}
}

// Size returns the device size in bytes.
func (flash *Flash) Size() int64 {
	flash.rw.RLock()
	defer flash.rw.RUnlock()
	return int64(len(flash.data))
}

// ReadAt reads len(p) bytes into p starting at byte offset off.
// It implements io.ReaderAt interface.
func (flash *Flash) ReadAt(p []byte, off int64) (n int, err error) {
	flash.rw.RLock()
	defer flash.rw.RUnlock()
	if flash.dead {
		return 0, ErrPowerLoss
	}
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if off >= int64(len(flash.data)) {
		return 0, io.EOF
	}
	n = copy(p, flash.data[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

// WriteAt programs len(p) bytes from p starting at byte offset off.
// It implements io.WriterAt interface.
//
// Programming is checked before any byte changes: if some bit of p is one
// where flash already holds zero, WriteAt returns ErrNotErased and leaves the
// device untouched.
func (flash *Flash) WriteAt(p []byte, off int64) (n int, err error) {
	flash.rw.Lock()
	defer flash.rw.Unlock()
	if flash.dead {
		return 0, ErrPowerLoss
	}
	if off < 0 || off+int64(len(p)) > int64(len(flash.data)) {
		return 0, io.ErrShortWrite
	}
	dst := flash.data[off : off+int64(len(p))]
	for i, b := range p {
		if b&^dst[i] != 0 {
			return 0, ErrNotErased
		}
	}

	size := len(p)
	if flash.budget >= 0 && int64(size) > flash.budget {
		size = int(flash.budget)
		flash.dead = true
		err = ErrPowerLoss
	}
	for i := range size {
		dst[i] &= p[i]
	}
	if flash.budget >= 0 {
		flash.budget -= int64(size)
	}
	flash.units += int64(size)
	n = size
	return
}

// Erase resets length bytes starting at off to 0xff.
// An erase is atomic: it either happens completely or, after a power cut,
// not at all.
func (flash *Flash) Erase(off, length int64) error {
	flash.rw.Lock()
	defer flash.rw.Unlock()
	if flash.dead {
		return ErrPowerLoss
	}
	if off < 0 || length < 0 || off+length > int64(len(flash.data)) {
		return io.ErrShortWrite
	}
	if flash.budget == 0 {
		flash.dead = true
		return ErrPowerLoss
	}
	if flash.budget > 0 {
		flash.budget--
	}
	for i := off; i < off+length; i++ {
		flash.data[i] = 0xff
	}
	flash.units++
	flash.erases++
	return nil
}

// CutAfter arms a power cut after n more units of work.
// A negative n disarms it.
func (flash *Flash) CutAfter(n int64) {
	flash.rw.Lock()
	if n < 0 {
		n = -1
	}
	flash.budget = n
	flash.rw.Unlock()
}

// PowerOn brings the device back after a power cut and disarms CutAfter.
// Programmed bytes, including a torn write, stay as they are.
func (flash *Flash) PowerOn() {
	flash.rw.Lock()
	flash.dead = false
	flash.budget = -1
	flash.rw.Unlock()
}

// Dead reports whether a power cut has happened since the last PowerOn.
func (flash *Flash) Dead() bool {
	flash.rw.RLock()
	defer flash.rw.RUnlock()
	return flash.dead
}

// Units returns the units of work consumed since New.
func (flash *Flash) Units() int64 {
	flash.rw.RLock()
	defer flash.rw.RUnlock()
	return flash.units
}

// EraseCount returns the number of erases performed since New.
func (flash *Flash) EraseCount() int {
	flash.rw.RLock()
	defer flash.rw.RUnlock()
	return flash.erases
}

// Bytes returns a copy of the device contents.
func (flash *Flash) Bytes() []byte {
	flash.rw.RLock()
	defer flash.rw.RUnlock()
	return append([]byte(nil), flash.data...)
}

// Clone returns an independent, powered-on copy of the device.
func (flash *Flash) Clone() *Flash {
	flash.rw.RLock()
	defer flash.rw.RUnlock()
	return &Flash{
		data:   append([]byte(nil), flash.data...),
		budget: -1,
	}
}
