// Package flashfs defines the basic types shared by the components of a
// log-structured filesystem for raw NOR flash.
package flashfs

import (
	"fmt"
	"io"
)

// Flash provides access to the raw flash device holding the filesystem areas.
// Offsets are absolute device offsets.
//
// Writes only program bits from one to zero; a region must be erased before
// it can be written again.
type Flash interface {
	io.ReaderAt
	io.WriterAt

	// Erase resets length bytes starting at off to the erased state,
	// in which every bit reads as one.
	Erase(off, length int64) error
}

// AreaDesc describes one erase region of the flash device.
type AreaDesc struct {
	Offset int64
	Length uint32
}

// ID identifies an inode or a data block. The top bit is set for blocks.
type ID uint32

const (
	IDNone ID = 0xffffffff

	RootID     ID = 0x00000000
	DirIDMin   ID = 0x00000000
	FileIDMin  ID = 0x10000000
	BlockIDMin ID = 0x80000000
	BlockIDMax ID = 0xfffffffe
)

func (id ID) IsBlock() bool {
	return id >= BlockIDMin && id != IDNone
}

func (id ID) IsInode() bool {
	return id < BlockIDMin
}

func (id ID) IsDir() bool {
	return id < FileIDMin
}

func (id ID) IsFile() bool {
	return id >= FileIDMin && id < BlockIDMin
}

func (id ID) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}
