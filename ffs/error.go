package ffs

import (
	iofs "io/fs"

	"github.com/dacapoday/flashfs"
)

var (
	ErrCorrupt     = flashfs.ErrCorrupt
	ErrHardware    = flashfs.ErrHardware
	ErrNoMem       = flashfs.ErrNoMem
	ErrFull        = flashfs.ErrFull
	ErrUnexpected  = flashfs.ErrUnexpected
	ErrExist       = flashfs.ErrExist
	ErrNotExist    = flashfs.ErrNotExist
	ErrClosed      = flashfs.ErrClosed
	ErrInvalid     = flashfs.ErrInvalid
	ErrNotDir      = flashfs.ErrNotDir
	ErrIsDir       = flashfs.ErrIsDir
	ErrOutOfRange  = flashfs.ErrOutOfRange
	ErrNameTooLong = flashfs.ErrNameTooLong
)

// SkipDir is returned by a Walk callback to skip the entries of the
// directory it was called for.
var SkipDir = iofs.SkipDir
