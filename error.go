package flashfs

import "errors"

var (
	ErrCorrupt     = errors.New("corrupt")
	ErrHardware    = errors.New("flash error")
	ErrNoMem       = errors.New("out of memory")
	ErrFull        = errors.New("no space")
	ErrUnexpected  = errors.New("unexpected state")
	ErrExist       = errors.New("already exists")
	ErrNotExist    = errors.New("not found")
	ErrClosed      = errors.New("closed")
	ErrInvalid     = errors.New("invalid argument")
	ErrNotDir      = errors.New("not a directory")
	ErrIsDir       = errors.New("is a directory")
	ErrOutOfRange  = errors.New("out of range")
	ErrNameTooLong = errors.New("name too long")

	ErrBadChecksum      = errors.New("bad checksum")
	ErrUnknownMagicCode = errors.New("unknown magic code")
	ErrUnsupported      = errors.New("unsupported")
)
