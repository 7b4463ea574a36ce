package ffs

import (
	"fmt"
	"io"
)

// ReadAt reads len(p) bytes of file ino starting at off. Like io.ReaderAt,
// it returns io.EOF when fewer bytes are available.
func (fs *FS) ReadAt(ino Inode, p []byte, off int64) (n int, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if n, err = fs.readAt(ino, p, off); err != nil && err != io.EOF {
		err = fmt.Errorf("ffs.ReadAt: %w", err)
	}
	return
}

func (fs *FS) readAt(ino Inode, p []byte, off int64) (n int, err error) {
	if err = fs.ready(); err != nil {
		return
	}
	e, err := fs.resolve(ino)
	if err != nil {
		return
	}
	if e.isDir() {
		err = ErrIsDir
		return
	}
	if off < 0 {
		err = fmt.Errorf("%w: offset %d", ErrInvalid, off)
		return
	}
	if off >= e.size {
		if len(p) > 0 {
			err = io.EOF
		}
		return
	}

	exts, err := fs.extents(e)
	if err != nil {
		return
	}
	for i := seek(exts, off); i < len(exts) && n < len(p); i++ {
		x := exts[i]
		blk, err := fs.readBlock(x.id)
		if err != nil {
			return n, err
		}
		if len(blk.Data) != int(x.len) {
			return n, fmt.Errorf("%w: block %v holds %d bytes, expected %d", ErrCorrupt, x.id, len(blk.Data), x.len)
		}
		n += copy(p[n:], blk.Data[off+int64(n)-x.off:])
	}
	if n < len(p) {
		err = io.EOF
	}
	return
}

// Size returns the length of file ino.
func (fs *FS) Size(ino Inode) (size int64, err error) {
	info, err := fs.Stat(ino)
	return info.Size, err
}
