package ffs

import (
	"fmt"

	"github.com/dacapoday/flashfs/internal/area"
	"github.com/dacapoday/flashfs/internal/disk"
)

// WriteAt writes p to file ino at off. Bytes over existing data replace the
// blocks holding them; the rest is appended, first by growing the last
// block and then as new blocks. Writing past the end of the file fails with
// ErrOutOfRange. After a failure, the first n bytes of p are stored.
func (fs *FS) WriteAt(ino Inode, p []byte, off int64) (n int, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if n, err = fs.writeAt(ino, p, off); err != nil {
		err = fmt.Errorf("ffs.WriteAt: %w", err)
	}
	return
}

// Append writes p at the end of file ino.
func (fs *FS) Append(ino Inode, p []byte) (n int, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	var e *inode
	if err = fs.ready(); err == nil {
		e, err = fs.resolve(ino)
	}
	if err == nil {
		n, err = fs.writeAt(ino, p, e.size)
	}
	if err != nil {
		err = fmt.Errorf("ffs.Append: %w", err)
	}
	return
}

func (fs *FS) writeAt(ino Inode, p []byte, off int64) (n int, err error) {
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
	if off > e.size {
		err = fmt.Errorf("%w: offset %d beyond end of file at %d", ErrOutOfRange, off, e.size)
		return
	}
	if len(p) == 0 {
		return
	}

	exts, err := fs.extents(e)
	if err != nil {
		return
	}
	defer fs.report()
	defer fs.cache.remove(e.id)

	end := off + int64(len(p))
	pos := off
	i := seek(exts, off)
	if i == len(exts) && i > 0 && int(exts[i-1].len) < fs.maxData {
		i--
	}
	for ; i < len(exts) && pos < end; i++ {
		x := exts[i]
		length := int64(x.len)
		if i == len(exts)-1 {
			length = max(length, min(int64(fs.maxData), end-x.off))
		}
		stop := min(end, x.off+length)
		if err = fs.rewrite(e, x, int(length), int(pos-x.off), p[pos-off:stop-off]); err != nil {
			return
		}
		n += int(stop - pos)
		pos = stop
	}
	for pos < end {
		chunk := min(int64(fs.maxData), end-pos)
		if err = fs.appendBlock(e, p[pos-off:pos-off+chunk]); err != nil {
			return
		}
		n += int(chunk)
		pos += chunk
	}
	return
}

// rewrite supersedes block x with a copy of length bytes carrying src at
// offset at.
func (fs *FS) rewrite(e *inode, x extent, length, at int, src []byte) error {
	b, ok := fs.findBlock(x.id)
	if !ok {
		return fmt.Errorf("%w: block %v of %v is not indexed", ErrCorrupt, x.id, e.id)
	}
	loc, err := fs.commit(disk.BlockSize(length), func(dst []byte) ([]byte, error) {
		blk, err := fs.readBlock(x.id)
		if err != nil {
			return nil, err
		}
		data := make([]byte, length)
		copy(data, blk.Data)
		copy(data[at:], src)
		blk.Seq++
		blk.Data = data
		return blk.Append(dst), nil
	})
	if err != nil {
		return err
	}
	fs.release(b.loc, disk.BlockSize(int(x.len)))
	b.loc = loc
	e.size = max(e.size, x.off+int64(length))
	return nil
}

// appendBlock adds data as a new last block of e.
func (fs *FS) appendBlock(e *inode, data []byte) error {
	h, b, err := fs.blocks.Alloc()
	if err != nil {
		return err
	}
	id, err := fs.allocBlockID()
	if err != nil {
		fs.blocks.Free(h)
		return err
	}
	blk := disk.Block{ID: id, Inode: e.id, Prev: e.tail, Data: data}
	loc, err := fs.commit(disk.BlockSize(len(data)), func(dst []byte) ([]byte, error) {
		return blk.Append(dst), nil
	})
	if err != nil {
		fs.blocks.Free(h)
		if loc == (area.Loc{}) {
			fs.unallocID(id)
		}
		return err
	}
	*b = block{id: id, loc: loc}
	fs.index.Insert(id, h)
	e.tail = id
	e.size += int64(len(data))
	return nil
}
