// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package disk

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dacapoday/flashfs"
)

// Object is the result of decoding one position of an area log.
// It is one of *Inode, *Block, EndOfLog or Corrupt.
type Object interface {
	object()
}

// Inode is a decoded inode record.
type Inode struct {
	ID     ID
	Seq    uint32
	Parent ID
	Flags  uint16
	Name   string
}

// Block is a decoded block record. Data is nil when only the header was read.
type Block struct {
	ID    ID
	Seq   uint32
	Inode ID
	Prev  ID // 0 for the first block of a file
	Len   uint16
	Data  []byte
}

// EndOfLog marks erased flash: nothing was ever written at this offset.
type EndOfLog struct{}

// Corrupt marks a record that failed validation. Nothing after it in the
// same area can be trusted.
type Corrupt struct {
	Err error
}

func (*Inode) object()   {}
func (*Block) object()   {}
func (EndOfLog) object() {}
func (Corrupt) object()  {}

func (c Corrupt) Error() string {
	return c.Err.Error()
}

func (c Corrupt) Unwrap() error {
	return c.Err
}

func (ino *Inode) Size() uint32 {
	return InodeSize(len(ino.Name))
}

func (ino *Inode) IsDir() bool {
	return ino.Flags&FlagDirectory != 0
}

func (ino *Inode) IsDeleted() bool {
	return ino.Flags&FlagDeleted != 0
}

func (blk *Block) Size() uint32 {
	return BlockSize(int(blk.Len))
}

// Append appends the encoded inode record to dst.
func (ino *Inode) Append(dst []byte) []byte {
	start := len(dst)
	dst = binary.LittleEndian.AppendUint32(dst, InodeMagic)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(ino.ID))
	dst = binary.LittleEndian.AppendUint32(dst, ino.Seq)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(ino.Parent))
	dst = binary.LittleEndian.AppendUint16(dst, ino.Flags)
	dst = append(dst, byte(len(ino.Name)), 0xff)
	dst = append(dst, ino.Name...)
	return binary.LittleEndian.AppendUint32(dst, checksum(dst[start:]))
}

// Append appends the encoded block record to dst. Len is taken from Data.
func (blk *Block) Append(dst []byte) []byte {
	start := len(dst)
	dst = binary.LittleEndian.AppendUint32(dst, BlockMagic)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(blk.ID))
	dst = binary.LittleEndian.AppendUint32(dst, blk.Seq)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(blk.Inode))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(blk.Prev))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(blk.Data)))
	dst = append(dst, 0xff, 0xff)
	dst = append(dst, blk.Data...)
	return binary.LittleEndian.AppendUint32(dst, checksum(dst[start:]))
}

func corrupt(format string, a ...any) Corrupt {
	return Corrupt{Err: fmt.Errorf("%w: "+format, append([]any{flashfs.ErrCorrupt}, a...)...)}
}

// Decode reads and validates the record at off of an area whose log may
// extend up to end. The returned error reports device failures only;
// validation failures come back as Corrupt.
func Decode(r io.ReaderAt, off, end uint32) (obj Object, err error) {
	if off+4 > end {
		return EndOfLog{}, nil
	}
	var head [BlockHeaderSize]byte
	if _, err = r.ReadAt(head[:4], int64(off)); err != nil {
		return
	}
	switch magic := binary.LittleEndian.Uint32(head[:4]); magic {
	case Erased:
		return EndOfLog{}, nil
	case InodeMagic:
		return decodeInode(r, off, end, head[:InodeHeaderSize])
	case BlockMagic:
		return decodeBlock(r, off, end, head[:BlockHeaderSize])
	default:
		return corrupt("offset %d: %w %08x", off, flashfs.ErrUnknownMagicCode, magic), nil
	}
}

func decodeInode(r io.ReaderAt, off, end uint32, head []byte) (obj Object, err error) {
	if off+InodeHeaderSize+CRCSize > end {
		return corrupt("inode at %d overruns area", off), nil
	}
	if _, err = r.ReadAt(head[4:], int64(off)+4); err != nil {
		return
	}
	ino := &Inode{
		ID:     ID(binary.LittleEndian.Uint32(head[4:])),
		Seq:    binary.LittleEndian.Uint32(head[8:]),
		Parent: ID(binary.LittleEndian.Uint32(head[12:])),
		Flags:  binary.LittleEndian.Uint16(head[16:]),
	}
	nameLen := int(head[18])
	size := InodeSize(nameLen)
	if off+size > end {
		return corrupt("inode(%v) at %d overruns area", ino.ID, off), nil
	}
	if !ino.ID.IsInode() {
		return corrupt("inode at %d has block id %v", off, ino.ID), nil
	}

	buf := make([]byte, size)
	copy(buf, head)
	if _, err = r.ReadAt(buf[InodeHeaderSize:], int64(off)+InodeHeaderSize); err != nil {
		return
	}
	crc := len(buf) - CRCSize
	if binary.LittleEndian.Uint32(buf[crc:]) != checksum(buf[:crc]) {
		return corrupt("inode(%v) at %d: %w", ino.ID, off, flashfs.ErrBadChecksum), nil
	}
	ino.Name = string(buf[InodeHeaderSize:crc])
	return ino, nil
}

func decodeBlock(r io.ReaderAt, off, end uint32, head []byte) (obj Object, err error) {
	if off+BlockHeaderSize+CRCSize > end {
		return corrupt("block at %d overruns area", off), nil
	}
	if _, err = r.ReadAt(head[4:], int64(off)+4); err != nil {
		return
	}
	blk := parseBlock(head)
	if blk.Len > MaxBlockData {
		return corrupt("block(%v) at %d has length %d", blk.ID, off, blk.Len), nil
	}
	size := blk.Size()
	if off+size > end {
		return corrupt("block(%v) at %d overruns area", blk.ID, off), nil
	}
	if !blk.ID.IsBlock() || !blk.Inode.IsFile() {
		return corrupt("block at %d has ids %v/%v", off, blk.ID, blk.Inode), nil
	}

	buf := make([]byte, size)
	copy(buf, head)
	if _, err = r.ReadAt(buf[BlockHeaderSize:], int64(off)+BlockHeaderSize); err != nil {
		return
	}
	crc := len(buf) - CRCSize
	if binary.LittleEndian.Uint32(buf[crc:]) != checksum(buf[:crc]) {
		return corrupt("block(%v) at %d: %w", blk.ID, off, flashfs.ErrBadChecksum), nil
	}
	blk.Data = buf[BlockHeaderSize:crc:crc]
	return blk, nil
}

func parseBlock(head []byte) *Block {
	return &Block{
		ID:    ID(binary.LittleEndian.Uint32(head[4:])),
		Seq:   binary.LittleEndian.Uint32(head[8:]),
		Inode: ID(binary.LittleEndian.Uint32(head[12:])),
		Prev:  ID(binary.LittleEndian.Uint32(head[16:])),
		Len:   binary.LittleEndian.Uint16(head[20:]),
	}
}

// ReadBlockHeader reads the header of the block record at off without
// reading or checking its payload.
func ReadBlockHeader(r io.ReaderAt, off uint32) (blk *Block, err error) {
	var head [BlockHeaderSize]byte
	if _, err = r.ReadAt(head[:], int64(off)); err != nil {
		return
	}
	if magic := binary.LittleEndian.Uint32(head[:]); magic != BlockMagic {
		err = fmt.Errorf("%w: offset %d: %w %08x", flashfs.ErrCorrupt, off, flashfs.ErrUnknownMagicCode, magic)
		return
	}
	return parseBlock(head[:]), nil
}
