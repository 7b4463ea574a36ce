package disk

import (
	"encoding/binary"
	"fmt"

	"github.com/dacapoday/flashfs"
)

// AreaIDNone is the area id of a scratch area: the field is left erased so
// that it can be programmed in place when the area is promoted.
const AreaIDNone uint32 = 0xffffffff

// GCSeqNone is the erased gc_seq field of a scratch area.
const GCSeqNone uint16 = 0xffff

// Area header field offsets.
const (
	offsetState   = 9
	OffsetPromote = 10 // gc_seq u16 followed by area_id u32
)

const reserved uint32 = 0xffffffff

const (
	stateScratch byte = 0xff
	stateActive  byte = 0x00
)

// AreaHeader is the prefix of every area:
//
//	magic u32 | length u32 | version u8 | state u8 | gc_seq u16 | area_id u32 | reserved u32
//
// The reserved word is left erased.
type AreaHeader struct {
	Length  uint32
	Version uint8
	Scratch bool
	GCSeq   uint16
	ID      uint32
}

// Append appends the encoded header to dst. A scratch header leaves gc_seq
// and area_id erased.
func (h *AreaHeader) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, AreaMagic)
	dst = binary.LittleEndian.AppendUint32(dst, h.Length)
	if h.Scratch {
		dst = append(dst, h.Version, stateScratch)
		dst = binary.LittleEndian.AppendUint16(dst, GCSeqNone)
		dst = binary.LittleEndian.AppendUint32(dst, AreaIDNone)
	} else {
		dst = append(dst, h.Version, stateActive)
		dst = binary.LittleEndian.AppendUint16(dst, h.GCSeq)
		dst = binary.LittleEndian.AppendUint32(dst, h.ID)
	}
	return binary.LittleEndian.AppendUint32(dst, reserved)
}

// PromoteFields returns the bytes programmed at OffsetPromote when a scratch
// area takes over the identity of a compacted area.
func PromoteFields(gcSeq uint16, id uint32) []byte {
	b := binary.LittleEndian.AppendUint16(nil, gcSeq)
	return binary.LittleEndian.AppendUint32(b, id)
}

// ActivateField returns the offset and value that mark a promoted scratch
// area as active. It is written after PromoteFields.
func ActivateField() (off uint32, b []byte) {
	return offsetState, []byte{stateActive}
}

// NextGCSeq returns the gc_seq following seq, skipping the erased value.
func NextGCSeq(seq uint16) uint16 {
	seq++
	if seq == GCSeqNone {
		seq = 0
	}
	return seq
}

// Blank reports whether b reads as erased flash.
func Blank(b []byte) bool {
	for _, c := range b {
		if c != 0xff {
			return false
		}
	}
	return true
}

// DecodeAreaHeader parses an area header.
func DecodeAreaHeader(b []byte) (h AreaHeader, err error) {
	if len(b) < AreaHeaderSize {
		err = fmt.Errorf("%w: short area header", flashfs.ErrCorrupt)
		return
	}
	if magic := binary.LittleEndian.Uint32(b); magic != AreaMagic {
		err = fmt.Errorf("%w: area %w %08x", flashfs.ErrCorrupt, flashfs.ErrUnknownMagicCode, magic)
		return
	}
	h.Length = binary.LittleEndian.Uint32(b[4:])
	h.Version = b[8]
	if h.Version != AreaVersion {
		err = fmt.Errorf("%w: area version %d is %w", flashfs.ErrCorrupt, h.Version, flashfs.ErrUnsupported)
		return
	}
	switch b[offsetState] {
	case stateScratch:
		h.Scratch = true
	case stateActive:
	default:
		err = fmt.Errorf("%w: area state %02x", flashfs.ErrCorrupt, b[offsetState])
		return
	}
	h.GCSeq = binary.LittleEndian.Uint16(b[OffsetPromote:])
	h.ID = binary.LittleEndian.Uint32(b[OffsetPromote+2:])
	if !h.Scratch && h.ID == AreaIDNone {
		err = fmt.Errorf("%w: active area without id", flashfs.ErrCorrupt)
	}
	return
}
