// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package disk encodes and decodes the on-flash records: area headers,
// inode records and data block records. All integers are little-endian and
// every record ends with a CRC32-Castagnoli over its header and payload.
package disk

import (
	"hash/crc32"

	"github.com/dacapoday/flashfs"
)

type ID = flashfs.ID

const (
	AreaMagic  uint32 = 0xb98a31e2
	InodeMagic uint32 = 0x925f8bc0
	BlockMagic uint32 = 0x53ba23b9
	Erased     uint32 = 0xffffffff

	AreaVersion = 0

	AreaHeaderSize  = 20
	InodeHeaderSize = 20
	BlockHeaderSize = 24
	CRCSize         = 4

	MaxFilename  = 255
	MaxBlockData = 2048
)

// Inode flags, as stored on flash.
const (
	FlagDeleted   uint16 = 0x01
	FlagDirectory uint16 = 0x02
)

var castagnoliCrcTable = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliCrcTable)
}

// InodeSize returns the flash footprint of an inode record.
func InodeSize(nameLen int) uint32 {
	return uint32(InodeHeaderSize + nameLen + CRCSize)
}

// BlockSize returns the flash footprint of a block record.
func BlockSize(dataLen int) uint32 {
	return uint32(BlockHeaderSize + dataLen + CRCSize)
}

// MaxRecordSize returns the largest record a filesystem with the given
// block data limit may need to store.
func MaxRecordSize(maxData int) uint32 {
	return max(InodeSize(MaxFilename), BlockSize(maxData))
}
