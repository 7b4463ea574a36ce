package ffs

import "github.com/dacapoday/flashfs/internal/disk"

// AreaInfo describes one area.
type AreaInfo struct {
	ID      uint32
	GCSeq   uint16
	Length  uint32
	Cursor  uint32
	Live    uint32
	Scratch bool
}

type Stats struct {
	Areas []AreaInfo

	Capacity uint64 // bytes of every area but scratch, headers excluded
	Free     uint64 // bytes behind the write cursors
	Live     uint64 // bytes of records still referenced

	Inodes       int
	Blocks       int
	Tombstones   int
	MaxBlockSize int

	GCRuns    int
	Reclaimed uint64
	SeqTies   int // equal seqs seen at mount
	Orphans   int // records dropped at mount
}

func (fs *FS) Stats() (stats Stats, err error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if err = fs.ready(); err != nil {
		return
	}
	for i := range fs.areas.Len() {
		a := fs.areas.Area(i)
		stats.Areas = append(stats.Areas, AreaInfo{
			ID:      a.ID,
			GCSeq:   a.GCSeq,
			Length:  a.Length,
			Cursor:  a.Cursor,
			Live:    a.Live,
			Scratch: a.Scratch,
		})
		if a.Scratch {
			continue
		}
		stats.Capacity += uint64(a.Length - disk.AreaHeaderSize)
		stats.Live += uint64(a.Live)
	}
	stats.Free = fs.areas.Free()
	stats.Inodes = fs.inodes.Len()
	stats.Blocks = fs.blocks.Len()
	stats.Tombstones = len(fs.tombs)
	stats.MaxBlockSize = fs.maxData
	stats.GCRuns = fs.gcRuns
	stats.Reclaimed = fs.reclaimed
	stats.SeqTies = fs.seqTies
	stats.Orphans = fs.orphans
	return
}
