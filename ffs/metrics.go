package ffs

import "time"

// Metrics receives filesystem activity. The metrics package provides a
// Prometheus implementation.
type Metrics interface {
	// AddGC records one compaction and the bytes it reclaimed.
	AddGC(d time.Duration, reclaimed uint64)
	// IncGCFailure records a compaction that could not run or did not finish.
	IncGCFailure()
	SetFreeBytes(n uint64)
	SetInodes(n int)
	SetBlocks(n int)
	AddSeqTies(n int)
	AddOrphans(n int)
}

type noopMetrics struct{}

func (noopMetrics) AddGC(time.Duration, uint64) {}
func (noopMetrics) IncGCFailure()               {}
func (noopMetrics) SetFreeBytes(uint64)         {}
func (noopMetrics) SetInodes(int)               {}
func (noopMetrics) SetBlocks(int)               {}
func (noopMetrics) AddSeqTies(int)              {}
func (noopMetrics) AddOrphans(int)              {}
