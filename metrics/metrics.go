// Package metrics exports filesystem activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dacapoday/flashfs/ffs"
)

const (
	namespace   = "flashfs"
	gcSubsystem = "gc"
	fsSubsystem = "fs"
)

// Prometheus implements ffs.Metrics.
type Prometheus struct {
	gcDuration  prometheus.Histogram
	gcReclaimed prometheus.Counter
	gcFailures  prometheus.Counter

	freeBytes prometheus.Gauge
	inodes    prometheus.Gauge
	blocks    prometheus.Gauge
	seqTies   prometheus.Counter
	orphans   prometheus.Counter
}

var _ ffs.Metrics = (*Prometheus)(nil)

// New creates the collectors and registers them with r, or with the
// default registerer if r is nil.
func New(r prometheus.Registerer) *Prometheus {
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	m := &Prometheus{
		gcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: gcSubsystem,
			Name:      "duration_seconds",
			Help:      "Time spent compacting one area",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		gcReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: gcSubsystem,
			Name:      "reclaimed_bytes_total",
			Help:      "Stale bytes reclaimed by compaction",
		}),
		gcFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: gcSubsystem,
			Name:      "failures_total",
			Help:      "Compactions that could not free the requested space",
		}),
		freeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: fsSubsystem,
			Name:      "free_bytes",
			Help:      "Bytes available to new records outside the scratch area",
		}),
		inodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: fsSubsystem,
			Name:      "inodes",
			Help:      "Number of live files and directories",
		}),
		blocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: fsSubsystem,
			Name:      "blocks",
			Help:      "Number of live data blocks",
		}),
		seqTies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: fsSubsystem,
			Name:      "seq_ties_total",
			Help:      "Records found at mount sharing id and sequence number with another",
		}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: fsSubsystem,
			Name:      "orphans_total",
			Help:      "Records dropped at mount because their parent or owner was missing",
		}),
	}
	r.MustRegister(
		m.gcDuration,
		m.gcReclaimed,
		m.gcFailures,
		m.freeBytes,
		m.inodes,
		m.blocks,
		m.seqTies,
		m.orphans,
	)
	return m
}

func (m *Prometheus) AddGC(d time.Duration, reclaimed uint64) {
	m.gcDuration.Observe(d.Seconds())
	m.gcReclaimed.Add(float64(reclaimed))
}

func (m *Prometheus) IncGCFailure() {
	m.gcFailures.Inc()
}

func (m *Prometheus) SetFreeBytes(n uint64) {
	m.freeBytes.Set(float64(n))
}

func (m *Prometheus) SetInodes(n int) {
	m.inodes.Set(float64(n))
}

func (m *Prometheus) SetBlocks(n int) {
	m.blocks.Set(float64(n))
}

func (m *Prometheus) AddSeqTies(n int) {
	m.seqTies.Add(float64(n))
}

func (m *Prometheus) AddOrphans(n int) {
	m.orphans.Add(float64(n))
}
