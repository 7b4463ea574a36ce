package ffs

import (
	"go.uber.org/zap"

	"github.com/dacapoday/flashfs/internal/disk"
)

type cfg struct {
	log     *zap.Logger
	metrics Metrics

	hashBuckets  int
	maxInodes    int
	maxBlocks    int
	maxBlockSize int
	cacheSize    int
}

func defaultCfg() *cfg {
	return &cfg{
		log:         zap.L(),
		metrics:     noopMetrics{},
		hashBuckets: 256,
		maxInodes:   1024,
		maxBlocks:   8192,
		cacheSize:   32,
	}
}

// Option configures a filesystem instance.
type Option func(*cfg)

// WithLogger returns option to specify the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l.With(zap.String("component", "flashfs"))
	}
}

// WithMetrics returns option to report filesystem activity to m.
func WithMetrics(m Metrics) Option {
	return func(c *cfg) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithHashBuckets returns option to set the number of hash index buckets.
func WithHashBuckets(n int) Option {
	return func(c *cfg) {
		if n > 0 {
			c.hashBuckets = n
		}
	}
}

// WithMaxInodes returns option to bound the inode pool. Placeholders for
// inodes not yet seen during mount count against it too.
func WithMaxInodes(n int) Option {
	return func(c *cfg) {
		if n > 0 {
			c.maxInodes = n
		}
	}
}

// WithMaxBlocks returns option to bound the data block pool.
func WithMaxBlocks(n int) Option {
	return func(c *cfg) {
		if n > 0 {
			c.maxBlocks = n
		}
	}
}

// WithMaxBlockSize returns option to set the largest data payload of a
// block record, at most 2048 bytes. By default it is derived from the
// smallest area so that two full blocks fit in it.
func WithMaxBlockSize(n int) Option {
	return func(c *cfg) {
		if n > 0 {
			c.maxBlockSize = min(n, disk.MaxBlockData)
		}
	}
}

// WithCacheSize returns option to set how many files keep their block
// ordering cached.
func WithCacheSize(n int) Option {
	return func(c *cfg) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}
