package caskdb

import "go.uber.org/zap"

type ConfOption func(*Config)

// Config is the configuration for a DB instance.
type Config struct {
	Logger           *zap.Logger
	SyncWrites       bool
	PhysicalTruncate bool
	ReadCacheSize    int64
}

// DefaultReadCacheSize is a 64 MiB cache budget. DefaultConfig leaves the
// read cache disabled; this budget takes effect only when passed to
// ReadCacheSize.
const DefaultReadCacheSize = 64 * 1024 * 1024

// Logger sets the logger used for engine events. The default discards
// everything.
func Logger(l *zap.Logger) ConfOption {
	return func(c *Config) {
		c.Logger = l
	}
}

// SyncWrites sets whether every put is followed by an fsync.
func SyncWrites(sync bool) ConfOption {
	return func(c *Config) {
		c.SyncWrites = sync
	}
}

// PhysicalTruncate sets whether a torn tail found during open is cut off
// the file itself, instead of only being ignored by the append position.
func PhysicalTruncate(truncate bool) ConfOption {
	return func(c *Config) {
		c.PhysicalTruncate = truncate
	}
}

// ReadCacheSize enables an in-memory read cache with the given byte budget.
// Zero disables caching.
func ReadCacheSize(size int64) ConfOption {
	return func(c *Config) {
		c.ReadCacheSize = size
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logger:           zap.NewNop(),
		SyncWrites:       false,
		PhysicalTruncate: false,
		ReadCacheSize:    0,
	}
}
