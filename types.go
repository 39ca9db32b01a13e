package caskdb

import (
	"errors"
	"sync"
)

// DB is an embedded append-only key-value store. One active log absorbs
// writes; Rotate seals it into a numbered read-only log paired with an
// on-disk hash index.
type DB struct {
	directory string
	active    *activeSegment
	sealed    []*sealedSegment // newest first
	nextN     uint64
	mutex     sync.RWMutex
	config    *Config
	cache     *readCache
}

const (
	activeLogName = "current.log"

	recordHeaderSize = 6 // 2(keyLen) + 4(valueLen)

	indexHeaderSize  = 4 // u32 bucket count
	offsetsPerBucket = 4
	bucketSize       = 1 + offsetsPerBucket*4 // reserved byte + offset slots
	initialBuckets   = 8
)

// MaxKeySize is the largest key the record header can describe.
const MaxKeySize = 1<<16 - 1

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrEmptyKey       = errors.New("key must not be empty")
	ErrKeyTooLarge    = errors.New("key exceeds maximum size")
	ErrCorruptSegment = errors.New("corrupt segment index")

	// consumed inside the index builder, never escapes
	errBucketOverflow = errors.New("index bucket overflow")
)

// Stats is a point-in-time snapshot of the store's shape.
type Stats struct {
	SealedSegments int
	ActiveRecords  int
	ActiveSize     int64
	NextSegment    uint64
}
