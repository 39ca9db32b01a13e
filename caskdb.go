package caskdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"
)

// sealedLogPattern matches the numbered logs of sealed segments. Any other
// regular file in the directory is ignored.
var sealedLogPattern = regexp.MustCompile(`^(\d+)\.log$`)

// Open opens a caskdb database instance rooted at dir, creating the
// directory if needed. Existing sealed segments are loaded newest-first and
// the active log is recovered, dropping any torn tail left by a crash.
func Open(dir string, opts ...ConfOption) (*DB, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	db := &DB{
		directory: dir,
		config:    config,
	}

	if config.ReadCacheSize > 0 {
		cache, err := newReadCache(config.ReadCacheSize)
		if err != nil {
			return nil, err
		}
		db.cache = cache
	}

	if err := db.loadSealedSegments(); err != nil {
		db.releaseAll()
		return nil, fmt.Errorf("failed to load sealed segments: %w", err)
	}

	active, err := openActiveSegment(dir, config.Logger, config.PhysicalTruncate)
	if err != nil {
		db.releaseAll()
		return nil, err
	}
	db.active = active

	config.Logger.Info("opened database",
		zap.String("directory", dir),
		zap.Int("sealed_segments", len(db.sealed)),
		zap.Uint64("next_segment", db.nextN))

	return db, nil
}

// loadSealedSegments discovers N.log files, opens each segment pair in
// ascending order and stores them newest-first for lookups.
func (db *DB) loadSealedSegments() error {
	entries, err := os.ReadDir(db.directory)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	var ns []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := sealedLogPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		ns = append(ns, n)
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i] < ns[j] })

	for _, n := range ns {
		seg, err := openSealedSegment(db.directory, n)
		if err != nil {
			return err
		}
		db.sealed = append([]*sealedSegment{seg}, db.sealed...)
		db.nextN = n + 1
	}

	return nil
}

// Put writes a key-value pair. The key must be 1..65535 bytes; the value
// may be empty.
func (db *DB) Put(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	if db.cache != nil {
		db.cache.invalidate(key)
	}
	return db.active.put(key, value, db.config.SyncWrites)
}

// Get returns the newest value written for key, consulting the active
// segment first and then each sealed segment from newest to oldest.
// ErrKeyNotFound reports a miss.
func (db *DB) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	db.mutex.RLock()
	defer db.mutex.RUnlock()

	if db.cache != nil {
		if value, found := db.cache.get(key); found {
			return value, nil
		}
	}

	h := keyHash(key)
	value, err := db.active.get(h, key)
	for _, seg := range db.sealed {
		if !errors.Is(err, ErrKeyNotFound) {
			break
		}
		value, err = seg.get(h, key)
	}
	if err != nil {
		return nil, err
	}

	if db.cache != nil {
		db.cache.set(key, value)
	}
	return value, nil
}

// Rotate seals the active log: it is renamed to the next segment number,
// its hash index is built, and a fresh empty active log takes its place.
func (db *DB) Rotate() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	n := db.nextN
	db.nextN++

	if err := db.active.close(); err != nil {
		return err
	}
	db.active = nil

	logPath := sealedLogPath(db.directory, n)
	if err := os.Rename(filepath.Join(db.directory, activeLogName), logPath); err != nil {
		return fmt.Errorf("failed to seal active log: %w", err)
	}

	if err := buildIndex(logPath, sealedIdxPath(db.directory, n), db.config.Logger); err != nil {
		return err
	}

	seg, err := openSealedSegment(db.directory, n)
	if err != nil {
		return err
	}
	db.sealed = append([]*sealedSegment{seg}, db.sealed...)

	active, err := openActiveSegment(db.directory, db.config.Logger, db.config.PhysicalTruncate)
	if err != nil {
		return err
	}
	db.active = active

	db.config.Logger.Info("rotated active log",
		zap.Uint64("segment", n),
		zap.Uint32("index_buckets", seg.buckets))

	return nil
}

// Close releases every file handle and mapping held by the database.
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	return db.releaseAll()
}

func (db *DB) releaseAll() error {
	var firstErr error
	if db.active != nil {
		if err := db.active.close(); err != nil {
			firstErr = err
		}
		db.active = nil
	}
	for _, seg := range db.sealed {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.sealed = nil
	if db.cache != nil {
		db.cache.close()
		db.cache = nil
	}
	return firstErr
}

// PutString is a convenience wrapper over Put for textual keys and values.
func (db *DB) PutString(key, value string) error {
	return db.Put([]byte(key), []byte(value))
}

// GetString is a convenience wrapper over Get; a miss surfaces as
// ErrKeyNotFound.
func (db *DB) GetString(key string) (string, error) {
	value, err := db.Get([]byte(key))
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// BatchPut inserts multiple key-value pairs. The loop is not atomic: a
// failure leaves earlier pairs written.
func (db *DB) BatchPut(pairs map[string][]byte) error {
	for key, value := range pairs {
		if err := db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("failed to put key %s: %w", key, err)
		}
	}
	return nil
}

// BatchGet retrieves the listed keys, skipping misses.
func (db *DB) BatchGet(keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	for _, key := range keys {
		value, err := db.Get([]byte(key))
		if err == nil {
			result[key] = value
		} else if !errors.Is(err, ErrKeyNotFound) {
			return nil, fmt.Errorf("failed to get key %s: %w", key, err)
		}
	}
	return result, nil
}

// Snapshot copies every segment file into snapshotDir.
func (db *DB) Snapshot(snapshotDir string) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	paths := []string{filepath.Join(db.directory, activeLogName)}
	for _, seg := range db.sealed {
		paths = append(paths, sealedLogPath(db.directory, seg.n), sealedIdxPath(db.directory, seg.n))
	}

	for _, src := range paths {
		dst := filepath.Join(snapshotDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
		}
	}

	return nil
}

// DumpIndex logs the active segment's hash chains, for debugging.
func (db *DB) DumpIndex() {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	for h, offsets := range db.active.index {
		db.config.Logger.Info("active index entry",
			zap.Uint32("hash", h),
			zap.Uint32s("offsets", offsets))
	}
}

// Stats reports the store's current shape.
func (db *DB) Stats() Stats {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	return Stats{
		SealedSegments: len(db.sealed),
		ActiveRecords:  db.active.records,
		ActiveSize:     db.active.appendPos,
		NextSegment:    db.nextN,
	}
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
