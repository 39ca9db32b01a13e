package caskdb

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// activeSegment is the one writable log plus its in-memory index. The index
// is a multimap from key hash to record offsets; collisions are tolerated as
// short chains that are disambiguated by re-reading the key bytes from disk.
type activeSegment struct {
	file      *os.File
	index     map[uint32][]uint32
	appendPos int64 // next append offset; trailing torn bytes sit beyond it
	records   int
	logger    *zap.Logger
}

// openActiveSegment opens (creating if absent) dir/current.log and rebuilds
// the in-memory index by scanning the records on disk. Any trailing bytes
// that do not form a complete record are discarded: the append position is
// pinned to the last complete record, and the file itself is cut there too
// when physicalTruncate is set.
func openActiveSegment(dir string, logger *zap.Logger, physicalTruncate bool) (*activeSegment, error) {
	path := filepath.Join(dir, activeLogName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open active log: %w", err)
	}

	s := &activeSegment{
		file:   file,
		index:  make(map[uint32][]uint32),
		logger: logger,
	}

	if err := s.recover(physicalTruncate); err != nil {
		file.Close()
		return nil, err
	}

	return s, nil
}

func (s *activeSegment) recover(physicalTruncate bool) error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat active log: %w", err)
	}
	fileSize := info.Size()

	// Fresh log: burn byte 0 so offset 0 stays free for the index sentinel.
	if fileSize == 0 {
		if err := writeFull(s.file, []byte{0}); err != nil {
			return fmt.Errorf("failed to reserve log byte 0: %w", err)
		}
		s.appendPos = 1
		return nil
	}

	if _, err := s.file.Seek(1, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek past reserved byte: %w", err)
	}

	header := make([]byte, recordHeaderSize)
	off := int64(1)
	for off < fileSize {
		n, err := readFull(s.file, header, false)
		if err != nil {
			return err
		}
		if n < recordHeaderSize {
			break
		}

		keyLen, valueLen := decodeRecordHeader(header)
		key := make([]byte, keyLen)
		n, err = readFull(s.file, key, false)
		if err != nil {
			return err
		}
		if n < int(keyLen) {
			break
		}

		end := off + recordSize(keyLen, valueLen)
		if end > fileSize {
			break
		}
		if _, err := s.file.Seek(int64(valueLen), io.SeekCurrent); err != nil {
			return fmt.Errorf("failed to seek past value: %w", err)
		}

		// key compares inside insert use positional reads, so the
		// streaming scan is undisturbed
		if err := s.insert(keyHash(key), key, uint32(off)); err != nil {
			return err
		}
		s.records++
		off = end
	}

	s.appendPos = off
	if off < fileSize {
		s.logger.Info("discarded torn tail of active log",
			zap.Int64("tail_bytes", fileSize-off),
			zap.Int64("append_pos", off))
		if physicalTruncate {
			if err := s.file.Truncate(off); err != nil {
				return fmt.Errorf("failed to truncate torn tail: %w", err)
			}
		}
	}
	s.logger.Debug("recovered active log",
		zap.Int("records", s.records),
		zap.Int64("size", off))

	return nil
}

// put appends a record and indexes it.
func (s *activeSegment) put(key, value []byte, syncWrites bool) error {
	off := s.appendPos
	record := encodeRecord(key, value)
	if off+int64(len(record)) > math.MaxUint32 {
		return fmt.Errorf("active log full at offset %d, rotation required", off)
	}

	if err := pwriteFull(s.file, record, off); err != nil {
		return err
	}
	if syncWrites {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync active log: %w", err)
		}
	}
	s.appendPos = off + int64(len(record))
	s.records++

	return s.insert(keyHash(key), key, uint32(off))
}

// insert records off as the location of key. If the key already has an
// offset under this hash it is replaced, so the chain holds the newest
// location; only genuinely new keys extend the chain. The compare scan is
// confined to the chain of this one hash.
func (s *activeSegment) insert(h uint32, key []byte, off uint32) error {
	chain := s.index[h]
	for i, o := range chain {
		match, _, err := s.matchKeyAt(o, key)
		if err != nil {
			return err
		}
		if match {
			chain[i] = off
			return nil
		}
	}
	s.index[h] = append(chain, off)
	return nil
}

// get probes the in-memory index and re-reads candidate records to
// disambiguate hash collisions.
func (s *activeSegment) get(h uint32, key []byte) ([]byte, error) {
	for _, off := range s.index[h] {
		match, valueLen, err := s.matchKeyAt(off, key)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		value := make([]byte, valueLen)
		valueOff := int64(off) + recordSize(uint16(len(key)), 0)
		if _, err := preadFull(s.file, value, valueOff, true); err != nil {
			return nil, err
		}
		return value, nil
	}
	return nil, ErrKeyNotFound
}

// matchKeyAt reports whether the record at off stores exactly key, and the
// record's value length on a match.
func (s *activeSegment) matchKeyAt(off uint32, key []byte) (bool, uint32, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := preadFull(s.file, header, int64(off), true); err != nil {
		return false, 0, err
	}
	keyLen, valueLen := decodeRecordHeader(header)
	if int(keyLen) != len(key) {
		return false, 0, nil
	}

	stored := make([]byte, keyLen)
	if _, err := preadFull(s.file, stored, int64(off)+recordHeaderSize, true); err != nil {
		return false, 0, err
	}
	if !bytes.Equal(stored, key) {
		return false, 0, nil
	}
	return true, valueLen, nil
}

// clear drops the in-memory index, e.g. after the log has been sealed.
func (s *activeSegment) clear() {
	s.index = make(map[uint32][]uint32)
	s.records = 0
}

func (s *activeSegment) close() error {
	s.clear()
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close active log: %w", err)
	}
	return nil
}
