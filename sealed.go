package caskdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// sealedSegment is a read-only log paired with its on-disk hash index. Both
// files are memory-mapped for the lifetime of the segment, so a lookup is a
// bucket probe plus direct key compares against the mapped log.
type sealedSegment struct {
	n       uint64
	logFile *os.File
	idxFile *os.File
	logData []byte
	idxData []byte
	buckets uint32
}

func sealedLogPath(dir string, n uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.log", n))
}

func sealedIdxPath(dir string, n uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.idx", n))
}

// openSealedSegment opens and maps segment n's log and index. The index
// header is validated here: an unreadable header or a zero bucket count
// marks the segment corrupt.
func openSealedSegment(dir string, n uint64) (*sealedSegment, error) {
	logFile, err := os.Open(sealedLogPath(dir, n))
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %d log: %w", n, err)
	}
	idxFile, err := os.Open(sealedIdxPath(dir, n))
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to open segment %d index: %w", n, err)
	}

	s := &sealedSegment{n: n, logFile: logFile, idxFile: idxFile}

	s.logData, err = mmapFile(logFile)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("failed to map segment %d log: %w", n, err)
	}
	s.idxData, err = mmapFile(idxFile)
	if err != nil {
		s.release()
		return nil, fmt.Errorf("failed to map segment %d index: %w", n, err)
	}

	if len(s.idxData) < indexHeaderSize {
		s.release()
		return nil, fmt.Errorf("segment %d: index header unreadable: %w", n, ErrCorruptSegment)
	}
	s.buckets = binary.LittleEndian.Uint32(s.idxData[:indexHeaderSize])
	if s.buckets == 0 {
		s.release()
		return nil, fmt.Errorf("segment %d: zero bucket count: %w", n, ErrCorruptSegment)
	}
	if int64(len(s.idxData)) < indexHeaderSize+int64(s.buckets)*bucketSize {
		s.release()
		return nil, fmt.Errorf("segment %d: index shorter than %d buckets: %w", n, s.buckets, ErrCorruptSegment)
	}

	return s, nil
}

// get scans the four offset slots of the key's natural bucket. Zero slots
// are skipped, not treated as chain terminators; the index format allows a
// live offset to follow an empty slot.
func (s *sealedSegment) get(h uint32, key []byte) ([]byte, error) {
	bucket := h % s.buckets
	base := indexHeaderSize + int64(bucket)*bucketSize + 1 // skip reserved byte

	for i := 0; i < offsetsPerBucket; i++ {
		off := binary.LittleEndian.Uint32(s.idxData[base+int64(i)*4:])
		if off == 0 {
			continue
		}
		match, value, err := s.matchKeyAt(off, key)
		if err != nil {
			return nil, err
		}
		if match {
			return value, nil
		}
	}
	return nil, ErrKeyNotFound
}

// matchKeyAt compares key against the record at off in the mapped log and
// returns a copy of the record's value on a match. Offsets come from the
// index file, so out-of-range values mean the segment pair is inconsistent.
func (s *sealedSegment) matchKeyAt(off uint32, key []byte) (bool, []byte, error) {
	logSize := int64(len(s.logData))
	start := int64(off)
	if start+recordHeaderSize > logSize {
		return false, nil, fmt.Errorf("segment %d: record offset %d out of range: %w", s.n, off, ErrCorruptSegment)
	}

	keyLen, valueLen := decodeRecordHeader(s.logData[start:])
	end := start + recordSize(keyLen, valueLen)
	if end > logSize {
		return false, nil, fmt.Errorf("segment %d: record at offset %d overruns log: %w", s.n, off, ErrCorruptSegment)
	}
	if int(keyLen) != len(key) {
		return false, nil, nil
	}

	keyStart := start + recordHeaderSize
	if !bytes.Equal(s.logData[keyStart:keyStart+int64(keyLen)], key) {
		return false, nil, nil
	}

	value := make([]byte, valueLen)
	copy(value, s.logData[keyStart+int64(keyLen):end])
	return true, value, nil
}

func (s *sealedSegment) close() error {
	return s.release()
}

// release unmaps and closes whatever has been acquired so far; usable from
// every failed-open path as well as close.
func (s *sealedSegment) release() error {
	var firstErr error
	if len(s.logData) > 0 {
		if err := unix.Munmap(s.logData); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to unmap segment %d log: %w", s.n, err)
		}
		s.logData = nil
	}
	if len(s.idxData) > 0 {
		if err := unix.Munmap(s.idxData); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to unmap segment %d index: %w", s.n, err)
		}
		s.idxData = nil
	}
	if err := s.logFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close segment %d log: %w", s.n, err)
	}
	if err := s.idxFile.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close segment %d index: %w", s.n, err)
	}
	return firstErr
}

func mmapFile(file *os.File) ([]byte, error) {
	fi, err := file.Stat()
	if err != nil {
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return []byte{}, nil
	}

	return unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
}
