package caskdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// buildIndex scans a freshly sealed log and produces its on-disk hash index.
// The table starts at 8 buckets; whenever a bucket's four slots are all
// taken by distinct keys the whole attempt is thrown away and rebuilt with
// twice the buckets, so the finished index always resolves a key within its
// natural bucket.
func buildIndex(logPath, idxPath string, logger *zap.Logger) error {
	logFile, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open sealed log: %w", err)
	}
	defer logFile.Close()

	info, err := logFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat sealed log: %w", err)
	}

	buckets := uint32(initialBuckets)
	for {
		err := writeIndex(logFile, info.Size(), idxPath, buckets)
		if err == nil {
			return nil
		}
		if errors.Is(err, errBucketOverflow) {
			logger.Debug("index bucket overflow, growing table",
				zap.Uint32("buckets", buckets),
				zap.Uint32("next", buckets*2))
			buckets *= 2
			continue
		}
		return err
	}
}

// writeIndex is one build attempt at a fixed bucket count.
func writeIndex(logFile *os.File, logSize int64, idxPath string, buckets uint32) error {
	idxFile, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer idxFile.Close()

	if err := preallocate(idxFile, indexHeaderSize+int64(buckets)*bucketSize); err != nil {
		return err
	}

	header := make([]byte, indexHeaderSize)
	binary.LittleEndian.PutUint32(header, buckets)
	if err := pwriteFull(idxFile, header, 0); err != nil {
		return err
	}

	recordHdr := make([]byte, recordHeaderSize)
	off := int64(1)
	for off < logSize {
		n, err := preadFull(logFile, recordHdr, off, false)
		if err != nil {
			return err
		}
		if n < recordHeaderSize {
			break
		}
		keyLen, valueLen := decodeRecordHeader(recordHdr)

		key := make([]byte, keyLen)
		n, err = preadFull(logFile, key, off+recordHeaderSize, false)
		if err != nil {
			return err
		}
		if n < int(keyLen) {
			break
		}

		end := off + recordSize(keyLen, valueLen)
		if end > logSize {
			break
		}

		if err := indexRecord(logFile, idxFile, buckets, key, uint32(off)); err != nil {
			return err
		}
		off = end
	}

	return idxFile.Sync()
}

// indexRecord writes one record's offset into its bucket. A slot already
// holding an older record of the same key is overwritten in place, so the
// index never returns a shadowed value; an empty slot is only consumed for
// a genuinely new key. All four slots are always examined: a zero slot does
// not end the bucket.
func indexRecord(logFile, idxFile *os.File, buckets uint32, key []byte, off uint32) error {
	bucketOff := indexHeaderSize + int64(keyHash(key)%buckets)*bucketSize
	bucket := make([]byte, bucketSize)
	if _, err := preadFull(idxFile, bucket, bucketOff, true); err != nil {
		return err
	}

	slot := -1
	for i := 0; i < offsetsPerBucket; i++ {
		stored := binary.LittleEndian.Uint32(bucket[1+i*4:])
		if stored == 0 {
			if slot < 0 {
				slot = i
			}
			continue
		}
		same, err := sameKeyAt(logFile, stored, key)
		if err != nil {
			return err
		}
		if same {
			slot = i
			break
		}
	}
	if slot < 0 {
		return errBucketOverflow
	}

	binary.LittleEndian.PutUint32(bucket[1+slot*4:], off)
	return pwriteFull(idxFile, bucket, bucketOff)
}

// sameKeyAt reports whether the record at off in the log stores exactly key.
func sameKeyAt(logFile *os.File, off uint32, key []byte) (bool, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := preadFull(logFile, header, int64(off), true); err != nil {
		return false, err
	}
	keyLen, _ := decodeRecordHeader(header)
	if int(keyLen) != len(key) {
		return false, nil
	}

	stored := make([]byte, keyLen)
	if _, err := preadFull(logFile, stored, int64(off)+recordHeaderSize, true); err != nil {
		return false, err
	}
	return bytes.Equal(stored, key), nil
}
