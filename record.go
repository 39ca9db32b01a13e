package caskdb

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// Record layout, little-endian, no padding:
//
//	| keyLen(2) | valueLen(4) | key | value |
//
// Byte 0 of every log is reserved so that offset 0 can mean "empty slot"
// in the on-disk index; the first record starts at offset 1.

func encodeRecordHeader(buf []byte, keyLen uint16, valueLen uint32) {
	binary.LittleEndian.PutUint16(buf[:2], keyLen)
	binary.LittleEndian.PutUint32(buf[2:recordHeaderSize], valueLen)
}

func decodeRecordHeader(buf []byte) (keyLen uint16, valueLen uint32) {
	keyLen = binary.LittleEndian.Uint16(buf[:2])
	valueLen = binary.LittleEndian.Uint32(buf[2:recordHeaderSize])
	return keyLen, valueLen
}

// encodeRecord serialises a record into a single buffer so the append is
// one write call.
func encodeRecord(key, value []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(key)+len(value))
	encodeRecordHeader(buf, uint16(len(key)), uint32(len(value)))
	copy(buf[recordHeaderSize:], key)
	copy(buf[recordHeaderSize+len(key):], value)
	return buf
}

// recordSize is the on-disk footprint of a record.
func recordSize(keyLen uint16, valueLen uint32) int64 {
	return recordHeaderSize + int64(keyLen) + int64(valueLen)
}

// keyHash is the 32-bit hash every index is keyed by.
func keyHash(key []byte) uint32 {
	return xxhash.Checksum32(key)
}
