package caskdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHeaderLayout(t *testing.T) {
	buf := make([]byte, recordHeaderSize)
	encodeRecordHeader(buf, 0x0102, 0x03040506)

	// little-endian, keyLen first, no padding
	assert.Equal(t, []byte{0x02, 0x01, 0x06, 0x05, 0x04, 0x03}, buf)

	keyLen, valueLen := decodeRecordHeader(buf)
	assert.Equal(t, uint16(0x0102), keyLen)
	assert.Equal(t, uint32(0x03040506), valueLen)
}

func TestEncodeRecord(t *testing.T) {
	record := encodeRecord([]byte("key"), []byte("value"))

	require.Len(t, record, recordHeaderSize+3+5)
	keyLen, valueLen := decodeRecordHeader(record)
	assert.Equal(t, uint16(3), keyLen)
	assert.Equal(t, uint32(5), valueLen)
	assert.Equal(t, []byte("key"), record[recordHeaderSize:recordHeaderSize+3])
	assert.Equal(t, []byte("value"), record[recordHeaderSize+3:])
}

func TestEncodeRecordEmptyValue(t *testing.T) {
	record := encodeRecord([]byte("k"), nil)

	require.Len(t, record, recordHeaderSize+1)
	_, valueLen := decodeRecordHeader(record)
	assert.Equal(t, uint32(0), valueLen)
}

func TestKeyHashDeterministic(t *testing.T) {
	assert.Equal(t, keyHash([]byte("foo")), keyHash([]byte("foo")))
	assert.NotEqual(t, keyHash([]byte("foo")), keyHash([]byte("bar")))
}
