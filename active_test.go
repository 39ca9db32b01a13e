package caskdb

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestActive(t *testing.T) *activeSegment {
	t.Helper()
	dir, err := os.MkdirTemp("", "caskdb-active-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := openActiveSegment(dir, zap.NewNop(), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.file.Close() })
	return s
}

func TestActiveInsertReplacesSameKey(t *testing.T) {
	s := openTestActive(t)

	require.NoError(t, s.put([]byte("k"), []byte("v1"), false))
	firstChainLen := len(s.index[keyHash([]byte("k"))])
	require.NoError(t, s.put([]byte("k"), []byte("v2"), false))

	// rewrite swaps the offset in place instead of growing the chain
	assert.Equal(t, firstChainLen, len(s.index[keyHash([]byte("k"))]))

	value, err := s.get(keyHash([]byte("k")), []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), value)
}

// Full 32-bit hash collisions are too rare to construct from real keys, so
// the chain logic is driven directly with a forced hash.
func TestActiveHashCollisionChain(t *testing.T) {
	s := openTestActive(t)

	k1, v1 := []byte("alpha"), []byte("one")
	k2, v2 := []byte("beta"), []byte("two")

	off1 := uint32(s.appendPos)
	require.NoError(t, pwriteFull(s.file, encodeRecord(k1, v1), s.appendPos))
	s.appendPos += recordSize(uint16(len(k1)), uint32(len(v1)))

	off2 := uint32(s.appendPos)
	require.NoError(t, pwriteFull(s.file, encodeRecord(k2, v2), s.appendPos))
	s.appendPos += recordSize(uint16(len(k2)), uint32(len(v2)))

	const h = uint32(0xdeadbeef)
	require.NoError(t, s.insert(h, k1, off1))
	require.NoError(t, s.insert(h, k2, off2))
	require.Len(t, s.index[h], 2)

	value, err := s.get(h, k1)
	require.NoError(t, err)
	assert.Equal(t, v1, value)

	value, err = s.get(h, k2)
	require.NoError(t, err)
	assert.Equal(t, v2, value)

	// rewriting one colliding key replaces its link only
	v3 := []byte("three")
	off3 := uint32(s.appendPos)
	require.NoError(t, pwriteFull(s.file, encodeRecord(k1, v3), s.appendPos))
	s.appendPos += recordSize(uint16(len(k1)), uint32(len(v3)))
	require.NoError(t, s.insert(h, k1, off3))

	require.Len(t, s.index[h], 2)
	value, err = s.get(h, k1)
	require.NoError(t, err)
	assert.Equal(t, v3, value)

	value, err = s.get(h, k2)
	require.NoError(t, err)
	assert.Equal(t, v2, value)
}

func TestActiveRecoveryRebuildsNewestOffsets(t *testing.T) {
	dir, err := os.MkdirTemp("", "caskdb-active-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	s, err := openActiveSegment(dir, zap.NewNop(), false)
	require.NoError(t, err)
	require.NoError(t, s.put([]byte("a"), []byte("old"), false))
	require.NoError(t, s.put([]byte("b"), []byte("keep"), false))
	require.NoError(t, s.put([]byte("a"), []byte("new"), false))
	require.NoError(t, s.file.Close())

	s, err = openActiveSegment(dir, zap.NewNop(), false)
	require.NoError(t, err)
	defer s.file.Close()

	assert.Equal(t, 3, s.records)

	value, err := s.get(keyHash([]byte("a")), []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)

	value, err = s.get(keyHash([]byte("b")), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), value)
}

func TestActiveRecoveryStopsAtTornHeader(t *testing.T) {
	dir, err := os.MkdirTemp("", "caskdb-active-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	s, err := openActiveSegment(dir, zap.NewNop(), false)
	require.NoError(t, err)
	require.NoError(t, s.put([]byte("good"), []byte("record"), false))
	committed := s.appendPos

	// half a header is a torn tail
	require.NoError(t, pwriteFull(s.file, []byte{9, 9, 9}, s.appendPos))
	require.NoError(t, s.file.Close())

	s, err = openActiveSegment(dir, zap.NewNop(), false)
	require.NoError(t, err)
	defer s.file.Close()

	assert.Equal(t, committed, s.appendPos)
	assert.Equal(t, 1, s.records)

	// the next append lands on top of the torn bytes
	require.NoError(t, s.put([]byte("next"), []byte("write"), false))
	value, err := s.get(keyHash([]byte("next")), []byte("next"))
	require.NoError(t, err)
	assert.Equal(t, []byte("write"), value)
}
