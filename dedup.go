package psopack

import (
	"bytes"

	"github.com/zeebo/blake3"
)

// dedupKey is the content identity of one serialized shader record. The
// record bytes cover stage, entry point, language, compiler and payload, so
// two shaders collide only when every one of those matches.
type dedupKey struct {
	hash [32]byte
	size int
}

type dedupEntry struct {
	key  dedupKey
	data []byte
}

// dedupTable is a per-device content-addressed shader store. Each distinct
// record is kept once, in insertion order; the position in the table is the
// shader's index within the device segment.
type dedupTable struct {
	entries []dedupEntry
	index   map[dedupKey][]int
}

// addOrFind returns the index of data, storing it first if the table has
// not seen it. On a hash hit the stored bytes are compared before the entry
// is reused.
func (t *dedupTable) addOrFind(data []byte) uint32 {
	key := dedupKey{hash: blake3.Sum256(data), size: len(data)}
	for _, i := range t.index[key] {
		if bytes.Equal(t.entries[i].data, data) {
			return uint32(i)
		}
	}
	if t.index == nil {
		t.index = make(map[dedupKey][]int)
	}
	i := len(t.entries)
	t.entries = append(t.entries, dedupEntry{key: key, data: data})
	t.index[key] = append(t.index[key], i)
	return uint32(i)
}

// len returns the number of distinct records stored.
func (t *dedupTable) len() int { return len(t.entries) }
