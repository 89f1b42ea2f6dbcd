package kv

import (
	"encoding/binary"
)

// Key layout. Every key starts with a one-byte record kind, heights are
// big-endian so lexicographic key order matches height order and range
// scans walk heights in order:
//
//	b | chain(8) | height(8)                      block record
//	e | chain(8) | height(8) | event_id           event record
//	s | kind | 0x00 | entity key | 0x00 | height(8)  versioned entity state
//	w | chain(8)                                  observed-height watermark
const (
	prefixBlock       = 'b'
	prefixEvent       = 'e'
	prefixEntityState = 's'
	prefixWatermark   = 'w'
)

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func blockPrefix(chainID uint) []byte {
	key := []byte{prefixBlock}
	return append(key, encodeUint64(uint64(chainID))...)
}

func blockKey(chainID uint, height int64) []byte {
	return append(blockPrefix(chainID), encodeUint64(uint64(height))...)
}

func eventPrefix(chainID uint) []byte {
	key := []byte{prefixEvent}
	return append(key, encodeUint64(uint64(chainID))...)
}

func eventHeightPrefix(chainID uint, height int64) []byte {
	return append(eventPrefix(chainID), encodeUint64(uint64(height))...)
}

func eventKey(chainID uint, height int64, eventID string) []byte {
	return append(eventHeightPrefix(chainID, height), []byte(eventID)...)
}

func entityStatePrefix(kind, key string) []byte {
	out := []byte{prefixEntityState}
	out = append(out, []byte(kind)...)
	out = append(out, 0x00)
	out = append(out, []byte(key)...)
	out = append(out, 0x00)
	return out
}

func entityStateKey(kind, key string, height int64) []byte {
	return append(entityStatePrefix(kind, key), encodeUint64(uint64(height))...)
}

func entityStateHeight(fullKey []byte, kind, key string) int64 {
	prefix := entityStatePrefix(kind, key)
	return int64(binary.BigEndian.Uint64(fullKey[len(prefix):]))
}

func watermarkKey(chainID uint) []byte {
	key := []byte{prefixWatermark}
	return append(key, encodeUint64(uint64(chainID))...)
}

func heightFromBlockKey(fullKey []byte) int64 {
	return int64(binary.BigEndian.Uint64(fullKey[len(fullKey)-8:]))
}

// seekLast appends 0xff bytes so a reverse iterator seeded with the result
// lands on the last key sharing the prefix.
func seekLast(prefix []byte) []byte {
	out := make([]byte, 0, len(prefix)+8)
	out = append(out, prefix...)
	for i := 0; i < 8; i++ {
		out = append(out, 0xff)
	}
	return out
}
