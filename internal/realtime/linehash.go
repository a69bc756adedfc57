// Package realtime implements the incremental subtitle loop: a 500 ms tick
// that screenshots a region, asks the OCR worker for a combined diff+OCR
// pass, line-hash-diffs the recognised lines against the previous tick, and
// translates only the lines that appeared since. Diff state lives inside the
// session, not in the global state machine.
package realtime

import (
	"crypto/sha256"
	"encoding/binary"
)

// LineHash identifies one recognised line by its text and vertical
// position. Two lines whose text matches but whose y-centers land in
// different buckets hash differently, so a line that moves far enough is
// re-translated rather than wrongly reused.
type LineHash [32]byte

// HashLine computes the hash over (text, ⌊yCenter/bucketPx⌋*bucketPx).
func HashLine(text string, yCenter, bucketPx int) LineHash {
	if bucketPx <= 0 {
		bucketPx = 8
	}
	bucket := (yCenter / bucketPx) * bucketPx

	h := sha256.New()
	h.Write([]byte(text))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(int64(bucket)))
	h.Write(buf[:])

	var out LineHash
	h.Sum(out[:0])
	return out
}
