package translate

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key is the 32-byte cache key identifying one translation request across
// both cache tiers: a SHA-256 hash over (src_lang, tgt_lang, glossary_ver,
// normalized_text), each field length-delimited so that no two distinct
// tuples can collide by concatenation.
type Key [32]byte

// CacheKey computes the Key for one normalized request.
func CacheKey(srcLang, tgtLang, glossaryVer, normalizedText string) Key {
	h := sha256.New()
	for _, field := range []string{srcLang, tgtLang, glossaryVer, normalizedText} {
		var lenBuf [8]byte
		n := len(field)
		for i := 0; i < 8; i++ {
			lenBuf[i] = byte(n >> (8 * i))
		}
		h.Write(lenBuf[:])
		h.Write([]byte(field))
	}
	var k Key
	h.Sum(k[:0])
	return k
}

// Hex returns the key as a lowercase hex string, used as the primary key in
// the L2 store and as the singleflight group key.
func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}
