package build

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashInput derives a cache key from input bytes and the options that affect
// the artifact. Options are length-prefixed so that ("ab", "c") and
// ("a", "bc") hash differently.
func HashInput(input []byte, options ...string) CacheKey {
	h := sha256.New()
	var n [8]byte
	writeLen := func(l int) {
		for i := range n {
			n[i] = byte(uint64(l) >> (8 * i))
		}
		h.Write(n[:])
	}
	writeLen(len(options))
	for _, o := range options {
		writeLen(len(o))
		io.WriteString(h, o)
	}
	h.Write(input)
	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}
