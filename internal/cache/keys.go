package cache

import (
	"crypto/sha1"
	"encoding/hex"
)

// KeyForURL derives the stable per-video cache identity from its URL.
// Dedup markers need a key before any extractor has reported a platform
// id, so the URL itself is the identity, hashed to keep keys short.
func KeyForURL(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}
