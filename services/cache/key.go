package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Keys are fixed-length SHA-256 hex digests so any structured input maps to a
// safe file name in the disk tier.

// KeyFromString derives a cache key from a plain string.
func KeyFromString(s string) string {
	return digest(s)
}

// KeyFromList derives a cache key from an ordered list of parts.
func KeyFromList(parts ...string) string {
	return digest(strings.Join(parts, "\x1f"))
}

// KeyFromFields derives a cache key from named fields. Fields are sorted by
// name before hashing, so insertion order never affects the digest.
func KeyFromFields(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+fields[name])
	}
	return digest(strings.Join(parts, "\x1f"))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
