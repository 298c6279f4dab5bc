package dispatch

import (
	"fmt"
	"hash/fnv"
)

// fingerprint derives the deduplication key from prompt and caller identity.
// FNV-1a is not collision-free; two colliding concurrent requests merge and
// share one result.
func fingerprint(prompt, userID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(userID))
	return h.Sum64()
}

// fingerprintString formats a fingerprint for sink records.
func fingerprintString(fp uint64) string { return fmt.Sprintf("%016x", fp) }
