package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint hashes the ordered (chunk ID, version) pairs covering a
// conversation. Any change to the underlying chunks changes the fingerprint,
// which makes cache entries keyed on it self-invalidating.
func Fingerprint(chunks []Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "%s@%d;", c.ID, c.Version)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:16])
}
