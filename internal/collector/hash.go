package collector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashContent digests the textual fields of an item after whitespace
// normalization, so reflowed or re-indented copies of the same content hash
// identically.
func HashContent(title, content, summary string) string {
	parts := []string{
		normalizeText(title),
		normalizeText(content),
		normalizeText(summary),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

func normalizeText(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(raw))), " ")
}
