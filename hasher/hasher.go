// Package hasher fingerprints canonical record text for deduplication.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Canonical normalizes line endings and strips trailing space on every line
// plus surrounding blank space, so that cosmetic differences in source files
// do not produce different fingerprints.
func Canonical(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Hash returns the lowercase hex SHA-256 digest of the canonical text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Canonical(text)))
	return hex.EncodeToString(sum[:])
}
