// Package fingerprint derives deterministic, content-addressed entry ids.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var multiNewline = regexp.MustCompile(`\n{3,}`)

// Normalize canonicalizes entry text so that trivial formatting
// differences (line endings, trailing whitespace, extra blank lines)
// do not produce distinct ids.
func Normalize(content string) string {
	s := strings.ReplaceAll(content, "\r\n", "\n")
	s = strings.TrimSpace(s)
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return s
}

// ID returns the hex-encoded SHA-256 digest of the normalized content.
// Identical normalized content always yields the same id.
func ID(content string) string {
	h := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(h[:])
}

// Sum returns the hex-encoded SHA-256 digest of raw bytes, used for
// optimistic concurrency checks on whole author files.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
