package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizePrompt canonicalizes a prompt before hashing or embedding:
// NFKC unicode normalization, lowercase, whitespace collapsed to single
// spaces, leading and trailing space trimmed. Two prompts that differ
// only in these ways hit the same exact-cache entry.
func NormalizePrompt(prompt string) string {
	s := norm.NFKC.String(prompt)
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// Fingerprint is the exact-cache key: SHA-256 hex over the normalized
// prompt, tenant-prefixed when tenant scoping is on so tenants never
// share entries.
func Fingerprint(prompt, tenantID string) string {
	normalized := NormalizePrompt(prompt)
	var h [32]byte
	if tenantID != "" {
		h = sha256.Sum256([]byte(tenantID + "\x00" + normalized))
	} else {
		h = sha256.Sum256([]byte(normalized))
	}
	return hex.EncodeToString(h[:])
}
