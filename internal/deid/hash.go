// Package deid converts identifiable visit records into the de-identified
// encounter form. Identity never leaves this package unhashed.
package deid

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// csruidPrefixLen is the portion of a record key stable across re-uploads of
// the same visit. The remainder varies per document revision and is dropped.
const csruidPrefixLen = 21

// Hasher produces keyed hashes of identifying fields. The same secret must
// be used across runs so participant and location ids stay stable.
type Hasher struct {
	secret []byte
}

// NewHasher creates a Hasher from the configured hashing secret.
func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Hash returns the hex HMAC-SHA256 of the canonicalized parts. Empty parts
// are kept in place so field order stays significant.
func (h *Hasher) Hash(parts ...string) string {
	mac := hmac.New(sha256.New, h.secret)
	for i, part := range parts {
		if i > 0 {
			mac.Write([]byte{'|'})
		}
		mac.Write([]byte(canonicalizeToken(part)))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalizeToken normalizes a field for hashing: NFC form, letters and
// digits only, uppercased. Two spellings of the same value that differ in
// spacing, punctuation, or composed characters hash identically.
func canonicalizeToken(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// ObscureCsruid truncates a record key to its stable prefix.
func ObscureCsruid(csruid string) string {
	if len(csruid) > csruidPrefixLen {
		return csruid[:csruidPrefixLen]
	}
	return csruid
}
