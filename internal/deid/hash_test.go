package deid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash_StableAcrossSpelling(t *testing.T) {
	h := NewHasher("secret")

	base := h.Hash("Ada Lovelace", "female", "1990-02-01", "98109")
	assert.Equal(t, base, h.Hash("ada  lovelace", "FEMALE", "1990-02-01", "98109"))
	assert.Equal(t, base, h.Hash("Ada-Lovelace.", "female", "1990-02-01", "98109"))
	assert.NotEqual(t, base, h.Hash("Ada Lovelace", "female", "1990-02-01", "98110"))
}

func TestHash_SecretChangesOutput(t *testing.T) {
	a := NewHasher("secret-a").Hash("Ada Lovelace")
	b := NewHasher("secret-b").Hash("Ada Lovelace")
	assert.NotEqual(t, a, b)
}

func TestHash_FieldOrderMatters(t *testing.T) {
	h := NewHasher("secret")
	assert.NotEqual(t, h.Hash("a", "b"), h.Hash("b", "a"))
	assert.NotEqual(t, h.Hash("ab", ""), h.Hash("a", "b"))
}

func TestCanonicalizeToken(t *testing.T) {
	assert.Equal(t, "JOSEGARCIA", canonicalizeToken("Jose Garcia"))
	assert.Equal(t, "123MAINST", canonicalizeToken("123 Main St."))
	assert.Equal(t, "", canonicalizeToken("  ,.- "))
	// Composed and decomposed accents normalize identically.
	assert.Equal(t, canonicalizeToken("José"), canonicalizeToken("Jose\u0301"))
}

func TestObscureCsruid(t *testing.T) {
	long := "abcdefghijklmnopqrstuvwxyz"
	assert.Equal(t, "abcdefghijklmnopqrstu", ObscureCsruid(long))
	assert.Len(t, ObscureCsruid(long), 21)
	assert.Equal(t, "short", ObscureCsruid("short"))
}
