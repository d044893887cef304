package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	addr := AddressInfo{
		Use:        AddressUseHome,
		Lines:      []string{"123 Main St.", "Apt. 4,"},
		City:       "seattle",
		State:      "wa",
		PostalCode: "98109-3858",
		Country:    "us",
	}

	got := Canonicalize(addr)
	assert.Equal(t, []string{"123 MAIN ST", "APT 4"}, got.Lines)
	assert.Equal(t, "SEATTLE", got.City)
	assert.Equal(t, "WA", got.State)
	assert.Equal(t, "98109-3858", got.PostalCode, "ZIP+4 hyphen must survive")
	assert.Equal(t, "US", got.Country)
	assert.Empty(t, got.Use, "use never participates in canonical form")
}

func TestCanonicalize_Idempotent(t *testing.T) {
	addr := AddressInfo{
		Lines:      []string{" 500 Broadway Ave. E, "},
		City:       "Seattle",
		State:      "WA",
		PostalCode: "98102",
	}
	once := Canonicalize(addr)
	twice := Canonicalize(once)
	assert.Equal(t, once, twice)
}

func TestCacheKey_IgnoresUse(t *testing.T) {
	home := AddressInfo{Use: AddressUseHome, Lines: []string{"123 Main St"}, City: "Seattle", State: "WA"}
	work := home
	work.Use = AddressUseWork

	assert.Equal(t, CacheKey(home), CacheKey(work))
}

func TestCacheKey_NormalizesSpelling(t *testing.T) {
	a := AddressInfo{Lines: []string{"123 Main St."}, City: "seattle", State: "wa"}
	b := AddressInfo{Lines: []string{"123 MAIN ST"}, City: "SEATTLE", State: "WA"}
	c := AddressInfo{Lines: []string{"124 Main St"}, City: "Seattle", State: "WA"}

	assert.Equal(t, CacheKey(a), CacheKey(b))
	assert.NotEqual(t, CacheKey(a), CacheKey(c))
}

func TestCompositeID_RoundTrip(t *testing.T) {
	composite := compositeID("42", AddressUseTemp)
	assert.Equal(t, "42_temp", composite)

	id, use := splitCompositeID(composite)
	assert.Equal(t, "42", id)
	assert.Equal(t, AddressUseTemp, use)

	// Record ids containing underscores split on the last one.
	id, use = splitCompositeID("a_b_home")
	assert.Equal(t, "a_b", id)
	assert.Equal(t, AddressUseHome, use)
}
