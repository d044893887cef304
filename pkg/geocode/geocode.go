// Package geocode resolves postal addresses to standardized coordinates and
// census tracts, backed by a Postgres response cache with a TTL window.
package geocode

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressUse distinguishes the role of an address on a record.
type AddressUse string

const (
	AddressUseHome AddressUse = "home"
	AddressUseWork AddressUse = "work"
	AddressUseTemp AddressUse = "temp"
)

// AddressInfo is a structured postal address. Use is carried for matching
// results back to records but never participates in cache identity.
type AddressInfo struct {
	Use        AddressUse `json:"use,omitempty"`
	Lines      []string   `json:"lines,omitempty"`
	City       string     `json:"city,omitempty"`
	State      string     `json:"state,omitempty"`
	PostalCode string     `json:"postalCode,omitempty"`
	Country    string     `json:"country,omitempty"`
}

// GeocodedAddress is a standardized address returned by the geocoder.
type GeocodedAddress struct {
	CanonicalAddress string  `json:"canonicalAddress"`
	Address1         string  `json:"address1"`
	Address2         string  `json:"address2,omitempty"`
	City             string  `json:"city"`
	State            string  `json:"state"`
	PostalCode       string  `json:"postalCode"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	CensusTract      string  `json:"censusTract,omitempty"`
}

// Response is the geocoding outcome for one (record, use) pair. A nil
// Address means the address could not be geocoded.
type Response struct {
	ID      string
	Use     AddressUse
	Address *GeocodedAddress
}

// cleanString uppercases and strips commas and periods. Hyphens are kept so
// ZIP+4 postal codes survive canonicalization. Applying it twice is a no-op.
func cleanString(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, ".", "")
	return strings.TrimSpace(s)
}

// Canonicalize returns a copy of the address suitable for comparison and
// cache identity: fields uppercased with punctuation stripped, and the use
// field cleared.
func Canonicalize(a AddressInfo) AddressInfo {
	out := AddressInfo{
		City:       cleanString(a.City),
		State:      cleanString(a.State),
		PostalCode: cleanString(a.PostalCode),
		Country:    cleanString(a.Country),
	}
	if len(a.Lines) > 0 {
		out.Lines = make([]string, len(a.Lines))
		for i, line := range a.Lines {
			out.Lines[i] = cleanString(line)
		}
	}
	return out
}

// CacheKey returns SHA-256 hex of the canonical address JSON. Two addresses
// that differ only in use share a key.
func CacheKey(a AddressInfo) string {
	canonical := Canonicalize(a)
	doc, err := json.Marshal(canonical)
	if err != nil {
		// AddressInfo marshals unconditionally; keep the signature simple.
		panic(err)
	}
	h := sha256.Sum256(doc)
	return fmt.Sprintf("%x", h)
}

// canonicalJSON returns the canonical address serialized for cache storage.
func canonicalJSON(a AddressInfo) []byte {
	doc, err := json.Marshal(Canonicalize(a))
	if err != nil {
		panic(err)
	}
	return doc
}
