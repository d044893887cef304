package deid

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cascadia-health/study-export/internal/model"
	"github.com/cascadia-health/study-export/pkg/geocode"
)

// locationUses maps address uses to their de-identified location labels.
var locationUses = map[geocode.AddressUse]model.LocationUse{
	geocode.AddressUseHome: model.LocationHome,
	geocode.AddressUseWork: model.LocationWork,
	geocode.AddressUseTemp: model.LocationTemp,
}

// Scrubber removes identity from visit records, replacing names and
// addresses with keyed hashes before anything reaches the mapper.
type Scrubber struct {
	hasher *Hasher
}

// NewScrubber creates a Scrubber using the given Hasher.
func NewScrubber(hasher *Hasher) *Scrubber {
	return &Scrubber{hasher: hasher}
}

// ParticipantID derives the stable cross-visit participant hash from name,
// gender, birth date, and postal code. The standardized postal code of the
// geocoded home address is preferred over whatever the participant typed.
func (s *Scrubber) ParticipantID(v model.VisitDetails, geocoded []geocode.Response) string {
	name := v.FullName
	if name == "" {
		name = strings.TrimSpace(v.FirstName + " " + v.LastName)
	}

	postal := ""
	for _, a := range v.Addresses {
		if a.Use == geocode.AddressUseHome {
			postal = a.PostalCode
			break
		}
	}
	for _, g := range geocoded {
		if g.Use == geocode.AddressUseHome && g.Address != nil && g.Address.PostalCode != "" {
			postal = g.Address.PostalCode
			break
		}
	}

	return s.hasher.Hash(name, v.Gender, v.BirthDate, postal)
}

// ScrubLocations converts visit addresses into de-identified locations. A
// geocoded address is identified by the hash of its canonical form and
// carries the census tract as region; an ungeocodable address falls back to
// a hash of its raw fields with no region. Two addresses sharing a use make
// the record malformed.
func (s *Scrubber) ScrubLocations(v model.VisitDetails, geocoded []geocode.Response) ([]model.Location, error) {
	byUse := make(map[geocode.AddressUse]*geocode.GeocodedAddress, len(geocoded))
	for _, g := range geocoded {
		byUse[g.Use] = g.Address
	}

	seen := make(map[geocode.AddressUse]bool, len(v.Addresses))
	locations := make([]model.Location, 0, len(v.Addresses))
	for _, a := range v.Addresses {
		use, ok := locationUses[a.Use]
		if !ok {
			return nil, eris.Errorf("deid: unknown address use %q", a.Use)
		}
		if seen[a.Use] {
			return nil, eris.Errorf("deid: duplicate %q address on record", a.Use)
		}
		seen[a.Use] = true

		loc := model.Location{Use: use}
		if addr := byUse[a.Use]; addr != nil {
			loc.ID = s.hasher.Hash(addr.CanonicalAddress)
			loc.Region = addr.CensusTract
			loc.City = addr.City
			loc.State = addr.State
		} else {
			raw := append([]string{}, a.Lines...)
			raw = append(raw, a.City, a.State, a.PostalCode, a.Country)
			loc.ID = s.hasher.Hash(strings.Join(raw, " "))
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
