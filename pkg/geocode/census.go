package geocode

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cascadia-health/study-export/internal/db"
)

// LatLng is a comparable coordinate pair used as a dedupe key.
type LatLng struct {
	Latitude  float64
	Longitude float64
}

// CensusTractResolver maps coordinates to census tract identifiers.
type CensusTractResolver interface {
	LookupTracts(ctx context.Context, coords []LatLng) (map[LatLng]string, error)
}

// TractResolver resolves census tracts with a PostGIS point-in-polygon query
// against the loaded TIGER tract boundaries.
type TractResolver struct {
	pool db.Pool
}

// NewTractResolver creates a TractResolver backed by the given pool.
func NewTractResolver(pool db.Pool) *TractResolver {
	return &TractResolver{pool: pool}
}

// LookupTracts implements CensusTractResolver. Coordinates falling outside
// every loaded tract boundary are absent from the result map.
func (r *TractResolver) LookupTracts(ctx context.Context, coords []LatLng) (map[LatLng]string, error) {
	if len(coords) == 0 {
		return map[LatLng]string{}, nil
	}

	lats := make([]float64, len(coords))
	lngs := make([]float64, len(coords))
	for i, c := range coords {
		lats[i] = c.Latitude
		lngs[i] = c.Longitude
	}

	// TIGER shapefiles ship in NAD83 (SRID 4269).
	rows, err := r.pool.Query(ctx, `
		SELECT p.lat, p.lng, t.geoid
		FROM unnest($1::float8[], $2::float8[]) AS p(lat, lng)
		JOIN census_tracts t
		ON ST_Contains(t.geom, ST_SetSRID(ST_MakePoint(p.lng, p.lat), 4269))`,
		lats, lngs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "census: tract lookup")
	}
	defer rows.Close()

	tracts := make(map[LatLng]string, len(coords))
	for rows.Next() {
		var c LatLng
		var geoid string
		if err := rows.Scan(&c.Latitude, &c.Longitude, &geoid); err != nil {
			return nil, eris.Wrap(err, "census: scan tract row")
		}
		tracts[c] = geoid
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "census: iterate tract rows")
	}

	zap.L().Debug("census tract lookup",
		zap.Int("coordinates", len(coords)),
		zap.Int("resolved", len(tracts)),
	)
	return tracts, nil
}
