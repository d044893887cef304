package geocode

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service orchestrates address canonicalization, cache lookup, external
// geocoding of cache misses, and census tract enrichment.
type Service struct {
	geocoder  Geocoder
	cache     *Cache
	census    CensusTractResolver
	chunkSize int
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithCensusResolver enables census tract enrichment.
func WithCensusResolver(r CensusTractResolver) ServiceOption {
	return func(s *Service) {
		s.census = r
	}
}

// WithChunkSize caps the number of lookups per external geocoder call.
func WithChunkSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewService creates a geocoding Service.
func NewService(geocoder Geocoder, cache *Cache, opts ...ServiceOption) *Service {
	s := &Service{
		geocoder:  geocoder,
		cache:     cache,
		chunkSize: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pendingAddress is one (record, use) pair awaiting a cache decision.
type pendingAddress struct {
	id      string
	use     AddressUse
	key     string
	address AddressInfo
}

// GeocodeAddresses resolves every address in the input map, serving from the
// cache where possible and batching the remainder to the external provider.
// The result contains one Response per (id, use) pair that was resolvable.
func (s *Service) GeocodeAddresses(ctx context.Context, addresses map[string][]AddressInfo) ([]Response, error) {
	var pending []pendingAddress
	for id, addrs := range addresses {
		for _, a := range addrs {
			pending = append(pending, pendingAddress{
				id:      id,
				use:     a.Use,
				key:     CacheKey(a),
				address: a,
			})
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	zap.L().Info("geocoding addresses", zap.Int("count", len(pending)))

	keys := make([]string, 0, len(pending))
	seen := make(map[string]bool, len(pending))
	for _, p := range pending {
		if !seen[p.key] {
			seen[p.key] = true
			keys = append(keys, p.key)
		}
	}

	cached, err := s.cache.Lookup(ctx, keys)
	if err != nil {
		return nil, err
	}

	var results []Response
	var uncached []pendingAddress
	negativeHits := 0

	for _, p := range pending {
		entry, ok := cached[p.key]
		if !ok {
			uncached = append(uncached, p)
			continue
		}
		if len(entry.ResponseAddresses) == 0 {
			// Cached negative result: the provider already failed to match
			// this address within the TTL window.
			negativeHits++
			continue
		}
		addr := entry.ResponseAddresses[0]
		results = append(results, Response{ID: p.id, Use: p.use, Address: &addr})
	}

	zap.L().Info("geocode cache results",
		zap.Int("hits", len(results)),
		zap.Int("negative_hits", negativeHits),
		zap.Int("misses", len(uncached)),
	)

	if len(uncached) == 0 {
		return results, nil
	}

	fetched, err := s.fetchUncached(ctx, uncached)
	if err != nil {
		return nil, err
	}
	return append(results, fetched...), nil
}

// fetchUncached sends cache misses to the provider in chunks and records
// every outcome in the cache, including non-matches as empty entries.
func (s *Service) fetchUncached(ctx context.Context, uncached []pendingAddress) ([]Response, error) {
	lookups := make([]Lookup, 0, len(uncached))
	for _, p := range uncached {
		lookups = append(lookups, Lookup{
			InputID: compositeID(p.id, p.use),
			Address: p.address,
		})
	}

	var mu sync.Mutex
	matched := make(map[string]*GeocodedAddress, len(lookups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(lookups); start += s.chunkSize {
		chunk := lookups[start:min(start+s.chunkSize, len(lookups))]
		g.Go(func() error {
			results, err := s.geocoder.Geocode(gctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				if r.Address != nil {
					matched[r.InputID] = r.Address
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	zap.L().Info("geocoder responses received",
		zap.Int("requested", len(lookups)),
		zap.Int("matched", len(matched)),
	)

	var results []Response
	entries := make([]CachedEntry, 0, len(uncached))
	for _, p := range uncached {
		entry := CachedEntry{Key: p.key, InputAddress: p.address}
		if addr := matched[compositeID(p.id, p.use)]; addr != nil {
			entry.ResponseAddresses = []GeocodedAddress{*addr}
			results = append(results, Response{ID: p.id, Use: p.use, Address: addr})
		}
		entries = append(entries, entry)
	}

	if err := s.cache.Store(ctx, entries); err != nil {
		return nil, err
	}
	return results, nil
}

// AppendCensusTract resolves the census tract for every response with a
// geocoded address, deduplicating coordinates before the resolver call.
// Responses without a resolved address pass through unchanged.
func (s *Service) AppendCensusTract(ctx context.Context, responses []Response) ([]Response, error) {
	if s.census == nil {
		return responses, nil
	}

	var coords []LatLng
	seen := make(map[LatLng]bool)
	for _, r := range responses {
		if r.Address == nil {
			continue
		}
		c := LatLng{Latitude: r.Address.Latitude, Longitude: r.Address.Longitude}
		if !seen[c] {
			seen[c] = true
			coords = append(coords, c)
		}
	}
	if len(coords) == 0 {
		return responses, nil
	}

	zap.L().Info("resolving census tracts", zap.Int("coordinates", len(coords)))
	tracts, err := s.census.LookupTracts(ctx, coords)
	if err != nil {
		return nil, err
	}

	for i := range responses {
		if responses[i].Address == nil {
			continue
		}
		c := LatLng{Latitude: responses[i].Address.Latitude, Longitude: responses[i].Address.Longitude}
		if tract, ok := tracts[c]; ok {
			responses[i].Address.CensusTract = tract
		}
	}
	return responses, nil
}

// compositeID builds the provider correlation key for a (record, use) pair.
func compositeID(id string, use AddressUse) string {
	return id + "_" + string(use)
}

// splitCompositeID recovers the record id and use from a correlation key.
func splitCompositeID(composite string) (id string, use AddressUse) {
	idx := strings.LastIndex(composite, "_")
	if idx < 0 {
		return composite, ""
	}
	return composite[:idx], AddressUse(composite[idx+1:])
}
