package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cascadia-health/study-export/internal/db"
)

// CachedEntry is one stored geocoder response. An empty ResponseAddresses
// slice records that the provider returned no match for the address, which
// suppresses re-querying until the entry ages out of the TTL window.
type CachedEntry struct {
	Key               string
	InputAddress      AddressInfo
	ResponseAddresses []GeocodedAddress
	CreatedAt         time.Time
}

// Cache reads and writes geocoder responses in geocode_responses. Entries
// older than the TTL are treated as misses, not deleted.
type Cache struct {
	pool    db.Pool
	ttlDays int
}

// NewCache creates a Cache with the given TTL window in days.
func NewCache(pool db.Pool, ttlDays int) *Cache {
	if ttlDays <= 0 {
		ttlDays = 14
	}
	return &Cache{pool: pool, ttlDays: ttlDays}
}

// Lookup returns cached entries for the given keys created within the TTL
// window, mapped by cache key.
func (c *Cache) Lookup(ctx context.Context, keys []string) (map[string]CachedEntry, error) {
	if len(keys) == 0 {
		return map[string]CachedEntry{}, nil
	}

	query := fmt.Sprintf(`
		SELECT address_key, response_addresses, created_at
		FROM geocode_responses
		WHERE address_key = ANY($1)
		AND created_at > now() - interval '%d days'`, c.ttlDays)

	rows, err := c.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, eris.Wrap(err, "geocode cache: lookup")
	}
	defer rows.Close()

	entries := make(map[string]CachedEntry)
	for rows.Next() {
		var entry CachedEntry
		var responses []byte
		if err := rows.Scan(&entry.Key, &responses, &entry.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "geocode cache: scan entry")
		}
		if err := json.Unmarshal(responses, &entry.ResponseAddresses); err != nil {
			return nil, eris.Wrap(err, "geocode cache: decode response addresses")
		}
		entries[entry.Key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geocode cache: iterate entries")
	}

	zap.L().Debug("geocode cache lookup",
		zap.Int("requested", len(keys)),
		zap.Int("hits", len(entries)),
	)
	return entries, nil
}

// Store inserts freshly fetched entries. Concurrent duplicate writes are
// tolerated with ON CONFLICT DO NOTHING rather than coordinated.
func (c *Cache) Store(ctx context.Context, entries []CachedEntry) error {
	for _, entry := range entries {
		responses := entry.ResponseAddresses
		if responses == nil {
			responses = []GeocodedAddress{}
		}
		doc, err := json.Marshal(responses)
		if err != nil {
			return eris.Wrap(err, "geocode cache: encode response addresses")
		}

		_, err = c.pool.Exec(ctx, `
			INSERT INTO geocode_responses (address_key, input_address, max_candidates, response_addresses, created_at)
			VALUES ($1, $2, 1, $3, now())
			ON CONFLICT (address_key) DO NOTHING`,
			entry.Key, canonicalJSON(entry.InputAddress), doc,
		)
		if err != nil {
			return eris.Wrap(err, "geocode cache: store entry")
		}
	}
	return nil
}
