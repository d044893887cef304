package main

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/cascadia-health/study-export/internal/db"
	"github.com/cascadia-health/study-export/internal/deid"
	"github.com/cascadia-health/study-export/internal/encounter"
	"github.com/cascadia-health/study-export/internal/report"
	"github.com/cascadia-health/study-export/pkg/geocode"

	"github.com/jackc/pgx/v5/pgxpool"
)

// connectPool opens the configured database pool.
func connectPool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
}

// newGeocodeService wires the geocoder client, response cache, and census
// tract resolver from config.
func newGeocodeService(pool db.Pool) *geocode.Service {
	client := geocode.NewClient(
		cfg.Geocode.BaseURL,
		cfg.Geocode.AuthID,
		cfg.Geocode.AuthToken,
		geocode.WithRateLimit(cfg.Geocode.RateLimit),
	)
	cache := geocode.NewCache(pool, cfg.Geocode.CacheTTLDays)
	return geocode.NewService(client, cache,
		geocode.WithCensusResolver(geocode.NewTractResolver(pool)),
		geocode.WithChunkSize(cfg.Geocode.BatchSize),
	)
}

// newEncounterService wires the full encounter export pipeline.
func newEncounterService(pool db.Pool) *encounter.Service {
	hasher := deid.NewHasher(cfg.Export.HashSecret)
	mapper := deid.NewMapper(deid.NewScrubber(hasher), cfg.Export.Revision)
	uploader := encounter.NewClient(cfg.Upload.BaseURL, cfg.Upload.User, cfg.Upload.Password)
	return encounter.NewService(
		encounter.NewStore(pool),
		newGeocodeService(pool),
		mapper,
		uploader,
		cfg.Upload.MaxConcurrent,
	)
}

// newReportSink builds a delivery sink from the configured URL. An ftp://
// URL with embedded credentials selects FTP; anything else opens a blob
// bucket.
func newReportSink(ctx context.Context) (report.Sink, error) {
	u, err := url.Parse(cfg.Report.SinkURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse sink url %s", cfg.Report.SinkURL)
	}

	if u.Scheme == "ftp" {
		password, _ := u.User.Password()
		return report.NewFTPSink(u.Host, u.User.Username(), password, u.Path), nil
	}
	return report.NewBlobSink(ctx, cfg.Report.SinkURL)
}
