package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/cache"
	"github.com/sells-group/geolookup/internal/config"
	"github.com/sells-group/geolookup/internal/golden"
	"github.com/sells-group/geolookup/internal/lookup"
	"github.com/sells-group/geolookup/internal/match"
	"github.com/sells-group/geolookup/internal/metrics"
	"github.com/sells-group/geolookup/internal/resilience"
	"github.com/sells-group/geolookup/internal/review"
	"github.com/sells-group/geolookup/internal/store"
	"github.com/sells-group/geolookup/pkg/geocode"
)

// engineEnv holds the assembled lookup service and the resources it owns.
type engineEnv struct {
	Service *lookup.Service
	Store   *store.RecordStore
	Metrics *metrics.Metrics
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initBackend opens the record backend named by store.driver.
func initBackend(ctx context.Context, sc config.StoreConfig) (store.Backend, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "geolookup.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &sc.Pool)
	case "sheets":
		return store.NewSheets(ctx, sc.Sheets)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// initEngine validates cfg for mode, opens the store, and builds the lookup
// service with persisted state loaded. Callers should defer env.Close().
func initEngine(ctx context.Context, c *config.Config, mode string) (*engineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	be, err := initBackend(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if err := be.Migrate(ctx); err != nil {
		_ = be.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	m := metrics.New()
	rs := store.NewRecordStore(be, match.New(c.Lookup.MinMatchScore), store.WithBreaker(resilience.BreakerConfig{
		Threshold: c.Lookup.BreakerThreshold,
		Cooldown:  time.Duration(c.Lookup.BreakerCooldownSecs) * time.Second,
	}))
	env := &engineEnv{Store: rs, Metrics: m}

	geo, err := newGeocoder(c.Geocode, m)
	if err != nil {
		env.Close()
		return nil, err
	}

	lc, err := cache.New(c.Lookup.MaxCacheEntries, c.Lookup.CacheTTL())
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init cache")
	}

	gt := golden.New(golden.WithPersister(rs), golden.WithFuzzy(c.Lookup.ConfidenceThreshold))
	rq := review.New(rs, gt, lc, review.WithPersister(rs))

	svc, err := lookup.New(lookup.Config{
		ConfidenceThreshold: c.Lookup.ConfidenceThreshold,
		MinMatchScore:       c.Lookup.MinMatchScore,
		GeocodeTimeout:      c.Geocode.Timeout(),
		BatchConcurrency:    c.Lookup.BatchConcurrency,
		Breaker: resilience.BreakerConfig{
			Threshold: c.Lookup.BreakerThreshold,
			Cooldown:  time.Duration(c.Lookup.BreakerCooldownSecs) * time.Second,
		},
	}, lookup.Deps{
		Golden:   gt,
		Cache:    lc,
		Store:    rs,
		Geocoder: geo,
		Review:   rq,
		Metrics:  m,
	})
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init lookup service")
	}
	env.Service = svc

	if err := svc.Load(ctx); err != nil {
		env.Close()
		return nil, err
	}

	if c.Golden.SeedFile != "" {
		n, err := gt.LoadSeed(ctx, c.Golden.SeedFile)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "load golden seed")
		}
		zap.L().Info("golden seed loaded", zap.String("file", c.Golden.SeedFile), zap.Int("mappings", n))
	}

	zap.L().Info("engine ready",
		zap.String("store", rs.Name()),
		zap.Bool("persistent", rs.Persistent()),
		zap.Int("golden", gt.Len()),
	)
	return env, nil
}

// newGeocoder builds the Google client with its quota, retry policy and a
// per-attempt metrics observer.
func newGeocoder(gc config.GeocodeConfig, m *metrics.Metrics) (geocode.Client, error) {
	loc, err := time.LoadLocation(gc.TimeZone)
	if err != nil {
		return nil, eris.Wrapf(err, "load quota time zone %q", gc.TimeZone)
	}

	return geocode.NewClient(
		geocode.WithAPIKey(gc.APIKey),
		geocode.WithBaseURL(gc.BaseURL),
		geocode.WithRateLimit(gc.RateLimit),
		geocode.WithQuota(geocode.NewQuota(gc.MaxCallsPerDay, gc.WarningThreshold, geocode.WithLocation(loc))),
		geocode.WithRetryPolicy(retryPolicy(gc)),
		geocode.WithAttemptObserver(func(_ string, outcome geocode.Outcome) {
			m.RecordGeocodeCall(string(outcome))
		}),
	), nil
}

// retryPolicy applies the configured attempt count and per-attempt bound to
// the default provider retry policy.
func retryPolicy(gc config.GeocodeConfig) resilience.Policy {
	policy := resilience.DefaultPolicy()
	if gc.MaxAttempts > 0 {
		policy.MaxAttempts = gc.MaxAttempts
	}
	if gc.AttemptTimeoutSecs > 0 {
		policy.AttemptTimeout = gc.AttemptTimeout()
	}
	return policy
}
