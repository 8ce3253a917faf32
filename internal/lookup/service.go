// Package lookup resolves company names to addresses through the golden,
// cache, store and geocoding tiers, cheapest first.
package lookup

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/geolookup/internal/cache"
	"github.com/sells-group/geolookup/internal/golden"
	"github.com/sells-group/geolookup/internal/match"
	"github.com/sells-group/geolookup/internal/metrics"
	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/normalize"
	"github.com/sells-group/geolookup/internal/resilience"
	"github.com/sells-group/geolookup/internal/review"
	"github.com/sells-group/geolookup/internal/score"
	"github.com/sells-group/geolookup/internal/store"
	"github.com/sells-group/geolookup/pkg/geocode"
)

// Config tunes the orchestrator.
type Config struct {
	// ConfidenceThreshold is the confidence at or above which a tier hit
	// ends the lookup. Default: 0.80.
	ConfidenceThreshold float64

	// MinMatchScore is the fuzzy-match floor. It must stay below
	// ConfidenceThreshold. Default: 0.75.
	MinMatchScore float64

	// GeocodeTimeout bounds one shared provider call, retries included.
	// Default: 60s.
	GeocodeTimeout time.Duration

	// BatchConcurrency caps concurrent resolutions in BatchResolve.
	// Default: 4.
	BatchConcurrency int

	// Breaker configures the provider circuit breaker.
	Breaker resilience.BreakerConfig
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.80
	}
	if c.MinMatchScore <= 0 {
		c.MinMatchScore = 0.75
	}
	if c.GeocodeTimeout <= 0 {
		c.GeocodeTimeout = 60 * time.Second
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 4
	}
	return c
}

// Deps are the collaborators of a Service. Geocoder and Cache are
// required; the rest default to empty in-memory instances.
type Deps struct {
	Golden   *golden.Table
	Cache    *cache.Cache
	Store    *store.RecordStore
	Geocoder geocode.Client
	Review   *review.Queue
	Scorer   *score.Scorer
	Metrics  *metrics.Metrics
}

// Service is the lookup façade. It is safe for concurrent use.
type Service struct {
	cfg      Config
	golden   *golden.Table
	cache    *cache.Cache
	store    *store.RecordStore
	geocoder geocode.Client
	review   *review.Queue
	scorer   *score.Scorer
	matcher  *match.Matcher
	metrics  *metrics.Metrics
	breaker  *resilience.Breaker
	flight   singleflight.Group
	now      func() time.Time

	total      atomic.Int64
	goldenHits atomic.Int64
	cacheHits  atomic.Int64
	storeHits  atomic.Int64
	apiHits    atomic.Int64
}

// New assembles a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	cfg = cfg.withDefaults()
	if cfg.ConfidenceThreshold > 1 {
		return nil, eris.Errorf("lookup: confidence threshold %v out of range", cfg.ConfidenceThreshold)
	}
	if cfg.MinMatchScore >= cfg.ConfidenceThreshold {
		return nil, eris.Errorf("lookup: min match score %v must be below confidence threshold %v",
			cfg.MinMatchScore, cfg.ConfidenceThreshold)
	}
	if deps.Geocoder == nil {
		return nil, eris.New("lookup: geocoder is required")
	}
	if deps.Cache == nil {
		return nil, eris.New("lookup: cache is required")
	}

	s := &Service{
		cfg:      cfg,
		golden:   deps.Golden,
		cache:    deps.Cache,
		store:    deps.Store,
		geocoder: deps.Geocoder,
		review:   deps.Review,
		scorer:   deps.Scorer,
		matcher:  match.New(cfg.MinMatchScore),
		metrics:  deps.Metrics,
		now:      time.Now,
	}
	if s.golden == nil {
		s.golden = golden.New(golden.WithFuzzy(cfg.ConfidenceThreshold))
	}
	if s.scorer == nil {
		s.scorer = score.New()
	}
	if s.review == nil {
		var records review.RecordWriter
		if s.store != nil {
			records = s.store
		}
		s.review = review.New(records, s.golden, s.cache)
	}

	bc := cfg.Breaker
	if bc.Trips == nil {
		bc.Trips = providerTrips
	}
	if bc.OnStateChange == nil {
		bc.OnStateChange = func(name string, from, to resilience.State) {
			zap.L().Warn("lookup: provider circuit state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
	s.breaker = resilience.NewBreaker("geocode", bc)
	return s, nil
}

// providerTrips counts availability failures only. Quota refusals and
// permanent provider errors leave the breaker alone.
func providerTrips(err error) bool {
	if errors.Is(err, geocode.ErrQuotaExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, geocode.ErrRetriesExhausted) || resilience.IsTransient(err)
}

// Load restores persisted golden mappings and review items.
func (s *Service) Load(ctx context.Context) error {
	n, err := s.golden.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "lookup: load golden mappings")
	}
	m, err := s.review.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "lookup: load review queue")
	}
	zap.L().Info("lookup: state loaded", zap.Int("golden", n), zap.Int("review", m))
	return nil
}

// Resolve returns the best known address for a company and optional site
// hint. A record below the confidence threshold is still returned and is
// queued for review.
func (s *Service) Resolve(ctx context.Context, companyName, siteHint string) (*model.AddressRecord, error) {
	start := s.now()

	key, err := normalize.Normalize(companyName, siteHint)
	if err != nil {
		return nil, &ResolveError{Stage: StageNormalized, Err: err}
	}
	s.total.Add(1)
	log := zap.L().With(zap.String("key", key.String()))
	log.Debug("lookup: stage", zap.String("stage", string(StageNormalized)))

	rec, err := s.resolve(ctx, log, key, companyName, siteHint)
	if err != nil {
		return nil, err
	}
	rec.CompanyNameRaw = companyName

	s.countHit(rec.SourceTier)
	s.metrics.RecordLookup(string(rec.SourceTier), s.now().Sub(start))
	s.metrics.SetQuotaUsed(s.geocoder.Usage().Used)
	log.Debug("lookup: stage",
		zap.String("stage", string(StageDone)),
		zap.String("tier", string(rec.SourceTier)),
		zap.Float64("confidence", rec.Confidence),
	)
	return rec, nil
}

func (s *Service) resolve(ctx context.Context, log *zap.Logger, key model.Key, companyName, siteHint string) (*model.AddressRecord, error) {
	threshold := s.cfg.ConfidenceThreshold

	log.Debug("lookup: stage", zap.String("stage", string(StageGoldenCheck)))
	if rec, ok := s.golden.Lookup(key); ok {
		rec.Key = key
		return &rec, nil
	}

	var fallback *model.AddressRecord
	keep := func(rec *model.AddressRecord) {
		if fallback == nil || rec.Confidence > fallback.Confidence {
			fallback = rec
		}
	}

	// An exact hit for this key ends the lookup whatever its confidence: a
	// low score was already queued for review when it was first resolved.
	log.Debug("lookup: stage", zap.String("stage", string(StageCacheCheck)))
	if cached, ok := s.cache.Get(key); ok {
		return s.reuse(key, cached, model.TierCache, 1), nil
	}
	if rec := s.fuzzyCache(key); rec != nil {
		if rec.Confidence >= threshold {
			return rec, nil
		}
		keep(rec)
	}

	if s.store != nil {
		log.Debug("lookup: stage", zap.String("stage", string(StageStoreCheck)))
		found, sim, err := s.store.Find(ctx, key)
		switch {
		case err != nil:
			log.Warn("lookup: store check failed", zap.String("stage", string(StageStoreCheck)), zap.Error(err))
		case found != nil:
			rec := s.reuse(key, *found, model.TierStore, sim)
			if rec.Confidence >= threshold || found.Key == key {
				s.cache.Put(key, *rec)
				return rec, nil
			}
			keep(rec)
		}
	}

	log.Debug("lookup: stage", zap.String("stage", string(StageGeocoding)))
	rec, err := s.geocodeShared(ctx, key, companyName, siteHint)
	if err != nil {
		if fallback != nil && ctx.Err() == nil {
			log.Warn("lookup: geocoding failed, returning fallback",
				zap.String("tier", string(fallback.SourceTier)),
				zap.Float64("confidence", fallback.Confidence),
				zap.Error(err),
			)
			return fallback, nil
		}
		usage := s.geocoder.Usage()
		return nil, &ResolveError{
			Stage:      StageGeocoding,
			Key:        key.String(),
			QuotaUsed:  usage.Used,
			QuotaLimit: usage.Limit,
			Err:        err,
		}
	}
	return rec, nil
}

// fuzzyCache returns the best cached record for a similar key, scored.
func (s *Service) fuzzyCache(key model.Key) *model.AddressRecord {
	m, ok := s.matcher.Best(key, match.Source{Tier: model.TierCache, Candidates: s.cache.Candidates()})
	if !ok {
		return nil
	}
	return s.reuse(key, m.Record, model.TierCache, m.Score)
}

// reuse rescores a stored record found under a possibly different key.
func (s *Service) reuse(key model.Key, found model.AddressRecord, tier model.SourceTier, sim float64) *model.AddressRecord {
	rec := found.Clone()
	rec.Confidence = s.scorer.Score(score.Input{
		Tier:       tier,
		Confidence: found.Confidence,
		Similarity: sim,
		Site:       key.Site,
		Record:     &found,
	})
	rec.SourceTier = tier
	if found.Key != key {
		matched := found.Key
		rec.MatchedAgainst = &matched
	} else {
		rec.MatchedAgainst = nil
	}
	rec.Key = key
	return &rec
}

func (s *Service) countHit(tier model.SourceTier) {
	switch tier {
	case model.TierGolden:
		s.goldenHits.Add(1)
	case model.TierCache:
		s.cacheHits.Add(1)
	case model.TierStore:
		s.storeHits.Add(1)
	case model.TierAPI:
		s.apiHits.Add(1)
	}
}

// geocodeShared coalesces concurrent provider calls for one key. The
// shared call is detached from any single caller's cancellation.
func (s *Service) geocodeShared(ctx context.Context, key model.Key, companyName, siteHint string) (*model.AddressRecord, error) {
	ch := s.flight.DoChan(key.String(), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GeocodeTimeout)
		defer cancel()
		return s.geocodeAndPersist(fctx, key, companyName, siteHint)
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "lookup: waiting for geocode")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec := res.Val.(*model.AddressRecord).Clone()
		return &rec, nil
	}
}

// geocodeAndPersist runs once per flight: re-check the cache, call the
// provider, score, write through and enqueue for review.
func (s *Service) geocodeAndPersist(ctx context.Context, key model.Key, companyName, siteHint string) (*model.AddressRecord, error) {
	log := zap.L().With(zap.String("key", key.String()))

	if cached, ok := s.cache.Get(key); ok {
		return s.reuse(key, cached, model.TierCache, 1), nil
	}

	q := geocode.Query{Company: companyName, SiteHint: siteHint, Country: normalize.CountryHint(siteHint)}
	res, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (*geocode.Result, error) {
		return s.geocoder.Geocode(ctx, q)
	})
	s.metrics.SetQuotaUsed(s.geocoder.Usage().Used)
	if err != nil {
		return nil, err
	}

	rec := model.AddressRecord{
		CompanyNameRaw:   companyName,
		Key:              key,
		FormattedAddress: res.FormattedAddress,
		Latitude:         res.Latitude,
		Longitude:        res.Longitude,
		SourceTier:       model.TierAPI,
		ResolvedAt:       s.now(),
		Components:       res.Components,
		PlaceID:          res.PlaceID,
		LocationType:     res.LocationType,
	}
	rec.Confidence = s.scorer.Score(score.Input{
		Tier:       model.TierAPI,
		NotFound:   !res.Matched,
		Confidence: res.ProviderConfidence,
		Site:       key.Site,
		Record:     &rec,
	})
	log.Debug("lookup: stage", zap.String("stage", string(StageScored)), zap.Float64("confidence", rec.Confidence))

	reason := model.ReasonLowConfidence
	needsReview := rec.Confidence < s.cfg.ConfidenceThreshold
	verr := rec.Validate()
	switch {
	case !res.Matched:
		reason = model.ReasonNotFound
		rec.Notes = "no geocoding result"
	case verr != nil:
		log.Warn("lookup: provider returned an invalid record", zap.Error(verr))
		reason = model.ReasonValidationFailed
		rec.Confidence = 0
		needsReview = true
	default:
		if q := score.Assess(rec.Components); len(q.Issues) > 0 {
			rec.Notes = q.Notes()
			if q.MissingCritical {
				reason = model.ReasonMissingFields
				needsReview = true
			}
		}
		s.cache.Put(key, rec)
		if s.store != nil {
			if err := s.store.Upsert(ctx, key, rec); err != nil {
				log.Warn("lookup: store write-through failed", zap.String("stage", string(StagePersisted)), zap.Error(err))
			}
		}
		log.Debug("lookup: stage", zap.String("stage", string(StagePersisted)))
	}

	if needsReview {
		item := model.ReviewItem{Key: key, Record: rec, Reason: reason}
		if err := s.review.Enqueue(ctx, item); err != nil {
			log.Warn("lookup: review enqueue failed", zap.Error(err))
		}
		s.metrics.RecordReview(string(reason))
		log.Debug("lookup: stage",
			zap.String("stage", string(StageReviewEnqueued)),
			zap.String("reason", string(reason)),
		)
	}
	return &rec, nil
}
