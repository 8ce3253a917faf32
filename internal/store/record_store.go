package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/match"
	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/resilience"
)

// RecordStore fronts a Backend with validation, fuzzy lookup and a circuit
// breaker. Every backend failure it returns matches ErrUnavailable.
type RecordStore struct {
	backend Backend
	matcher *match.Matcher
	breaker *resilience.Breaker
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithBreaker replaces the default breaker settings.
func WithBreaker(cfg resilience.BreakerConfig) Option {
	return func(s *RecordStore) {
		if cfg.OnStateChange == nil {
			cfg.OnStateChange = logBreakerChange
		}
		s.breaker = resilience.NewBreaker(s.backend.Name(), cfg)
	}
}

// NewRecordStore wraps backend. A nil matcher limits Find to exact keys.
func NewRecordStore(backend Backend, matcher *match.Matcher, opts ...Option) *RecordStore {
	s := &RecordStore{backend: backend, matcher: matcher}
	s.breaker = resilience.NewBreaker(backend.Name(), resilience.BreakerConfig{OnStateChange: logBreakerChange})
	for _, o := range opts {
		o(s)
	}
	return s
}

type found struct {
	rec   *model.AddressRecord
	score float64
}

// Find returns the record stored under key with score 1, or the best fuzzy
// match among all stored rows with its similarity. A miss returns nil, 0.
func (s *RecordStore) Find(ctx context.Context, key model.Key) (*model.AddressRecord, float64, error) {
	res, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (found, error) {
		rec, err := s.backend.Get(ctx, key)
		if err != nil {
			return found{}, err
		}
		if rec != nil && readable(*rec) {
			return found{rec: rec, score: 1}, nil
		}
		if s.matcher == nil {
			return found{}, nil
		}

		var scanErr error
		rows := func(yield func(model.Key, model.AddressRecord) bool) {
			for rec, err := range s.backend.All(ctx) {
				if err != nil {
					scanErr = err
					return
				}
				if !readable(rec) {
					continue
				}
				if !yield(rec.Key, rec) {
					return
				}
			}
		}
		m, ok := s.matcher.Best(key, match.Source{Tier: model.TierStore, Candidates: rows})
		if scanErr != nil {
			return found{}, scanErr
		}
		if !ok {
			return found{}, nil
		}
		rec = &m.Record
		return found{rec: rec, score: m.Score}, nil
	})
	if err != nil {
		return nil, 0, s.unavailable("find", err)
	}
	return res.rec, res.score, nil
}

// readable reports whether a record read back from the backend passes
// Validate. Invalid rows are logged and treated as absent.
func readable(rec model.AddressRecord) bool {
	if err := rec.Validate(); err != nil {
		zap.L().Warn("store: skipping invalid stored record",
			zap.String("key", rec.Key.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Upsert validates rec and replaces the row stored under key.
func (s *RecordStore) Upsert(ctx context.Context, key model.Key, rec model.AddressRecord) error {
	rec.Key = key
	if err := rec.Validate(); err != nil {
		return eris.Wrapf(ErrInvalidRecord, "%s: %v", key, err)
	}
	return s.guard(ctx, "upsert", func(ctx context.Context) error {
		return s.backend.Upsert(ctx, rec)
	})
}

// ListGolden returns persisted golden mappings, or nil when the backend
// does not persist them.
func (s *RecordStore) ListGolden(ctx context.Context) ([]model.GoldenMapping, error) {
	gb, ok := s.backend.(GoldenBackend)
	if !ok {
		return nil, nil
	}
	out, err := resilience.Guard(ctx, s.breaker, gb.ListGolden)
	if err != nil {
		return nil, s.unavailable("list golden", err)
	}
	return out, nil
}

// UpsertGolden persists m when the backend supports it.
func (s *RecordStore) UpsertGolden(ctx context.Context, m model.GoldenMapping) error {
	gb, ok := s.backend.(GoldenBackend)
	if !ok {
		return nil
	}
	return s.guard(ctx, "upsert golden", func(ctx context.Context) error {
		return gb.UpsertGolden(ctx, m)
	})
}

// ListReview returns persisted review items, or nil when unsupported.
func (s *RecordStore) ListReview(ctx context.Context) ([]model.ReviewItem, error) {
	rb, ok := s.backend.(ReviewBackend)
	if !ok {
		return nil, nil
	}
	out, err := resilience.Guard(ctx, s.breaker, rb.ListReview)
	if err != nil {
		return nil, s.unavailable("list review", err)
	}
	return out, nil
}

// UpsertReview persists item when the backend supports it.
func (s *RecordStore) UpsertReview(ctx context.Context, item model.ReviewItem) error {
	rb, ok := s.backend.(ReviewBackend)
	if !ok {
		return nil
	}
	return s.guard(ctx, "upsert review", func(ctx context.Context) error {
		return rb.UpsertReview(ctx, item)
	})
}

// Persistent reports whether golden mappings and review items survive a
// restart on this backend.
func (s *RecordStore) Persistent() bool {
	_, golden := s.backend.(GoldenBackend)
	_, review := s.backend.(ReviewBackend)
	return golden && review
}

// Name returns the backend name.
func (s *RecordStore) Name() string { return s.backend.Name() }

// BreakerState reports the backend's circuit state.
func (s *RecordStore) BreakerState() resilience.State { return s.breaker.State() }

// Migrate creates the backend's tables.
func (s *RecordStore) Migrate(ctx context.Context) error {
	if err := s.backend.Migrate(ctx); err != nil {
		return s.unavailable("migrate", err)
	}
	return nil
}

// Close releases the backend.
func (s *RecordStore) Close() error {
	return s.backend.Close()
}

func (s *RecordStore) guard(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := resilience.Guard(ctx, s.breaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if err != nil {
		return s.unavailable(op, err)
	}
	return nil
}

func (s *RecordStore) unavailable(op string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return &UnavailableError{Backend: s.backend.Name(), Op: op, Err: err}
}

func logBreakerChange(name string, from, to resilience.State) {
	zap.L().Warn("store: circuit state changed",
		zap.String("backend", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
