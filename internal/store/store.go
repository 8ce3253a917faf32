// Package store persists address records shared across runs and users.
package store

import (
	"context"
	"iter"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolookup/internal/model"
)

// ErrUnavailable is matched by errors.Is for any failure to reach or use a
// backend.
var ErrUnavailable = eris.New("store: backend unavailable")

// ErrInvalidRecord is returned when a record fails validation at the store
// boundary. It is not an availability failure.
var ErrInvalidRecord = eris.New("store: invalid record")

// Backend is a persistent table of address records keyed by model.Key.
type Backend interface {
	// Name identifies the backend in logs and breaker state.
	Name() string

	// Get returns the record stored under key, or nil when there is none.
	Get(ctx context.Context, key model.Key) (*model.AddressRecord, error)

	// Upsert atomically replaces the whole row for rec.Key.
	Upsert(ctx context.Context, rec model.AddressRecord) error

	// All streams every stored record. Iteration stops at the first error.
	All(ctx context.Context) iter.Seq2[model.AddressRecord, error]

	Migrate(ctx context.Context) error
	Close() error
}

// GoldenBackend persists curated golden mappings.
type GoldenBackend interface {
	ListGolden(ctx context.Context) ([]model.GoldenMapping, error)
	UpsertGolden(ctx context.Context, m model.GoldenMapping) error
}

// ReviewBackend persists the manual review queue.
type ReviewBackend interface {
	ListReview(ctx context.Context) ([]model.ReviewItem, error)
	UpsertReview(ctx context.Context, item model.ReviewItem) error
}

// UnavailableError wraps a backend failure. errors.Is(err, ErrUnavailable)
// holds and the cause stays reachable through Unwrap.
type UnavailableError struct {
	Backend string
	Op      string
	Err     error
}

func (e *UnavailableError) Error() string {
	return "store: " + e.Backend + " " + e.Op + " unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) hold.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }
