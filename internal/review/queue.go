// Package review holds low-confidence resolutions until a person confirms
// or corrects them.
package review

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/model"
)

// ErrNotQueued is returned by Resolve for a key that was never enqueued.
var ErrNotQueued = eris.New("review: key not queued")

// ErrReopened is returned by Resolve when the item was enqueued again while
// the correction was being written. The correction is applied to the tiers
// but the newer item stays pending.
var ErrReopened = eris.New("review: item reopened during resolve")

// Persister stores review items across restarts.
type Persister interface {
	ListReview(ctx context.Context) ([]model.ReviewItem, error)
	UpsertReview(ctx context.Context, item model.ReviewItem) error
}

// RecordWriter receives corrected records.
type RecordWriter interface {
	Upsert(ctx context.Context, key model.Key, rec model.AddressRecord) error
}

// GoldenWriter receives the golden mappings written on resolve.
type GoldenWriter interface {
	Has(alias model.Key) bool
	Put(ctx context.Context, alias, canonical model.Key, rec model.AddressRecord) error
}

// CacheInvalidator drops stale cache entries.
type CacheInvalidator interface {
	Delete(key model.Key)
}

// Queue is the manual review queue. One item is kept per key.
type Queue struct {
	mu    sync.Mutex
	items map[model.Key]model.ReviewItem
	gen   map[model.Key]uint64 // bumped by every Enqueue

	records RecordWriter
	golden  GoldenWriter
	cache   CacheInvalidator
	persist Persister
	now     func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithPersister writes every change through p.
func WithPersister(p Persister) Option {
	return func(q *Queue) { q.persist = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New wires a queue to the tiers a resolution feeds back into.
func New(records RecordWriter, golden GoldenWriter, cache CacheInvalidator, opts ...Option) *Queue {
	q := &Queue{
		items:   make(map[model.Key]model.ReviewItem),
		gen:     make(map[model.Key]uint64),
		records: records,
		golden:  golden,
		cache:   cache,
		now:     time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue adds or refreshes the pending item for item.Key. A pending item
// keeps its original CreatedAt; a resolved one is reopened.
func (q *Queue) Enqueue(ctx context.Context, item model.ReviewItem) error {
	if item.Key.IsZero() {
		return eris.New("review: empty key")
	}

	q.mu.Lock()
	prev, ok := q.items[item.Key]
	switch {
	case ok && !prev.Resolved:
		item.CreatedAt = prev.CreatedAt
	case item.CreatedAt.IsZero():
		item.CreatedAt = q.now()
	}
	item.Resolved = false
	item.ResolvedAt = nil
	item.Record = item.Record.Clone()
	q.items[item.Key] = item
	q.gen[item.Key]++
	q.mu.Unlock()

	return q.save(ctx, item)
}

// Pending yields unresolved items oldest first, ties broken by key. Each
// iteration takes a fresh snapshot.
func (q *Queue) Pending() iter.Seq[model.ReviewItem] {
	return func(yield func(model.ReviewItem) bool) {
		for _, item := range q.snapshot() {
			if !yield(item) {
				return
			}
		}
	}
}

func (q *Queue) snapshot() []model.ReviewItem {
	q.mu.Lock()
	out := make([]model.ReviewItem, 0, len(q.items))
	for _, item := range q.items {
		if !item.Resolved {
			out = append(out, item)
		}
	}
	q.mu.Unlock()

	slices.SortFunc(out, func(a, b model.ReviewItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.String(), b.Key.String())
	})
	return out
}

// PendingCount returns the number of unresolved items.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, item := range q.items {
		if !item.Resolved {
			n++
		}
	}
	return n
}

// Resolve applies a human correction: corrected is stored with confidence
// 1.0, golden mappings are written for key and, when not already mapped,
// its name-only alias, and the cached copy is dropped.
func (q *Queue) Resolve(ctx context.Context, key model.Key, corrected model.AddressRecord) error {
	q.mu.Lock()
	item, ok := q.items[key]
	gen := q.gen[key]
	q.mu.Unlock()
	if !ok {
		return eris.Wrapf(ErrNotQueued, "%s", key)
	}

	rec := corrected.Clone()
	rec.Key = key
	rec.Confidence = 1.0
	rec.SourceTier = model.TierGolden
	rec.MatchedAgainst = nil
	if rec.CompanyNameRaw == "" {
		rec.CompanyNameRaw = item.Record.CompanyNameRaw
	}
	if rec.ResolvedAt.IsZero() {
		rec.ResolvedAt = q.now()
	}
	if err := rec.Validate(); err != nil {
		return eris.Wrapf(err, "review: corrected record for %s", key)
	}

	if q.records != nil {
		if err := q.records.Upsert(ctx, key, rec); err != nil {
			return eris.Wrapf(err, "review: store corrected record %s", key)
		}
	}
	if q.golden != nil {
		if err := q.golden.Put(ctx, key, key, rec); err != nil {
			zap.L().Warn("review: golden write failed", zap.String("key", key.String()), zap.Error(err))
		}
		alias := key.NameOnly()
		if alias != key {
			if !q.golden.Has(alias) {
				if err := q.golden.Put(ctx, alias, key, rec); err != nil {
					zap.L().Warn("review: golden alias write failed", zap.String("key", alias.String()), zap.Error(err))
				}
			}
		}
	}
	if q.cache != nil {
		q.cache.Delete(key)
	}

	at := q.now()
	q.mu.Lock()
	if q.gen[key] != gen {
		q.mu.Unlock()
		zap.L().Warn("review: item re-enqueued while resolving, left pending", zap.String("key", key.String()))
		return eris.Wrapf(ErrReopened, "%s", key)
	}
	item = q.items[key]
	item.Record = rec
	item.Resolved = true
	item.ResolvedAt = &at
	q.items[key] = item
	q.mu.Unlock()

	return q.save(ctx, item)
}

// Load adds every persisted item to the queue.
func (q *Queue) Load(ctx context.Context) (int, error) {
	if q.persist == nil {
		return 0, nil
	}
	items, err := q.persist.ListReview(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "review: load")
	}
	q.mu.Lock()
	for _, item := range items {
		q.items[item.Key] = item
	}
	q.mu.Unlock()
	return len(items), nil
}

func (q *Queue) save(ctx context.Context, item model.ReviewItem) error {
	if q.persist == nil {
		return nil
	}
	if err := q.persist.UpsertReview(ctx, item); err != nil {
		return eris.Wrapf(err, "review: persist %s", item.Key)
	}
	return nil
}
