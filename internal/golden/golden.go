// Package golden holds curated alias to canonical address overrides. A
// golden hit always wins and never expires.
package golden

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/match"
	"github.com/sells-group/geolookup/internal/model"
)

// Persister stores mappings across restarts. store.RecordStore satisfies it.
type Persister interface {
	ListGolden(ctx context.Context) ([]model.GoldenMapping, error)
	UpsertGolden(ctx context.Context, m model.GoldenMapping) error
}

// Table is the in-memory golden mapping table, keyed by alias.
type Table struct {
	mu      sync.RWMutex
	byAlias map[model.Key]model.GoldenMapping
	order   []model.Key

	persist Persister
	matcher *match.Matcher
	now     func() time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithPersister writes every Put through p.
func WithPersister(p Persister) Option {
	return func(t *Table) { t.persist = p }
}

// WithFuzzy enables fuzzy alias lookup for candidates whose edit
// similarity is at least minScore. Word-subset matches are not accepted.
func WithFuzzy(minScore float64) Option {
	return func(t *Table) { t.matcher = match.NewStrict(minScore) }
}

// WithClock overrides time.Now for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{
		byAlias: make(map[model.Key]model.GoldenMapping),
		now:     time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Lookup returns the golden record for key. It tries the exact alias, then
// the alias without its site, then (when enabled) the closest alias by edit
// similarity, with and without the site. The record always has tier GOLDEN
// and confidence 1.0; MatchedAgainst names the alias when it differs from
// key.
func (t *Table) Lookup(key model.Key) (model.AddressRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if m, ok := t.byAlias[key]; ok {
		return hit(key, m), true
	}
	if key.Site != "" {
		if m, ok := t.byAlias[key.NameOnly()]; ok {
			return hit(key, m), true
		}
	}
	if t.matcher == nil || len(t.byAlias) == 0 {
		return model.AddressRecord{}, false
	}

	best, ok := t.matcher.Best(key, match.Source{Tier: model.TierGolden, Candidates: t.candidates()})
	if !ok && key.Site != "" {
		best, ok = t.matcher.Best(key.NameOnly(), match.Source{Tier: model.TierGolden, Candidates: t.candidates()})
	}
	if !ok {
		return model.AddressRecord{}, false
	}
	return hit(key, t.byAlias[best.Key]), true
}

func hit(query model.Key, m model.GoldenMapping) model.AddressRecord {
	rec := m.Record.Clone()
	rec.SourceTier = model.TierGolden
	rec.Confidence = 1.0
	if m.Alias != query {
		alias := m.Alias
		rec.MatchedAgainst = &alias
	} else {
		rec.MatchedAgainst = nil
	}
	return rec
}

// candidates yields alias keys with their records. Callers hold mu.
func (t *Table) candidates() iter.Seq2[model.Key, model.AddressRecord] {
	return func(yield func(model.Key, model.AddressRecord) bool) {
		for _, k := range t.order {
			if !yield(k, t.byAlias[k].Record) {
				return
			}
		}
	}
}

// Put records alias → canonical with rec as the golden address and writes
// it through the persister. The in-memory table is updated even when
// persisting fails.
func (t *Table) Put(ctx context.Context, alias, canonical model.Key, rec model.AddressRecord) error {
	if alias.IsZero() {
		return eris.New("golden: empty alias")
	}
	if canonical.IsZero() {
		canonical = alias
	}
	rec = rec.Clone()
	rec.Key = canonical
	rec.SourceTier = model.TierGolden
	rec.Confidence = 1.0
	rec.MatchedAgainst = nil
	if rec.ResolvedAt.IsZero() {
		rec.ResolvedAt = t.now()
	}
	if err := rec.Validate(); err != nil {
		return eris.Wrapf(err, "golden: mapping %s", alias)
	}

	m := model.GoldenMapping{Alias: alias, Canonical: canonical, Record: rec, UpdatedAt: t.now()}
	t.set(m)

	if t.persist == nil {
		return nil
	}
	if err := t.persist.UpsertGolden(ctx, m); err != nil {
		zap.L().Warn("golden: persist mapping failed",
			zap.String("key", alias.String()),
			zap.Error(err),
		)
		return eris.Wrapf(err, "golden: persist %s", alias)
	}
	return nil
}

func (t *Table) set(m model.GoldenMapping) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byAlias[m.Alias]; !ok {
		t.order = append(t.order, m.Alias)
	}
	t.byAlias[m.Alias] = m
}

// Load adds every mapping the persister holds, overwriting aliases already
// in the table.
func (t *Table) Load(ctx context.Context) (int, error) {
	if t.persist == nil {
		return 0, nil
	}
	mappings, err := t.persist.ListGolden(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "golden: load")
	}
	for _, m := range mappings {
		m.Record.SourceTier = model.TierGolden
		m.Record.Confidence = 1.0
		t.set(m)
	}
	return len(mappings), nil
}

// Has reports whether alias is mapped exactly.
func (t *Table) Has(alias model.Key) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byAlias[alias]
	return ok
}

// Len returns the number of aliases.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAlias)
}

// All returns a snapshot of every mapping in insertion order.
func (t *Table) All() []model.GoldenMapping {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.GoldenMapping, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.byAlias[k])
	}
	return out
}
