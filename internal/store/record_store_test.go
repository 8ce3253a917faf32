package store

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolookup/internal/match"
	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/resilience"
)

// memBackend is an in-memory Backend with failure injection.
type memBackend struct {
	mu      sync.Mutex
	rows    map[model.Key]model.AddressRecord
	order   []model.Key
	fail    error
	upserts int
}

func newMemBackend() *memBackend {
	return &memBackend{rows: make(map[model.Key]model.AddressRecord)}
}

func (m *memBackend) Name() string                  { return "mem" }
func (m *memBackend) Migrate(context.Context) error { return m.fail }
func (m *memBackend) Close() error                  { return nil }

func (m *memBackend) Get(_ context.Context, key model.Key) (*model.AddressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	rec, ok := m.rows[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memBackend) Upsert(_ context.Context, rec model.AddressRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if _, ok := m.rows[rec.Key]; !ok {
		m.order = append(m.order, rec.Key)
	}
	m.rows[rec.Key] = rec
	m.upserts++
	return nil
}

func (m *memBackend) All(context.Context) iter.Seq2[model.AddressRecord, error] {
	return func(yield func(model.AddressRecord, error) bool) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.fail != nil {
			yield(model.AddressRecord{}, m.fail)
			return
		}
		for _, k := range m.order {
			if !yield(m.rows[k], nil) {
				return
			}
		}
	}
}

func apiRecord(name, site string) model.AddressRecord {
	return model.AddressRecord{
		Key:        model.Key{Name: name, Site: site},
		Latitude:   18.59,
		Longitude:  73.73,
		Confidence: 0.9,
		SourceTier: model.TierAPI,
		ResolvedAt: time.Now(),
	}
}

func TestRecordStore_FindExact(t *testing.T) {
	be := newMemBackend()
	s := NewRecordStore(be, match.New(0.75))
	ctx := context.Background()

	key := model.Key{Name: "infosys", Site: "bengaluru in"}
	require.NoError(t, s.Upsert(ctx, key, apiRecord("ignored", "")))

	rec, score, err := s.Find(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, key, rec.Key)
	assert.Equal(t, 1.0, score)
}

func TestRecordStore_FindFuzzy(t *testing.T) {
	be := newMemBackend()
	s := NewRecordStore(be, match.New(0.75))
	ctx := context.Background()

	stored := model.Key{Name: "tata consultancy services", Site: "pune in"}
	require.NoError(t, s.Upsert(ctx, stored, apiRecord("", "")))
	require.NoError(t, s.Upsert(ctx, model.Key{Name: "wipro"}, apiRecord("", "")))

	rec, score, err := s.Find(ctx, model.Key{Name: "tata consultancy service", Site: "pune in"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, stored, rec.Key)
	assert.Less(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.75)
}

func TestRecordStore_FindMiss(t *testing.T) {
	s := NewRecordStore(newMemBackend(), match.New(0.75))

	rec, score, err := s.Find(context.Background(), model.Key{Name: "nobody"})
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Zero(t, score)
}

func TestRecordStore_FindSkipsInvalidStoredRecords(t *testing.T) {
	be := newMemBackend()
	s := NewRecordStore(be, match.New(0.75))
	ctx := context.Background()

	query := model.Key{Name: "tata consultancy service", Site: "pune in"}
	bad := apiRecord(query.Name, query.Site)
	bad.Confidence = 1.5
	require.NoError(t, be.Upsert(ctx, bad))
	offGrid := apiRecord("tata consultancy servics", "pune in")
	offGrid.Latitude = 123
	require.NoError(t, be.Upsert(ctx, offGrid))
	require.NoError(t, s.Upsert(ctx, model.Key{Name: "tata consultancy services", Site: "pune in"}, apiRecord("", "")))

	rec, score, err := s.Find(ctx, query)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "tata consultancy services", rec.Key.Name)
	assert.Less(t, score, 1.0)

	_, _, err = s.Find(ctx, model.Key{Name: "wipro"})
	require.NoError(t, err)
}

func TestRecordStore_NilMatcherIsExactOnly(t *testing.T) {
	be := newMemBackend()
	s := NewRecordStore(be, nil)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, model.Key{Name: "tata consultancy services"}, apiRecord("", "")))

	rec, _, err := s.Find(ctx, model.Key{Name: "tata consultancy"})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordStore_UpsertRejectsInvalid(t *testing.T) {
	be := newMemBackend()
	s := NewRecordStore(be, nil)

	bad := apiRecord("", "")
	bad.Confidence = 1.7
	err := s.Upsert(context.Background(), model.Key{Name: "acme"}, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.Zero(t, be.upserts)
}

func TestRecordStore_BackendFailureIsUnavailable(t *testing.T) {
	be := newMemBackend()
	cause := errors.New("disk I/O error")
	be.fail = cause
	s := NewRecordStore(be, match.New(0.75))
	ctx := context.Background()

	_, _, err := s.Find(ctx, model.Key{Name: "acme"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, cause))

	var ue *UnavailableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "mem", ue.Backend)
	assert.Equal(t, "find", ue.Op)

	err = s.Upsert(ctx, model.Key{Name: "acme"}, apiRecord("", ""))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRecordStore_ScanFailureIsUnavailable(t *testing.T) {
	be := &scanFailBackend{memBackend: newMemBackend()}
	s := NewRecordStore(be, match.New(0.75))

	_, _, err := s.Find(context.Background(), model.Key{Name: "acme"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

type scanFailBackend struct {
	*memBackend
}

func (b *scanFailBackend) All(context.Context) iter.Seq2[model.AddressRecord, error] {
	return func(yield func(model.AddressRecord, error) bool) {
		yield(model.AddressRecord{}, errors.New("cursor lost"))
	}
}

func TestRecordStore_BreakerOpens(t *testing.T) {
	be := newMemBackend()
	be.fail = errors.New("connection refused")
	s := NewRecordStore(be, nil, WithBreaker(resilience.BreakerConfig{Threshold: 2, Cooldown: time.Hour}))
	ctx := context.Background()

	for range 2 {
		_, _, err := s.Find(ctx, model.Key{Name: "acme"})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.StateOpen, s.BreakerState())

	be.fail = nil
	_, _, err := s.Find(ctx, model.Key{Name: "acme"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, resilience.ErrOpen))
}

func TestRecordStore_OptionalBackends(t *testing.T) {
	s := NewRecordStore(newMemBackend(), nil)
	ctx := context.Background()

	assert.False(t, s.Persistent())
	golden, err := s.ListGolden(ctx)
	require.NoError(t, err)
	assert.Nil(t, golden)
	require.NoError(t, s.UpsertGolden(ctx, model.GoldenMapping{}))
	review, err := s.ListReview(ctx)
	require.NoError(t, err)
	assert.Nil(t, review)
	require.NoError(t, s.UpsertReview(ctx, model.ReviewItem{}))
}

func TestRecordStore_SQLiteIsPersistent(t *testing.T) {
	s := NewRecordStore(newTestSQLiteStore(t), nil)
	assert.True(t, s.Persistent())
	assert.Equal(t, "sqlite", s.Name())
}
