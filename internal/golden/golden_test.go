package golden

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/normalize"
)

type memPersister struct {
	mappings []model.GoldenMapping
	err      error
}

func (p *memPersister) ListGolden(context.Context) ([]model.GoldenMapping, error) {
	return p.mappings, p.err
}

func (p *memPersister) UpsertGolden(_ context.Context, m model.GoldenMapping) error {
	if p.err != nil {
		return p.err
	}
	p.mappings = append(p.mappings, m)
	return nil
}

func addr(formatted string) model.AddressRecord {
	return model.AddressRecord{FormattedAddress: formatted, Latitude: 18.59, Longitude: 73.73, Confidence: 0.4}
}

func TestTable_ExactAndNameOnly(t *testing.T) {
	tbl := New()
	ctx := context.Background()

	require.NoError(t, tbl.Put(ctx, model.Key{Name: "hdfc bank"}, model.Key{}, addr("Lower Parel")))

	rec, ok := tbl.Lookup(model.Key{Name: "hdfc bank"})
	require.True(t, ok)
	assert.Equal(t, model.TierGolden, rec.SourceTier)
	assert.Equal(t, 1.0, rec.Confidence)
	assert.Nil(t, rec.MatchedAgainst)

	rec, ok = tbl.Lookup(model.Key{Name: "hdfc bank", Site: "mumbai in"})
	require.True(t, ok)
	assert.Equal(t, "Lower Parel", rec.FormattedAddress)
	require.NotNil(t, rec.MatchedAgainst)
	assert.Equal(t, model.Key{Name: "hdfc bank"}, *rec.MatchedAgainst)
}

func TestTable_Fuzzy(t *testing.T) {
	tbl := New(WithFuzzy(0.8))
	alias := model.Key{Name: "tata consultancy services", Site: "pune in"}
	require.NoError(t, tbl.Put(context.Background(), alias, alias, addr("Hinjewadi")))

	rec, ok := tbl.Lookup(model.Key{Name: "tata consultancy service", Site: "pune in"})
	require.True(t, ok)
	assert.Equal(t, 1.0, rec.Confidence)
	require.NotNil(t, rec.MatchedAgainst)
	assert.Equal(t, alias, *rec.MatchedAgainst)

	_, ok = tbl.Lookup(model.Key{Name: "tata motors", Site: "mumbai in"})
	assert.False(t, ok)
}

func TestTable_FuzzyRejectsWordSubset(t *testing.T) {
	tbl := New(WithFuzzy(0.8))
	alias := model.Key{Name: "hdfc bank"}
	require.NoError(t, tbl.Put(context.Background(), alias, alias, addr("Lower Parel, Mumbai, India")))

	for _, q := range []model.Key{
		{Name: "bank"},
		{Name: "bank", Site: "mumbai in"},
		{Name: "hdfc bank securities"},
	} {
		_, ok := tbl.Lookup(q)
		assert.False(t, ok, q.String())
	}

	rec, ok := tbl.Lookup(model.Key{Name: "hdfc banks", Site: "mumbai in"})
	require.True(t, ok)
	require.NotNil(t, rec.MatchedAgainst)
	assert.Equal(t, alias, *rec.MatchedAgainst)
}

func TestTable_NoFuzzyByDefault(t *testing.T) {
	tbl := New()
	alias := model.Key{Name: "tata consultancy services"}
	require.NoError(t, tbl.Put(context.Background(), alias, alias, addr("Hinjewadi")))

	_, ok := tbl.Lookup(model.Key{Name: "tata consultancy service"})
	assert.False(t, ok)
}

func TestTable_PutOverwritesAndPersists(t *testing.T) {
	p := &memPersister{}
	fixed := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	tbl := New(WithPersister(p), WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	alias := model.Key{Name: "infosys"}

	require.NoError(t, tbl.Put(ctx, alias, alias, addr("old")))
	require.NoError(t, tbl.Put(ctx, alias, alias, addr("new")))

	assert.Equal(t, 1, tbl.Len())
	rec, ok := tbl.Lookup(alias)
	require.True(t, ok)
	assert.Equal(t, "new", rec.FormattedAddress)

	require.Len(t, p.mappings, 2)
	assert.Equal(t, fixed, p.mappings[1].UpdatedAt)
	assert.Equal(t, model.TierGolden, p.mappings[1].Record.SourceTier)
}

func TestTable_PersistFailureKeepsMemory(t *testing.T) {
	p := &memPersister{err: errors.New("database is locked")}
	tbl := New(WithPersister(p))
	alias := model.Key{Name: "wipro"}

	err := tbl.Put(context.Background(), alias, alias, addr("Sarjapur"))
	require.Error(t, err)

	_, ok := tbl.Lookup(alias)
	assert.True(t, ok)
}

func TestTable_PutRejectsBadRecord(t *testing.T) {
	tbl := New()
	bad := addr("nowhere")
	bad.Latitude = 123

	require.Error(t, tbl.Put(context.Background(), model.Key{Name: "acme"}, model.Key{}, bad))
	require.Error(t, tbl.Put(context.Background(), model.Key{}, model.Key{}, addr("x")))
	assert.Zero(t, tbl.Len())
}

func TestTable_Load(t *testing.T) {
	alias := model.Key{Name: "tcs", Site: "pune in"}
	p := &memPersister{mappings: []model.GoldenMapping{{
		Alias:     alias,
		Canonical: model.Key{Name: "tata consultancy services", Site: "pune in"},
		Record:    addr("Hinjewadi"),
	}}}
	tbl := New(WithPersister(p))

	n, err := tbl.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, ok := tbl.Lookup(alias)
	require.True(t, ok)
	assert.Equal(t, 1.0, rec.Confidence)
	assert.Len(t, tbl.All(), 1)
}

func TestTable_LoadSeed(t *testing.T) {
	tbl := New()
	n, err := tbl.LoadSeed(context.Background(), filepath.Join("testdata", "seed.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	key, err := normalize.Normalize("TCS", "Pune, India")
	require.NoError(t, err)
	rec, ok := tbl.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, model.Key{Name: "tata consultancy services", Site: "pune in"}, rec.Key)
	assert.Equal(t, "Pune", rec.Components.City)
	assert.Equal(t, "411057", rec.Components.PostalCode)
	assert.InDelta(t, 18.5912, rec.Latitude, 1e-9)

	_, ok = tbl.Lookup(model.Key{Name: "tcs", Site: "mumbai in"})
	assert.False(t, ok)
}

func TestTable_LoadSeedErrors(t *testing.T) {
	tbl := New()
	_, err := tbl.LoadSeed(context.Background(), filepath.Join("testdata", "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mappings:\n  - company: \"   \"\n"), 0o600))
	_, err = tbl.LoadSeed(context.Background(), path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, normalize.ErrInvalidInput))
}
