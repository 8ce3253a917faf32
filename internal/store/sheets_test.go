package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/sells-group/geolookup/internal/match"
	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/resilience"
)

// fakeSheet serves the subset of the Sheets values API the store uses.
// rows[i] holds sheet row i+1.
type fakeSheet struct {
	mu      sync.Mutex
	rows    [][]any
	updates int
	appends int
	status  int
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"code":` + strconv.Itoa(f.status) + `,"message":"unavailable"}}`))
		return
	}

	_, a1, ok := strings.Cut(r.URL.Path, "/values/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	appending := strings.HasSuffix(a1, ":append")
	a1 = strings.TrimSuffix(a1, ":append")
	start, end, onlyA := parseA1(a1)

	switch {
	case r.Method == http.MethodGet:
		var out [][]any
		for i := start; i <= len(f.rows) && (end == 0 || i <= end); i++ {
			row := f.rows[i-1]
			if onlyA && len(row) > 1 {
				row = row[:1]
			}
			out = append(out, row)
		}
		writeJSON(w, map[string]any{"range": a1, "majorDimension": "ROWS", "values": out})

	case r.Method == http.MethodPut:
		var vr sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for len(f.rows) < start {
			f.rows = append(f.rows, nil)
		}
		f.rows[start-1] = vr.Values[0]
		f.updates++
		writeJSON(w, map[string]any{"updatedRange": a1, "updatedRows": 1})

	case r.Method == http.MethodPost && appending:
		var vr sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(f.rows) == 0 {
			f.rows = append(f.rows, nil)
		}
		f.rows = append(f.rows, vr.Values...)
		f.appends++
		writeJSON(w, map[string]any{"updates": map[string]any{"updatedRows": len(vr.Values)}})

	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

// parseA1 reads "Sheet!A2:U", "Sheet!A5:U5" or "Sheet!A:U".
func parseA1(a1 string) (start, end int, onlyA bool) {
	_, cells, _ := strings.Cut(a1, "!")
	from, to, _ := strings.Cut(cells, ":")
	start, _ = strconv.Atoi(strings.TrimLeft(from, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
	if start == 0 {
		start = 1
	}
	end, _ = strconv.Atoi(strings.TrimLeft(to, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
	onlyA = strings.TrimRight(to, "0123456789") == "A"
	return start, end, onlyA
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestSheetsStore(t *testing.T) (*SheetsStore, *fakeSheet) {
	t.Helper()
	fake := &fakeSheet{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	st, err := NewSheets(context.Background(), SheetsConfig{SpreadsheetID: "sheet-1"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	return st, fake
}

func TestNewSheets_RequiresSpreadsheetID(t *testing.T) {
	_, err := NewSheets(context.Background(), SheetsConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spreadsheet id")
}

func TestSheets_MigrateWritesHeader(t *testing.T) {
	_, fake := newTestSheetsStore(t)

	require.Len(t, fake.rows, 1)
	assert.Equal(t, "key", fake.rows[0][0])
	assert.Len(t, fake.rows[0], len(sheetColumns))
}

func TestSheets_UpsertAppendsThenUpdates(t *testing.T) {
	st, fake := newTestSheetsStore(t)
	ctx := context.Background()

	rec := sampleRecord("tata consultancy services", "pune in")
	require.NoError(t, st.Upsert(ctx, rec))
	require.NoError(t, st.Upsert(ctx, sampleRecord("wipro", "")))
	assert.Equal(t, 2, fake.appends)

	rec.Confidence = 0.5
	rec.Notes = "moved"
	require.NoError(t, st.Upsert(ctx, rec))
	assert.Equal(t, 2, fake.appends)
	assert.Equal(t, 2, fake.updates) // header plus the row rewrite
	assert.Len(t, fake.rows, 3)

	got, err := st.Get(ctx, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
	assert.Equal(t, "moved", got.Notes)
	assert.Equal(t, rec.Components, got.Components)
	assert.Equal(t, model.TierAPI, got.SourceTier)
	assert.True(t, rec.ResolvedAt.Equal(got.ResolvedAt))
}

func TestSheets_GetMiss(t *testing.T) {
	st, _ := newTestSheetsStore(t)

	got, err := st.Get(context.Background(), model.Key{Name: "nobody"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSheets_All(t *testing.T) {
	st, _ := newTestSheetsStore(t)
	ctx := context.Background()

	matched := model.Key{Name: "infosys technologies"}
	rec := sampleRecord("infosys", "")
	rec.MatchedAgainst = &matched
	require.NoError(t, st.Upsert(ctx, rec))
	require.NoError(t, st.Upsert(ctx, sampleRecord("hdfc bank", "mumbai in")))

	var got []model.AddressRecord
	for r, err := range st.All(ctx) {
		require.NoError(t, err)
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "infosys", got[0].Key.Name)
	require.NotNil(t, got[0].MatchedAgainst)
	assert.Equal(t, matched, *got[0].MatchedAgainst)
	assert.Equal(t, model.Key{Name: "hdfc bank", Site: "mumbai in"}, got[1].Key)
}

func TestSheets_SkipsMalformedRows(t *testing.T) {
	st, fake := newTestSheetsStore(t)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, sampleRecord("infosys", "")))
	junk := []any{"acme corp", "Acme", "acme corp", "", "somewhere", "", "", "", "", "", "", "", "north", "73.2", "API", "0.9"}
	fake.rows = append(fake.rows, junk)
	require.NoError(t, st.Upsert(ctx, sampleRecord("hdfc bank", "mumbai in")))

	var got []model.Key
	for r, err := range st.All(ctx) {
		require.NoError(t, err)
		got = append(got, r.Key)
	}
	assert.Equal(t, []model.Key{{Name: "infosys"}, {Name: "hdfc bank", Site: "mumbai in"}}, got)

	rec, err := st.Get(ctx, model.Key{Name: "acme corp"})
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = st.Get(ctx, model.Key{Name: "hdfc bank", Site: "mumbai in"})
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestSheets_JunkRowDoesNotTripRecordStore(t *testing.T) {
	st, fake := newTestSheetsStore(t)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, sampleRecord("tata consultancy services", "pune in")))
	fake.rows = append(fake.rows,
		[]any{"tata consultancy", "TCS", "tata consultancy", "", "", "", "", "", "", "", "", "", "18.5", "73.2", "API", "high"},
		// Decodes but fails Validate, under the exact query key.
		[]any{"tata consultancy service@pune in", "TCS", "tata consultancy service", "pune in", "", "", "", "", "", "", "", "", "18.5", "73.2", "API", "7"},
	)

	rs := NewRecordStore(st, match.New(0.75), WithBreaker(resilience.BreakerConfig{Threshold: 1, Cooldown: time.Minute}))
	for range 3 {
		rec, score, err := rs.Find(ctx, model.Key{Name: "tata consultancy service", Site: "pune in"})
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, model.Key{Name: "tata consultancy services", Site: "pune in"}, rec.Key)
		assert.Less(t, score, 1.0)
	}
	assert.Equal(t, resilience.StateClosed, rs.BreakerState())
}

func TestSheets_ServerErrorIsTransient(t *testing.T) {
	st, fake := newTestSheetsStore(t)
	fake.status = http.StatusServiceUnavailable

	_, err := st.Get(context.Background(), model.Key{Name: "acme"})
	require.Error(t, err)
	var te *resilience.TransientError
	assert.True(t, errors.As(err, &te))
	assert.True(t, resilience.IsTransient(err))
}

func TestSheets_ClientErrorIsPermanent(t *testing.T) {
	st, fake := newTestSheetsStore(t)
	fake.status = http.StatusForbidden

	err := st.Upsert(context.Background(), sampleRecord("acme", ""))
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestSheetsStore_NotPersistentForGolden(t *testing.T) {
	st, _ := newTestSheetsStore(t)
	assert.False(t, NewRecordStore(st, nil).Persistent())
}

func TestDecodeRow_FormattedNumbers(t *testing.T) {
	row := []any{"acme", "Acme", "acme", "", "", "", "", "", "", "", "", "", "18.5", "73.25", "API", "0.8"}
	rec, err := decodeRow(row)
	require.NoError(t, err)
	assert.InDelta(t, 18.5, rec.Latitude, 1e-9)
	assert.InDelta(t, 0.8, rec.Confidence, 1e-9)
	assert.True(t, rec.ResolvedAt.IsZero())

	row[12] = "north"
	_, err = decodeRow(row)
	require.Error(t, err)
}
