package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/sells-group/geolookup/internal/model"
	"github.com/sells-group/geolookup/internal/resilience"
)

// SheetsConfig locates the shared address registry spreadsheet.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Worksheet       string `yaml:"worksheet" mapstructure:"worksheet"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// sheetColumns is the registry header row, one column per field.
var sheetColumns = []string{
	"key",
	"company_raw",
	"company_normalized",
	"site_hint",
	"formatted_address",
	"street_1",
	"street_2",
	"city",
	"state_region",
	"postal_code",
	"country",
	"country_long",
	"lat",
	"lng",
	"source",
	"confidence",
	"geocoder_place_id",
	"location_type",
	"matched_against",
	"notes",
	"updated_at",
}

// lastColumn is the column letter of the final registry field.
var lastColumn = string(rune('A' + len(sheetColumns) - 1))

// SheetsStore keeps records in a Google Sheets worksheet keyed by column A.
// Golden mappings and review items are not persisted here.
type SheetsStore struct {
	svc       *sheets.Service
	id        string
	worksheet string

	// mu serializes find-row-then-write so two upserts of one key cannot
	// both append.
	mu sync.Mutex
}

// NewSheets connects to the registry with a service-account credentials
// file. Extra options are applied after the credentials.
func NewSheets(ctx context.Context, cfg SheetsConfig, opts ...option.ClientOption) (*SheetsStore, error) {
	if cfg.SpreadsheetID == "" {
		return nil, eris.New("sheets: spreadsheet id not configured")
	}
	if cfg.Worksheet == "" {
		cfg.Worksheet = "Registry"
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		)
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "sheets: create service")
	}
	return &SheetsStore{svc: svc, id: cfg.SpreadsheetID, worksheet: cfg.Worksheet}, nil
}

func (s *SheetsStore) Name() string { return "sheets" }

func (s *SheetsStore) rng(a1 string) string {
	return s.worksheet + "!" + a1
}

// Migrate writes the header row.
func (s *SheetsStore) Migrate(ctx context.Context) error {
	header := make([]any, len(sheetColumns))
	for i, c := range sheetColumns {
		header[i] = c
	}
	_, err := s.svc.Spreadsheets.Values.Update(s.id, s.rng("A1:"+lastColumn+"1"), &sheets.ValueRange{
		Values: [][]any{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return sheetsErr(err, "write header")
}

func (s *SheetsStore) Close() error { return nil }

func (s *SheetsStore) Get(ctx context.Context, key model.Key) (*model.AddressRecord, error) {
	rows, err := s.readRows(ctx)
	if err != nil {
		return nil, err
	}
	want := key.String()
	for i, row := range rows {
		if cell(row, 0) == want {
			rec, ok := decodeOrSkip(row, i)
			if !ok {
				continue
			}
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *SheetsStore) All(ctx context.Context) iter.Seq2[model.AddressRecord, error] {
	return func(yield func(model.AddressRecord, error) bool) {
		rows, err := s.readRows(ctx)
		if err != nil {
			yield(model.AddressRecord{}, err)
			return
		}
		for i, row := range rows {
			if cell(row, 0) == "" {
				continue
			}
			rec, ok := decodeOrSkip(row, i)
			if !ok {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Upsert rewrites the record's whole row in one update, or appends it.
func (s *SheetsStore) Upsert(ctx context.Context, rec model.AddressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.svc.Spreadsheets.Values.Get(s.id, s.rng("A2:A")).Context(ctx).Do()
	if err != nil {
		return sheetsErr(err, "read keys")
	}

	row := encodeRow(rec)
	want := rec.Key.String()
	for i, r := range keys.Values {
		if cell(r, 0) != want {
			continue
		}
		n := i + 2
		_, err := s.svc.Spreadsheets.Values.Update(s.id, s.rng(fmt.Sprintf("A%d:%s%d", n, lastColumn, n)), &sheets.ValueRange{
			Values: [][]any{row},
		}).ValueInputOption("RAW").Context(ctx).Do()
		return sheetsErr(err, "update row")
	}

	_, err = s.svc.Spreadsheets.Values.Append(s.id, s.rng("A:"+lastColumn), &sheets.ValueRange{
		Values: [][]any{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return sheetsErr(err, "append row")
}

func (s *SheetsStore) readRows(ctx context.Context) ([][]any, error) {
	vr, err := s.svc.Spreadsheets.Values.Get(s.id, s.rng("A2:"+lastColumn)).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, sheetsErr(err, "read rows")
	}
	return vr.Values, nil
}

func encodeRow(rec model.AddressRecord) []any {
	matched := ""
	if rec.MatchedAgainst != nil {
		matched = rec.MatchedAgainst.String()
	}
	return []any{
		rec.Key.String(),
		rec.CompanyNameRaw,
		rec.Key.Name,
		rec.Key.Site,
		rec.FormattedAddress,
		rec.Components.Street,
		rec.Components.Street2,
		rec.Components.City,
		rec.Components.StateRegion,
		rec.Components.PostalCode,
		rec.Components.Country,
		rec.Components.CountryLong,
		rec.Latitude,
		rec.Longitude,
		string(rec.SourceTier),
		rec.Confidence,
		rec.PlaceID,
		rec.LocationType,
		matched,
		rec.Notes,
		rec.ResolvedAt.UTC().Format(time.RFC3339Nano),
	}
}

// decodeOrSkip decodes a registry row. Rows are hand-editable, so one that
// fails to decode is logged and skipped instead of failing the read. i is
// the index into the data rows; the sheet row number is i+2.
func decodeOrSkip(row []any, i int) (model.AddressRecord, bool) {
	rec, err := decodeRow(row)
	if err != nil {
		zap.L().Warn("sheets: skipping malformed row",
			zap.Int("row", i+2),
			zap.String("key", cell(row, 0)),
			zap.Error(err),
		)
		return model.AddressRecord{}, false
	}
	return rec, true
}

func decodeRow(row []any) (model.AddressRecord, error) {
	rec := model.AddressRecord{
		Key:              model.ParseKey(cell(row, 0)),
		CompanyNameRaw:   cell(row, 1),
		FormattedAddress: cell(row, 4),
		Components: model.Components{
			Street:      cell(row, 5),
			Street2:     cell(row, 6),
			City:        cell(row, 7),
			StateRegion: cell(row, 8),
			PostalCode:  cell(row, 9),
			Country:     cell(row, 10),
			CountryLong: cell(row, 11),
		},
		SourceTier:   model.SourceTier(cell(row, 14)),
		PlaceID:      cell(row, 16),
		LocationType: cell(row, 17),
		Notes:        cell(row, 19),
	}

	var err error
	if rec.Latitude, err = cellFloat(row, 12); err != nil {
		return rec, eris.Wrapf(err, "sheets: lat for %s", rec.Key)
	}
	if rec.Longitude, err = cellFloat(row, 13); err != nil {
		return rec, eris.Wrapf(err, "sheets: lng for %s", rec.Key)
	}
	if rec.Confidence, err = cellFloat(row, 15); err != nil {
		return rec, eris.Wrapf(err, "sheets: confidence for %s", rec.Key)
	}
	if m := cell(row, 18); m != "" {
		k := model.ParseKey(m)
		rec.MatchedAgainst = &k
	}
	if ts := cell(row, 20); ts != "" {
		if rec.ResolvedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return rec, eris.Wrapf(err, "sheets: updated_at for %s", rec.Key)
		}
	}
	return rec, nil
}

func cell(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func cellFloat(row []any, i int) (float64, error) {
	if i < len(row) {
		if f, ok := row[i].(float64); ok {
			return f, nil
		}
	}
	s := strings.TrimSpace(cell(row, i))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// sheetsErr wraps an API failure, marking throttling and server errors as
// transient.
func sheetsErr(err error, op string) error {
	if err == nil {
		return nil
	}
	wrapped := eris.Wrapf(err, "sheets: %s", op)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && resilience.IsTransientHTTPStatus(gerr.Code) {
		return resilience.NewTransientError(wrapped, gerr.Code)
	}
	return wrapped
}
