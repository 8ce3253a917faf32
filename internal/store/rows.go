package store

import (
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geolookup/internal/model"
)

// recordColumns is the shared column order of address_records. SQL
// backends select and insert columns in this order.
var recordColumns = []string{
	"key",
	"company_name_raw",
	"formatted_address",
	"lat",
	"lng",
	"confidence",
	"source_tier",
	"matched_against",
	"components",
	"place_id",
	"location_type",
	"notes",
	"resolved_at",
}

type scannable interface {
	Scan(dest ...any) error
}

// recordArgs flattens rec into recordColumns order.
func recordArgs(rec model.AddressRecord) ([]any, error) {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal components")
	}
	var matched sql.NullString
	if rec.MatchedAgainst != nil {
		matched = sql.NullString{String: rec.MatchedAgainst.String(), Valid: true}
	}
	return []any{
		rec.Key.String(),
		rec.CompanyNameRaw,
		rec.FormattedAddress,
		rec.Latitude,
		rec.Longitude,
		rec.Confidence,
		string(rec.SourceTier),
		matched,
		string(components),
		rec.PlaceID,
		rec.LocationType,
		rec.Notes,
		rec.ResolvedAt.UTC(),
	}, nil
}

func scanRecord(row scannable) (*model.AddressRecord, error) {
	var (
		rec        model.AddressRecord
		key, tier  string
		matched    sql.NullString
		components string
	)
	err := row.Scan(
		&key,
		&rec.CompanyNameRaw,
		&rec.FormattedAddress,
		&rec.Latitude,
		&rec.Longitude,
		&rec.Confidence,
		&tier,
		&matched,
		&components,
		&rec.PlaceID,
		&rec.LocationType,
		&rec.Notes,
		&rec.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Key = model.ParseKey(key)
	rec.SourceTier = model.SourceTier(tier)
	if matched.Valid {
		k := model.ParseKey(matched.String)
		rec.MatchedAgainst = &k
	}
	if components != "" {
		if err := json.Unmarshal([]byte(components), &rec.Components); err != nil {
			return nil, eris.Wrapf(err, "store: decode components for %s", key)
		}
	}
	return &rec, nil
}

func goldenArgs(m model.GoldenMapping) ([]any, error) {
	rec, err := json.Marshal(m.Record)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal golden record")
	}
	return []any{m.Alias.String(), m.Canonical.String(), string(rec), m.UpdatedAt.UTC()}, nil
}

func scanGolden(row scannable) (model.GoldenMapping, error) {
	var (
		m                model.GoldenMapping
		alias, canonical string
		rec              string
	)
	if err := row.Scan(&alias, &canonical, &rec, &m.UpdatedAt); err != nil {
		return m, err
	}
	m.Alias = model.ParseKey(alias)
	m.Canonical = model.ParseKey(canonical)
	if err := json.Unmarshal([]byte(rec), &m.Record); err != nil {
		return m, eris.Wrapf(err, "store: decode golden record for %s", alias)
	}
	return m, nil
}

func reviewArgs(item model.ReviewItem) ([]any, error) {
	rec, err := json.Marshal(item.Record)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal review record")
	}
	var resolvedAt sql.NullTime
	if item.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: item.ResolvedAt.UTC(), Valid: true}
	}
	return []any{
		item.Key.String(),
		string(rec),
		string(item.Reason),
		item.CreatedAt.UTC(),
		item.Resolved,
		resolvedAt,
	}, nil
}

func scanReview(row scannable) (model.ReviewItem, error) {
	var (
		item       model.ReviewItem
		key, rec   string
		reason     string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&key, &rec, &reason, &item.CreatedAt, &item.Resolved, &resolvedAt); err != nil {
		return item, err
	}
	item.Key = model.ParseKey(key)
	item.Reason = model.ReviewReason(reason)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		item.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(rec), &item.Record); err != nil {
		return item, eris.Wrapf(err, "store: decode review record for %s", key)
	}
	return item, nil
}
