package store

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geolookup/internal/model"
)

// SQLiteStore is the default single-user backend on modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS address_records (
	key               TEXT PRIMARY KEY,
	company_name_raw  TEXT NOT NULL DEFAULT '',
	formatted_address TEXT NOT NULL DEFAULT '',
	lat               REAL NOT NULL DEFAULT 0,
	lng               REAL NOT NULL DEFAULT 0,
	confidence        REAL NOT NULL,
	source_tier       TEXT NOT NULL,
	matched_against   TEXT,
	components        TEXT NOT NULL DEFAULT '{}',
	place_id          TEXT NOT NULL DEFAULT '',
	location_type     TEXT NOT NULL DEFAULT '',
	notes             TEXT NOT NULL DEFAULT '',
	resolved_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS golden_mappings (
	alias_key     TEXT PRIMARY KEY,
	canonical_key TEXT NOT NULL,
	record        TEXT NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	key         TEXT PRIMARY KEY,
	record      TEXT NOT NULL,
	reason      TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	resolved    INTEGER NOT NULL DEFAULT 0,
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_review_queue_pending ON review_queue(resolved, created_at);
`

var (
	sqliteSelectRecord = `SELECT ` + strings.Join(recordColumns, ", ") + ` FROM address_records`
	sqliteUpsertRecord = `INSERT INTO address_records (` + strings.Join(recordColumns, ", ") + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET ` + excludedSet(recordColumns[1:])
)

func excludedSet(cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = excluded." + c
	}
	return strings.Join(sets, ", ")
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key model.Key) (*model.AddressRecord, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectRecord+` WHERE key = ?`, key.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", key)
	}
	return rec, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec model.AddressRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertRecord, args...); err != nil {
		return eris.Wrapf(err, "sqlite: upsert record %s", rec.Key)
	}
	return nil
}

func (s *SQLiteStore) All(ctx context.Context) iter.Seq2[model.AddressRecord, error] {
	return func(yield func(model.AddressRecord, error) bool) {
		rows, err := s.db.QueryContext(ctx, sqliteSelectRecord+` ORDER BY key`)
		if err != nil {
			yield(model.AddressRecord{}, eris.Wrap(err, "sqlite: list records"))
			return
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(model.AddressRecord{}, eris.Wrap(err, "sqlite: scan record"))
				return
			}
			if !yield(*rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.AddressRecord{}, eris.Wrap(err, "sqlite: iterate records"))
		}
	}
}

func (s *SQLiteStore) ListGolden(ctx context.Context) ([]model.GoldenMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias_key, canonical_key, record, updated_at FROM golden_mappings ORDER BY alias_key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list golden")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.GoldenMapping
	for rows.Next() {
		m, err := scanGolden(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan golden")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate golden")
}

func (s *SQLiteStore) UpsertGolden(ctx context.Context, m model.GoldenMapping) error {
	args, err := goldenArgs(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO golden_mappings (alias_key, canonical_key, record, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(alias_key) DO UPDATE SET canonical_key = excluded.canonical_key,
			record = excluded.record, updated_at = excluded.updated_at`,
		args...,
	)
	return eris.Wrapf(err, "sqlite: upsert golden %s", m.Alias)
}

func (s *SQLiteStore) ListReview(ctx context.Context) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, record, reason, created_at, resolved, resolved_at FROM review_queue ORDER BY created_at, key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		out = append(out, item)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate review")
}

func (s *SQLiteStore) UpsertReview(ctx context.Context, item model.ReviewItem) error {
	args, err := reviewArgs(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_queue (key, record, reason, created_at, resolved, resolved_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET record = excluded.record, reason = excluded.reason,
			created_at = excluded.created_at, resolved = excluded.resolved, resolved_at = excluded.resolved_at`,
		args...,
	)
	return eris.Wrapf(err, "sqlite: upsert review %s", item.Key)
}
