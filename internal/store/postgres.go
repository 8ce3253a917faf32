package store

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geolookup/internal/db"
	"github.com/sells-group/geolookup/internal/model"
)

// PostgresStore is the team-shared backend on a pgx pool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS address_records (
	key               TEXT PRIMARY KEY,
	company_name_raw  TEXT NOT NULL DEFAULT '',
	formatted_address TEXT NOT NULL DEFAULT '',
	lat               DOUBLE PRECISION NOT NULL DEFAULT 0,
	lng               DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence        DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	source_tier       TEXT NOT NULL,
	matched_against   TEXT,
	components        JSONB NOT NULL DEFAULT '{}'::jsonb,
	place_id          TEXT NOT NULL DEFAULT '',
	location_type     TEXT NOT NULL DEFAULT '',
	notes             TEXT NOT NULL DEFAULT '',
	resolved_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS golden_mappings (
	alias_key     TEXT PRIMARY KEY,
	canonical_key TEXT NOT NULL,
	record        JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_queue (
	key         TEXT PRIMARY KEY,
	record      JSONB NOT NULL,
	reason      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved    BOOLEAN NOT NULL DEFAULT false,
	resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_review_queue_pending ON review_queue(resolved, created_at);
`

var (
	pgSelectRecord = `SELECT ` + strings.Join(recordColumns, ", ") + ` FROM address_records`

	pgUpsertRecord = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "address_records",
		Columns:      recordColumns,
		ConflictKeys: []string{"key"},
	})

	pgUpsertGolden = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "golden_mappings",
		Columns:      []string{"alias_key", "canonical_key", "record", "updated_at"},
		ConflictKeys: []string{"alias_key"},
	})

	pgUpsertReview = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "review_queue",
		Columns:      []string{"key", "record", "reason", "created_at", "resolved", "resolved_at"},
		ConflictKeys: []string{"key"},
	})
)

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key model.Key) (*model.AddressRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, pgSelectRecord+` WHERE key = $1`, key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", key)
	}
	return rec, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec model.AddressRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, pgUpsertRecord, args...); err != nil {
		return eris.Wrapf(err, "postgres: upsert record %s", rec.Key)
	}
	return nil
}

func (s *PostgresStore) All(ctx context.Context) iter.Seq2[model.AddressRecord, error] {
	return func(yield func(model.AddressRecord, error) bool) {
		rows, err := s.pool.Query(ctx, pgSelectRecord+` ORDER BY key`)
		if err != nil {
			yield(model.AddressRecord{}, eris.Wrap(err, "postgres: list records"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(model.AddressRecord{}, eris.Wrap(err, "postgres: scan record"))
				return
			}
			if !yield(*rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.AddressRecord{}, eris.Wrap(err, "postgres: iterate records"))
		}
	}
}

func (s *PostgresStore) ListGolden(ctx context.Context) ([]model.GoldenMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT alias_key, canonical_key, record, updated_at FROM golden_mappings ORDER BY alias_key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list golden")
	}
	defer rows.Close()

	var out []model.GoldenMapping
	for rows.Next() {
		m, err := scanGolden(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan golden")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate golden")
}

func (s *PostgresStore) UpsertGolden(ctx context.Context, m model.GoldenMapping) error {
	args, err := goldenArgs(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgUpsertGolden, args...)
	return eris.Wrapf(err, "postgres: upsert golden %s", m.Alias)
}

func (s *PostgresStore) ListReview(ctx context.Context) ([]model.ReviewItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, record, reason, created_at, resolved, resolved_at FROM review_queue ORDER BY created_at, key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review")
	}
	defer rows.Close()

	var out []model.ReviewItem
	for rows.Next() {
		item, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		out = append(out, item)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate review")
}

func (s *PostgresStore) UpsertReview(ctx context.Context, item model.ReviewItem) error {
	args, err := reviewArgs(item)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgUpsertReview, args...)
	return eris.Wrapf(err, "postgres: upsert review %s", item.Key)
}
