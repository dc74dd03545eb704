package kv

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds connection pool settings for the Postgres-backed store.
type PostgresConfig struct {
	ConnectionString  string        `env:"PG_CONN_URL,required"`
	MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`
	RetryAttempts     int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval     time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
	Table             string        `env:"PG_KV_TABLE" envDefault:"kv_records"`
}

// ConnectPostgres establishes a pgx connection pool with linear backoff
// between attempts and returns a store backed by it. The schema is created
// if it does not exist.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	connConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConnString, err)
	}
	connConfig.MaxConns = cfg.MaxOpenConns
	connConfig.MinConns = cfg.MaxIdleConns
	connConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	connConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	connConfig.MaxConnLifetime = cfg.MaxConnLifetime

	for i := 0; i < max(cfg.RetryAttempts, 1); i++ {
		pool, err := pgxpool.NewWithConfig(ctx, connConfig)
		if err != nil {
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			time.Sleep(time.Duration(i+1) * cfg.RetryInterval)
			continue
		}

		store := NewPostgresStore(pool, cfg.Table)
		if err := store.ensureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	}

	return nil, ErrStoreNotReady
}

// PostgresStore implements Store on a single versioned table. Conditional
// updates are a version-guarded UPDATE, so per-key linearizability comes
// directly from row-level locking.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore wraps an already-connected pool. The table must exist;
// use ConnectPostgres to have it created automatically.
func NewPostgresStore(pool *pgxpool.Pool, table string) *PostgresStore {
	if table == "" {
		table = "kv_records"
	}
	return &PostgresStore{pool: pool, table: table}
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+p.table+` (
			key        text PRIMARY KEY,
			value      bytea NOT NULL,
			version    bigint NOT NULL DEFAULT 1,
			updated_at timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the record stored under key.
func (p *PostgresStore) Get(ctx context.Context, key string) (Record, error) {
	if key == "" {
		return Record{}, ErrInvalidKey
	}
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	rec := Record{Key: key}
	err := p.pool.QueryRow(ctx,
		`SELECT value, version FROM `+p.table+` WHERE key = $1`, key,
	).Scan(&rec.Value, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Join(ErrStoreUnavailable, err)
	}
	return rec, nil
}

// Put stores value unconditionally and returns the new version.
func (p *PostgresStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	var version int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO `+p.table+` (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    version = `+p.table+`.version + 1,
		    updated_at = now()
		RETURNING version`, key, value,
	).Scan(&version)
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return version, nil
}

// Update stores value only if the current version equals expected.
func (p *PostgresStore) Update(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	var version int64
	err := p.pool.QueryRow(ctx, `
		UPDATE `+p.table+`
		SET value = $2, version = version + 1, updated_at = now()
		WHERE key = $1 AND version = $3
		RETURNING version`, key, value, expected,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish a missing key from a stale version.
		if _, getErr := p.Get(ctx, key); errors.Is(getErr, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return version, nil
}

// Delete removes the key.
func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `DELETE FROM `+p.table+` WHERE key = $1`, key)
	if err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all records whose key starts with prefix.
func (p *PostgresStore) List(ctx context.Context, prefix string) ([]Record, error) {
	ctx, cancel := boundCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT key, value, version FROM `+p.table+` WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version); err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return result, nil
}

// Close closes the underlying connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
