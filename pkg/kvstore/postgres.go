package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DefaultPostgresTable is the cache table used when none is configured.
const DefaultPostgresTable = "cache_entries"

// PostgresConfig holds connection settings for a Postgres-backed client.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn" json:"dsn"`
	Table           string        `mapstructure:"table" json:"table"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// PostgresClient implements Client on a single cache table. Expiry lives in
// an expires_at column; expired rows are filtered on read and removed lazily
// or by PurgeExpired.
type PostgresClient struct {
	db    *sqlx.DB
	table string // quoted identifier, safe to interpolate
	name  string // raw table name, for derived identifiers
	nowFn func() time.Time
}

type cacheRow struct {
	Value     []byte     `db:"value"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// NewPostgresClient connects to Postgres and verifies the connection.
func NewPostgresClient(cfg PostgresConfig) (*PostgresClient, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return newPostgresClient(db, cfg.Table), nil
}

// NewPostgresClientFromDB wraps an existing connection. Useful when the
// caller manages the pool, and in tests.
func NewPostgresClientFromDB(db *sql.DB, table string) *PostgresClient {
	return newPostgresClient(sqlx.NewDb(db, "postgres"), table)
}

func newPostgresClient(db *sqlx.DB, table string) *PostgresClient {
	if table == "" {
		table = DefaultPostgresTable
	}
	return &PostgresClient{
		db:    db,
		table: pq.QuoteIdentifier(table),
		name:  table,
		nowFn: time.Now,
	}
}

// EnsureSchema creates the cache table and its expiry index if they do not
// exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		expires_at TIMESTAMPTZ
	)`, p.table)
	if _, err := p.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}

	createIndex := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (expires_at) WHERE expires_at IS NOT NULL`,
		pq.QuoteIdentifier(p.name+"_expires_at_idx"), p.table,
	)
	if _, err := p.db.ExecContext(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create expiry index: %w", err)
	}
	return nil
}

// Get implements Client.Get. An expired row is deleted and reported as a
// miss.
func (p *PostgresClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT value, expires_at FROM %s WHERE key = $1`, p.table)

	var row cacheRow
	if err := p.db.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if row.ExpiresAt != nil && !row.ExpiresAt.After(p.nowFn()) {
		if _, err := p.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	return row.Value, true, nil
}

// Set implements Client.Set as an upsert.
func (p *PostgresClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := p.nowFn().Add(ttl)
		expiresAt = &t
	}

	query := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, p.table)
	if _, err := p.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete implements Client.Delete
func (p *PostgresClient) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ANY($1)`, p.table)
	res, err := p.db.ExecContext(ctx, query, pq.Array(keys))
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted keys: %w", err)
	}
	return int(removed), nil
}

// Exists implements Client.Exists
func (p *PostgresClient) Exists(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2))`,
		p.table,
	)

	var exists bool
	if err := p.db.GetContext(ctx, &exists, query, key, p.nowFn()); err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return exists, nil
}

// TTL implements Client.TTL
func (p *PostgresClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	query := fmt.Sprintf(`SELECT expires_at FROM %s WHERE key = $1`, p.table)

	var expiresAt *time.Time
	if err := p.db.GetContext(ctx, &expiresAt, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to read ttl for key %s: %w", key, err)
	}

	if expiresAt == nil {
		return 0, nil
	}
	remaining := expiresAt.Sub(p.nowFn())
	if remaining <= 0 {
		return 0, ErrNotFound
	}
	return remaining, nil
}

// Keys implements Client.Keys, translating the glob into a LIKE pattern and
// filtering out expired rows.
func (p *PostgresClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	query := fmt.Sprintf(
		`SELECT key FROM %s WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > $2)`,
		p.table,
	)

	keys := []string{}
	if err := p.db.SelectContext(ctx, &keys, query, globToLike(pattern), p.nowFn()); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// PurgeExpired removes every expired row and reports how many went.
func (p *PostgresClient) PurgeExpired(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1`, p.table)
	res, err := p.db.ExecContext(ctx, query, p.nowFn())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired keys: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged keys: %w", err)
	}
	return int(removed), nil
}

// Ping implements Client.Ping
func (p *PostgresClient) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

// Close implements Client.Close
func (p *PostgresClient) Close() error {
	return p.db.Close()
}

// globToLike rewrites a glob pattern as a LIKE pattern: * and ? become % and
// _, and LIKE metacharacters are escaped.
func globToLike(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
