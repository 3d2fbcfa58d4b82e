package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pgTestNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestPostgresClient(t *testing.T) (*PostgresClient, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := NewPostgresClientFromDB(db, "cache_entries")
	client.nowFn = func() time.Time { return pgTestNow }
	return client, mock
}

func TestNewPostgresClient_RequiresDSN(t *testing.T) {
	_, err := NewPostgresClient(PostgresConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")
}

func TestNewPostgresClientFromDB_DefaultTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	client := NewPostgresClientFromDB(db, "")
	assert.Equal(t, `"cache_entries"`, client.table)
}

func TestPostgresClient_GetHit(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	future := pgTestNow.Add(time.Hour)
	mock.ExpectQuery(`SELECT value, expires_at FROM "cache_entries" WHERE key = \$1`).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow([]byte(`"v"`), future))

	data, found, err := client.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`"v"`), data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_GetMiss(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	mock.ExpectQuery(`SELECT value, expires_at FROM "cache_entries" WHERE key = \$1`).
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}))

	data, found, err := client.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_GetExpiredRowIsDeleted(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	past := pgTestNow.Add(-time.Minute)
	mock.ExpectQuery(`SELECT value, expires_at FROM "cache_entries" WHERE key = \$1`).
		WithArgs("stale").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow([]byte("v"), past))
	mock.ExpectExec(`DELETE FROM "cache_entries" WHERE key = ANY\(\$1\)`).
		WithArgs(pq.Array([]string{"stale"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, found, err := client.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_SetUpsert(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	mock.ExpectExec(`INSERT INTO "cache_entries" \(key, value, expires_at\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("k", []byte("v"), pgTestNow.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.Set(context.Background(), "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_SetWithoutTTLStoresNullExpiry(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	mock.ExpectExec(`INSERT INTO "cache_entries"`).
		WithArgs("k", []byte("v"), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.Set(context.Background(), "k", []byte("v"), 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_Delete(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	mock.ExpectExec(`DELETE FROM "cache_entries" WHERE key = ANY\(\$1\)`).
		WithArgs(pq.Array([]string{"a", "b"})).
		WillReturnResult(sqlmock.NewResult(0, 2))

	removed, err := client.Delete(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// No keys means no round trip.
	removed, err = client.Delete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_Exists(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM "cache_entries" WHERE key = \$1 AND \(expires_at IS NULL OR expires_at > \$2\)\)`).
		WithArgs("k", pgTestNow).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := client.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_TTL(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt any
		noRow     bool
		want      time.Duration
		wantErr   error
	}{
		{name: "remaining", expiresAt: pgTestNow.Add(90 * time.Second), want: 90 * time.Second},
		{name: "no expiry", expiresAt: nil, want: 0},
		{name: "already expired", expiresAt: pgTestNow.Add(-time.Second), wantErr: ErrNotFound},
		{name: "missing key", noRow: true, wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := newTestPostgresClient(t)

			rows := sqlmock.NewRows([]string{"expires_at"})
			if !tt.noRow {
				rows.AddRow(tt.expiresAt)
			}
			mock.ExpectQuery(`SELECT expires_at FROM "cache_entries" WHERE key = \$1`).
				WithArgs("k").
				WillReturnRows(rows)

			ttl, err := client.TTL(context.Background(), "k")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, ttl)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresClient_KeysTranslatesGlob(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	mock.ExpectQuery(`SELECT key FROM "cache_entries" WHERE key LIKE \$1`).
		WithArgs("user:%", pgTestNow).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("user:1").AddRow("user:2"))

	keys, err := client.Keys(context.Background(), "user:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1", "user:2"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_EnsureSchema(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "cache_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "cache_entries_expires_at_idx" ON "cache_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, client.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClient_PurgeExpired(t *testing.T) {
	client, mock := newTestPostgresClient(t)

	mock.ExpectExec(`DELETE FROM "cache_entries" WHERE expires_at IS NOT NULL AND expires_at <= \$1`).
		WithArgs(pgTestNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := client.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGlobToLike(t *testing.T) {
	tests := []struct {
		glob string
		want string
	}{
		{glob: "user:*", want: "user:%"},
		{glob: "user:?", want: "user:_"},
		{glob: "*", want: "%"},
		{glob: "plain", want: "plain"},
		{glob: "100%", want: `100\%`},
		{glob: "a_b", want: `a\_b`},
		{glob: `back\slash`, want: `back\\slash`},
	}
	for _, tt := range tests {
		t.Run(tt.glob, func(t *testing.T) {
			assert.Equal(t, tt.want, globToLike(tt.glob))
		})
	}
}
