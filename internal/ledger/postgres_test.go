package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Тесты Postgres запускаются только с LEDGER_TEST_POSTGRES_DSN.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN не задан")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func listeners(t *testing.T, pool *pgxpool.Pool, channel string) int {
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM pg_stat_activity
		WHERE query = $1 AND pid <> pg_backend_pid()
	`, `LISTEN "`+channel+`"`).Scan(&n))
	return n
}

func TestPostgres_ListenerConnectionNotReturnedToPool(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t)
	const channel = "ledger_listener_test"

	p, err := NewPostgres(ctx, pool, channel)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return listeners(t, pool, channel) == 1 },
		5*time.Second, 50*time.Millisecond)

	require.NoError(t, p.Close())
	assert.Eventually(t, func() bool { return listeners(t, pool, channel) == 0 },
		5*time.Second, 50*time.Millisecond)

	// Ни одно соединение пула не слушает канал
	idle := pool.Stat().IdleConns()
	conns := make([]*pgxpool.Conn, 0, idle)
	defer func() {
		for _, c := range conns {
			c.Release()
		}
	}()
	for i := int32(0); i < idle; i++ {
		c, err := pool.Acquire(ctx)
		require.NoError(t, err)
		conns = append(conns, c)
		var n int
		require.NoError(t, c.QueryRow(ctx, `SELECT COUNT(*) FROM pg_listening_channels()`).Scan(&n))
		assert.Zero(t, n)
	}
}
