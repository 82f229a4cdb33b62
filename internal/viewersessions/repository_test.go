package viewersessions

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/livemarket/backend/pkg/database"
)

// Needs a real database; set TEST_DATABASE_URL to run.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(context.Background(), pool))
	return pool
}

func seedBroadcast(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	sellerID, categoryID, broadcastID := uuid.New(), uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO sellers (id, name) VALUES ($1, $2)`, sellerID, "seller-"+sellerID.String())
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO categories (id, name) VALUES ($1, $2)`, categoryID, "category-"+categoryID.String())
	require.NoError(t, err)
	_, err = pool.Exec(ctx,
		`INSERT INTO broadcasts (id, seller_id, category_id, title, scheduled_at) VALUES ($1, $2, $3, $4, NOW())`,
		broadcastID, sellerID, categoryID, "watch time fixture")
	require.NoError(t, err)
	return broadcastID
}

func TestAverageWatchSecondsRoundsFractionalMean(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	broadcastID := seedBroadcast(t, pool)

	// 3 viewers, 10 seconds total: the mean is fractional and must still
	// come back as whole seconds.
	for i, secs := range []int64{3, 3, 4} {
		_, err := pool.Exec(ctx,
			`INSERT INTO viewer_sessions (broadcast_id, viewer_id, joined_at, left_at, watch_seconds)
			 VALUES ($1, $2, $3, $4, $5)`,
			broadcastID, uuid.New(), time.Now().Add(-time.Minute), time.Now(), secs)
		require.NoError(t, err, fmt.Sprintf("seeding session %d", i))
	}

	avg, err := repo.AverageWatchSeconds(ctx, broadcastID)
	require.NoError(t, err)
	require.Equal(t, int64(3), avg)
}

func TestAverageWatchSecondsIgnoresOpenSessionsAndCountsViewersOnce(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	broadcastID := seedBroadcast(t, pool)
	viewerID := uuid.New()

	// Two closed sessions from one viewer plus an open one: open rows are
	// excluded, the viewer is counted once.
	for _, secs := range []int64{10, 20} {
		_, err := pool.Exec(ctx,
			`INSERT INTO viewer_sessions (broadcast_id, viewer_id, joined_at, left_at, watch_seconds)
			 VALUES ($1, $2, $3, $4, $5)`,
			broadcastID, viewerID, time.Now().Add(-time.Minute), time.Now(), secs)
		require.NoError(t, err)
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO viewer_sessions (broadcast_id, viewer_id, joined_at) VALUES ($1, $2, NOW())`,
		broadcastID, viewerID)
	require.NoError(t, err)

	avg, err := repo.AverageWatchSeconds(ctx, broadcastID)
	require.NoError(t, err)
	require.Equal(t, int64(30), avg)

	empty, err := repo.AverageWatchSeconds(ctx, uuid.New())
	require.NoError(t, err)
	require.Zero(t, empty)
}
