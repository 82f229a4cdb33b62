// Package viewersessions records per-connection watch intervals, the
// durable source for average watch time at finalization.
package viewersessions

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livemarket/backend/internal/models"
)

// Repository handles viewer_sessions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a viewer session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a viewer connection opens.
func (r *Repository) LogJoin(ctx context.Context, broadcastID, viewerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO viewer_sessions (broadcast_id, viewer_id, joined_at) VALUES ($1, $2, NOW())`,
		broadcastID, viewerID)
	return err
}

// LogLeave closes the viewer's most recent open session in the broadcast.
func (r *Repository) LogLeave(ctx context.Context, broadcastID, viewerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE viewer_sessions v
		 SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - v.joined_at))::BIGINT)
		 FROM (SELECT id FROM viewer_sessions WHERE broadcast_id = $1 AND viewer_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE v.id = sub.id`,
		broadcastID, viewerID)
	return err
}

// AverageWatchSeconds returns the mean closed-session watch time per
// distinct viewer, 0 when nobody watched.
func (r *Repository) AverageWatchSeconds(ctx context.Context, broadcastID uuid.UUID) (int64, error) {
	// numeric division truncated to whole seconds so the result scans as BIGINT
	const q = `SELECT COALESCE(FLOOR(SUM(watch_seconds) / NULLIF(COUNT(DISTINCT viewer_id), 0))::BIGINT, 0)
		FROM viewer_sessions WHERE broadcast_id = $1 AND left_at IS NOT NULL`
	var avg int64
	err := r.pool.QueryRow(ctx, q, broadcastID).Scan(&avg)
	return avg, err
}

// ListByBroadcast returns all watch intervals for a broadcast, newest first.
func (r *Repository) ListByBroadcast(ctx context.Context, broadcastID uuid.UUID) ([]models.ViewerSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, broadcast_id, viewer_id, joined_at, left_at, watch_seconds
		 FROM viewer_sessions WHERE broadcast_id = $1 ORDER BY joined_at DESC`,
		broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.ViewerSession
	for rows.Next() {
		var s models.ViewerSession
		if err := rows.Scan(&s.ID, &s.BroadcastID, &s.ViewerID, &s.JoinedAt, &s.LeftAt, &s.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
