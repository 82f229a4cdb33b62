package vod

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/pkg/apperr"
)

// Repository handles vods and broadcast_results.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a VOD repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateVod inserts the finalized recording record.
func (r *Repository) CreateVod(ctx context.Context, v *models.Vod) error {
	const q = `INSERT INTO vods (id, broadcast_id, recording_id, url, file_size, duration_seconds, visibility)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, v.BroadcastID, v.RecordingID, v.URL, v.FileSize, v.DurationSeconds, v.Visibility).
		Scan(&v.ID, &v.CreatedAt)
}

// VodByBroadcast returns the broadcast's VOD, or nil when not finalized yet.
func (r *Repository) VodByBroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.Vod, error) {
	const q = `SELECT id, broadcast_id, recording_id, url, file_size, duration_seconds, visibility, created_at
		FROM vods WHERE broadcast_id = $1`
	var v models.Vod
	err := r.pool.QueryRow(ctx, q, broadcastID).
		Scan(&v.ID, &v.BroadcastID, &v.RecordingID, &v.URL, &v.FileSize, &v.DurationSeconds, &v.Visibility, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SetVisibility updates a VOD's visibility (admin lock/unlock).
func (r *Repository) SetVisibility(ctx context.Context, vodID uuid.UUID, visibility models.VodVisibility) error {
	ct, err := r.pool.Exec(ctx, `UPDATE vods SET visibility = $1 WHERE id = $2`, visibility, vodID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.ErrBroadcastNotFound
	}
	return nil
}

// ListPublic returns publicly watchable VODs, newest first.
func (r *Repository) ListPublic(ctx context.Context) ([]models.Vod, error) {
	const q = `SELECT id, broadcast_id, recording_id, url, file_size, duration_seconds, visibility, created_at
		FROM vods WHERE visibility = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, models.VodPublic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Vod
	for rows.Next() {
		var v models.Vod
		if err := rows.Scan(&v.ID, &v.BroadcastID, &v.RecordingID, &v.URL, &v.FileSize, &v.DurationSeconds, &v.Visibility, &v.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// CreateResult inserts the durable statistics record.
func (r *Repository) CreateResult(ctx context.Context, res *models.BroadcastResult) error {
	const q = `INSERT INTO broadcast_results (id, broadcast_id, total_viewers, peak_viewers, peak_at, total_likes, total_reports, total_chats, total_sales_cents, avg_watch_seconds)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, res.BroadcastID, res.TotalViewers, res.PeakViewers, res.PeakAt,
		res.TotalLikes, res.TotalReports, res.TotalChats, res.TotalSalesCents, res.AvgWatchSeconds).
		Scan(&res.ID, &res.CreatedAt)
}

// ResultByBroadcast returns the durable statistics for a broadcast.
func (r *Repository) ResultByBroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.BroadcastResult, error) {
	const q = `SELECT id, broadcast_id, total_viewers, peak_viewers, peak_at, total_likes, total_reports, total_chats, total_sales_cents, avg_watch_seconds, created_at
		FROM broadcast_results WHERE broadcast_id = $1`
	var res models.BroadcastResult
	err := r.pool.QueryRow(ctx, q, broadcastID).
		Scan(&res.ID, &res.BroadcastID, &res.TotalViewers, &res.PeakViewers, &res.PeakAt,
			&res.TotalLikes, &res.TotalReports, &res.TotalChats, &res.TotalSalesCents,
			&res.AvgWatchSeconds, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}
