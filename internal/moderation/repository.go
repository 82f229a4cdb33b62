package moderation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livemarket/backend/internal/models"
)

// Repository handles sanction persistence. Sanctions are append-only.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a moderation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a sanction record.
func (r *Repository) Create(ctx context.Context, s *models.Sanction) error {
	const query = `INSERT INTO sanctions (id, broadcast_id, viewer_id, actor_kind, actor_id, kind, reason)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query, s.BroadcastID, s.ViewerID, s.ActorKind, s.ActorID, s.Kind, s.Reason).
		Scan(&s.ID, &s.CreatedAt)
}

// LatestByViewer returns the most recent sanction against a viewer in a
// broadcast, or nil when the viewer has none.
func (r *Repository) LatestByViewer(ctx context.Context, broadcastID, viewerID uuid.UUID) (*models.Sanction, error) {
	const query = `SELECT id, broadcast_id, viewer_id, actor_kind, actor_id, kind, reason, created_at
		FROM sanctions
		WHERE broadcast_id = $1 AND viewer_id = $2
		ORDER BY created_at DESC
		LIMIT 1`
	var s models.Sanction
	err := r.pool.QueryRow(ctx, query, broadcastID, viewerID).
		Scan(&s.ID, &s.BroadcastID, &s.ViewerID, &s.ActorKind, &s.ActorID, &s.Kind, &s.Reason, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByBroadcast returns all sanctions for a broadcast, newest first.
func (r *Repository) ListByBroadcast(ctx context.Context, broadcastID uuid.UUID) ([]models.Sanction, error) {
	const query = `SELECT id, broadcast_id, viewer_id, actor_kind, actor_id, kind, reason, created_at
		FROM sanctions
		WHERE broadcast_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Sanction
	for rows.Next() {
		var s models.Sanction
		if err := rows.Scan(&s.ID, &s.BroadcastID, &s.ViewerID, &s.ActorKind, &s.ActorID, &s.Kind, &s.Reason, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
