package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/pkg/apperr"
)

// Repository handles broadcast persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a broadcast repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const broadcastColumns = `id, seller_id, category_id, title, notice, scheduled_at, started_at, ended_at,
	thumbnail_url, wait_screen_url, status, session_id, stop_reason, created_at, updated_at`

func scanBroadcast(row pgx.Row) (*models.Broadcast, error) {
	var b models.Broadcast
	err := row.Scan(&b.ID, &b.SellerID, &b.CategoryID, &b.Title, &b.Notice, &b.ScheduledAt,
		&b.StartedAt, &b.EndedAt, &b.ThumbnailURL, &b.WaitScreenURL, &b.Status, &b.SessionID,
		&b.StopReason, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrBroadcastNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts a broadcast with its product listings and qcards in one
// transaction. Display order follows input order.
func (r *Repository) Create(ctx context.Context, b *models.Broadcast, products []models.BroadcastProduct, qcards []models.Qcard) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `INSERT INTO broadcasts (id, seller_id, category_id, title, notice, scheduled_at, thumbnail_url, wait_screen_url, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, q, b.SellerID, b.CategoryID, b.Title, b.Notice, b.ScheduledAt, b.ThumbnailURL, b.WaitScreenURL, b.Status).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return err
	}
	if err := insertListings(ctx, tx, b.ID, products, qcards); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertListings(ctx context.Context, tx pgx.Tx, broadcastID uuid.UUID, products []models.BroadcastProduct, qcards []models.Qcard) error {
	const pq = `INSERT INTO broadcast_products (id, broadcast_id, product_id, price_cents, quantity, sort_order, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)`
	for i := range products {
		p := &products[i]
		if p.Status == "" {
			p.Status = models.ProductOnSale
		}
		if _, err := tx.Exec(ctx, pq, broadcastID, p.ProductID, p.PriceCents, p.Quantity, i, p.Status); err != nil {
			return err
		}
	}
	const cq = `INSERT INTO broadcast_qcards (id, broadcast_id, content, sort_order)
		VALUES (gen_random_uuid(), $1, $2, $3)`
	for i, card := range qcards {
		if _, err := tx.Exec(ctx, cq, broadcastID, card.Content, i); err != nil {
			return err
		}
	}
	return nil
}

// GetByID returns a broadcast by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	return scanBroadcast(r.pool.QueryRow(ctx, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1`, id))
}

// GetBySessionID resolves a broadcast from its provider session id.
func (r *Repository) GetBySessionID(ctx context.Context, sessionID string) (*models.Broadcast, error) {
	return scanBroadcast(r.pool.QueryRow(ctx,
		`SELECT `+broadcastColumns+` FROM broadcasts WHERE session_id = $1`, sessionID))
}

// List returns broadcasts filtered by optional seller and statuses, newest
// schedule first.
func (r *Repository) List(ctx context.Context, sellerID *uuid.UUID, statuses []models.BroadcastStatus) ([]models.Broadcast, error) {
	q := `SELECT ` + broadcastColumns + ` FROM broadcasts`
	var args []interface{}
	var cond string
	if sellerID != nil {
		cond = ` WHERE seller_id = $1`
		args = append(args, *sellerID)
	}
	if len(statuses) > 0 {
		if cond == "" {
			cond = ` WHERE status = ANY($1)`
		} else {
			cond += ` AND status = ANY($2)`
		}
		args = append(args, statuses)
	}
	rows, err := r.pool.Query(ctx, q+cond+` ORDER BY scheduled_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}

// CountReservedBySeller returns how many RESERVED broadcasts the seller has.
// Only meaningful under the seller's reservation lock.
func (r *Repository) CountReservedBySeller(ctx context.Context, sellerID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM broadcasts WHERE seller_id = $1 AND status = $2`
	var n int
	err := r.pool.QueryRow(ctx, q, sellerID, models.StatusReserved).Scan(&n)
	return n, err
}

// CountInSlot returns how many RESERVED/READY broadcasts are scheduled in
// [slotStart, slotEnd).
func (r *Repository) CountInSlot(ctx context.Context, slotStart, slotEnd time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM broadcasts
		WHERE scheduled_at >= $1 AND scheduled_at < $2 AND status = ANY($3)`
	var n int
	err := r.pool.QueryRow(ctx, q, slotStart, slotEnd,
		[]models.BroadcastStatus{models.StatusReserved, models.StatusReady}).Scan(&n)
	return n, err
}

// UpdateInfo updates the editable broadcast fields.
func (r *Repository) UpdateInfo(ctx context.Context, id uuid.UUID, title, notice, thumbnailURL, waitScreenURL string, scheduledAt *time.Time) error {
	const q = `UPDATE broadcasts
		SET title = $1, notice = $2, thumbnail_url = $3, wait_screen_url = $4,
		    scheduled_at = COALESCE($5, scheduled_at), updated_at = NOW()
		WHERE id = $6`
	_, err := r.pool.Exec(ctx, q, title, notice, thumbnailURL, waitScreenURL, scheduledAt, id)
	return err
}

// ReplaceListings wholesale-replaces a broadcast's products and qcards.
func (r *Repository) ReplaceListings(ctx context.Context, broadcastID uuid.UUID, products []models.BroadcastProduct, qcards []models.Qcard) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM broadcast_products WHERE broadcast_id = $1`, broadcastID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM broadcast_qcards WHERE broadcast_id = $1`, broadcastID); err != nil {
		return err
	}
	if err := insertListings(ctx, tx, broadcastID, products, qcards); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetStatus transitions a broadcast's status and bookkeeping columns.
// startedAt/endedAt are only written when non-nil.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status models.BroadcastStatus, sessionID, stopReason *string, startedAt, endedAt *time.Time) error {
	const q = `UPDATE broadcasts
		SET status = $1,
		    session_id = COALESCE($2, session_id),
		    stop_reason = COALESCE($3, stop_reason),
		    started_at = COALESCE($4, started_at),
		    ended_at = COALESCE($5, ended_at),
		    updated_at = NOW()
		WHERE id = $6`
	ct, err := r.pool.Exec(ctx, q, status, sessionID, stopReason, startedAt, endedAt, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.ErrBroadcastNotFound
	}
	return nil
}

// ListProducts returns a broadcast's product listings in display order.
func (r *Repository) ListProducts(ctx context.Context, broadcastID uuid.UUID) ([]models.BroadcastProduct, error) {
	const q = `SELECT id, broadcast_id, product_id, price_cents, quantity, sort_order, pinned, status, created_at
		FROM broadcast_products WHERE broadcast_id = $1 ORDER BY sort_order`
	rows, err := r.pool.Query(ctx, q, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.BroadcastProduct
	for rows.Next() {
		var p models.BroadcastProduct
		if err := rows.Scan(&p.ID, &p.BroadcastID, &p.ProductID, &p.PriceCents, &p.Quantity, &p.SortOrder, &p.Pinned, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ListQcards returns a broadcast's qcards in display order.
func (r *Repository) ListQcards(ctx context.Context, broadcastID uuid.UUID) ([]models.Qcard, error) {
	const q = `SELECT id, broadcast_id, content, sort_order
		FROM broadcast_qcards WHERE broadcast_id = $1 ORDER BY sort_order`
	rows, err := r.pool.Query(ctx, q, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Qcard
	for rows.Next() {
		var c models.Qcard
		if err := rows.Scan(&c.ID, &c.BroadcastID, &c.Content, &c.SortOrder); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// PinProduct clears the broadcast's existing pin and pins the named listing,
// in one transaction. The partial unique index on (broadcast_id) WHERE pinned
// backstops the single-pin invariant.
func (r *Repository) PinProduct(ctx context.Context, broadcastID, listingID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE broadcast_products SET pinned = FALSE WHERE broadcast_id = $1 AND pinned`, broadcastID); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx,
		`UPDATE broadcast_products SET pinned = TRUE WHERE id = $1 AND broadcast_id = $2`, listingID, broadcastID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return apperr.ErrProductNotFound
	}
	return tx.Commit(ctx)
}

// CategoryExists reports whether a category row exists.
func (r *Repository) CategoryExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM categories WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// SellerExists reports whether a seller row exists.
func (r *Repository) SellerExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM sellers WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListDue returns RESERVED/READY broadcasts whose scheduled time is at or
// before now, for the sweep.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]models.Broadcast, error) {
	const q = `SELECT ` + broadcastColumns + ` FROM broadcasts
		WHERE scheduled_at <= $1 AND status = ANY($2)
		ORDER BY scheduled_at`
	rows, err := r.pool.Query(ctx, q, now,
		[]models.BroadcastStatus{models.StatusReserved, models.StatusReady})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}

// ListLiveAround returns live-group broadcasts scheduled within the window
// around now, for the sweep's auto-end pass.
func (r *Repository) ListLiveAround(ctx context.Context, now time.Time, window time.Duration) ([]models.Broadcast, error) {
	const q = `SELECT ` + broadcastColumns + ` FROM broadcasts
		WHERE scheduled_at BETWEEN $1 AND $2 AND status = ANY($3)
		ORDER BY scheduled_at`
	rows, err := r.pool.Query(ctx, q, now.Add(-window), now.Add(window),
		[]models.BroadcastStatus{models.StatusOnAir, models.StatusReady, models.StatusEnded})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}
