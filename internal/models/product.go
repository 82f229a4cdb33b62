package models

import (
	"time"

	"github.com/google/uuid"
)

// Broadcast product listing statuses.
const (
	ProductOnSale  = "ON_SALE"
	ProductSoldOut = "SOLD_OUT"
	ProductHidden  = "HIDDEN"
)

// BroadcastProduct is a broadcast-scoped sale listing for a catalog product.
// At most one listing per broadcast is pinned at any time.
type BroadcastProduct struct {
	ID          uuid.UUID `json:"id"`
	BroadcastID uuid.UUID `json:"broadcast_id"`
	ProductID   uuid.UUID `json:"product_id"`
	PriceCents  int64     `json:"price_cents"`
	Quantity    int       `json:"quantity"`
	SortOrder   int       `json:"sort_order"`
	Pinned      bool      `json:"pinned"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Qcard is a short cue card shown to the seller during the broadcast.
type Qcard struct {
	ID          uuid.UUID `json:"id"`
	BroadcastID uuid.UUID `json:"broadcast_id"`
	Content     string    `json:"content"`
	SortOrder   int       `json:"sort_order"`
}
