package models

import (
	"time"

	"github.com/google/uuid"
)

// BroadcastResult holds durable post-hoc statistics for one broadcast.
// Created exactly once at finalization from the ephemeral aggregation
// snapshot; read-only thereafter.
type BroadcastResult struct {
	ID              uuid.UUID  `json:"id"`
	BroadcastID     uuid.UUID  `json:"broadcast_id"`
	TotalViewers    int64      `json:"total_viewers"`
	PeakViewers     int64      `json:"peak_viewers"`
	PeakAt          *time.Time `json:"peak_at,omitempty"`
	TotalLikes      int64      `json:"total_likes"`
	TotalReports    int64      `json:"total_reports"`
	TotalChats      int64      `json:"total_chats"`
	TotalSalesCents int64      `json:"total_sales_cents"`
	AvgWatchSeconds float64    `json:"avg_watch_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
}
