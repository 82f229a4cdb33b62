package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerSession is one open-connection interval of a viewer in a broadcast,
// used to derive average watch time at finalization.
type ViewerSession struct {
	ID           uuid.UUID  `json:"id"`
	BroadcastID  uuid.UUID  `json:"broadcast_id"`
	ViewerID     uuid.UUID  `json:"viewer_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}
