package models

import (
	"time"

	"github.com/google/uuid"
)

// VodVisibility controls who can watch a finalized recording.
type VodVisibility string

const (
	VodPublic    VodVisibility = "PUBLIC"
	VodPrivate   VodVisibility = "PRIVATE"
	VodAdminLock VodVisibility = "ADMIN_LOCK"
)

// Vod is the finalized recording of a broadcast. Created once per
// broadcast by the finalization pipeline.
type Vod struct {
	ID              uuid.UUID     `json:"id"`
	BroadcastID     uuid.UUID     `json:"broadcast_id"`
	RecordingID     string        `json:"recording_id,omitempty"`
	URL             string        `json:"url"`
	FileSize        int64         `json:"file_size"`
	DurationSeconds float64       `json:"duration_seconds"`
	Visibility      VodVisibility `json:"visibility"`
	CreatedAt       time.Time     `json:"created_at"`
}
