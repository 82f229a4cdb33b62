package models

import (
	"time"

	"github.com/google/uuid"
)

// SanctionKind is the closed set of moderation sanction kinds.
type SanctionKind string

const (
	SanctionMute       SanctionKind = "MUTE"
	SanctionForcedExit SanctionKind = "FORCED_EXIT"
)

// Valid reports whether k is a known sanction kind.
func (k SanctionKind) Valid() bool {
	return k == SanctionMute || k == SanctionForcedExit
}

// ActorKind identifies who issued a sanction or admin operation.
type ActorKind string

const (
	ActorSeller ActorKind = "SELLER"
	ActorAdmin  ActorKind = "ADMIN"
)

// Sanction is an immutable moderation record. Append-only.
type Sanction struct {
	ID          uuid.UUID    `json:"id"`
	BroadcastID uuid.UUID    `json:"broadcast_id"`
	ViewerID    uuid.UUID    `json:"viewer_id"`
	ActorKind   ActorKind    `json:"actor_kind"`
	ActorID     uuid.UUID    `json:"actor_id"`
	Kind        SanctionKind `json:"kind"`
	Reason      string       `json:"reason"`
	CreatedAt   time.Time    `json:"created_at"`
}
