package models

import (
	"time"

	"github.com/google/uuid"
)

// BroadcastStatus is the closed set of broadcast lifecycle states.
type BroadcastStatus string

const (
	StatusReserved BroadcastStatus = "RESERVED"
	StatusReady    BroadcastStatus = "READY"
	StatusOnAir    BroadcastStatus = "ON_AIR"
	StatusEnded    BroadcastStatus = "ENDED"
	StatusCanceled BroadcastStatus = "CANCELED"
	StatusStopped  BroadcastStatus = "STOPPED"
	StatusVod      BroadcastStatus = "VOD"
)

// transitions is the lifecycle transition table. Absent entries are invalid.
var transitions = map[BroadcastStatus]map[BroadcastStatus]bool{
	StatusReserved: {StatusReady: true, StatusOnAir: true, StatusCanceled: true, StatusStopped: true},
	StatusReady:    {StatusOnAir: true, StatusCanceled: true, StatusStopped: true},
	StatusOnAir:    {StatusEnded: true, StatusStopped: true},
	StatusEnded:    {StatusVod: true, StatusStopped: true},
	StatusStopped:  {StatusVod: true},
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s BroadcastStatus) CanTransitionTo(next BroadcastStatus) bool {
	return transitions[s][next]
}

// Live reports whether the status belongs to the live group: still relevant
// to a currently-or-recently-live session.
func (s BroadcastStatus) Live() bool {
	return s == StatusOnAir || s == StatusReady || s == StatusEnded
}

// Terminal reports whether no further transition is possible.
func (s BroadcastStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s BroadcastStatus) Valid() bool {
	switch s {
	case StatusReserved, StatusReady, StatusOnAir, StatusEnded, StatusCanceled, StatusStopped, StatusVod:
		return true
	}
	return false
}

// Broadcast is a seller's live-commerce broadcast. Mutated only through the
// lifecycle service; never deleted (status becomes terminal instead).
type Broadcast struct {
	ID            uuid.UUID       `json:"id"`
	SellerID      uuid.UUID       `json:"seller_id"`
	CategoryID    uuid.UUID       `json:"category_id"`
	Title         string          `json:"title"`
	Notice        string          `json:"notice"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	ThumbnailURL  string          `json:"thumbnail_url,omitempty"`
	WaitScreenURL string          `json:"wait_screen_url,omitempty"`
	Status        BroadcastStatus `json:"status"`
	SessionID     string          `json:"session_id,omitempty"`
	StopReason    string          `json:"stop_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
