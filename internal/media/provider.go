// Package media defines the boundary to the external media session
// provider: session and token issuance, forced disconnect, and recording
// access. The provider's internals are not implemented here.
package media

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Role is the connection role requested when issuing a token.
type Role string

const (
	RolePublisher  Role = "PUBLISHER"
	RoleSubscriber Role = "SUBSCRIBER"
)

// Recording is provider-side recording metadata.
type Recording struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"sessionId"`
	URL             string  `json:"url"`
	Size            int64   `json:"size"`
	DurationSeconds float64 `json:"duration"`
	Status          string  `json:"status"`
}

// SessionProvider is the capability interface to the media provider.
type SessionProvider interface {
	// CreateSession creates (or re-resolves) the provider session for a
	// broadcast and returns its session id.
	CreateSession(ctx context.Context, broadcastID uuid.UUID) (string, error)
	// CreateToken issues a connection token for the session with the given role.
	CreateToken(ctx context.Context, sessionID string, role Role, data string) (string, error)
	// CloseSession tears down the session and disconnects all participants.
	CloseSession(ctx context.Context, sessionID string) error
	// ForceDisconnect evicts a single connection from the session.
	ForceDisconnect(ctx context.Context, sessionID, connectionID string) error
	// StartRecording begins recording the session and returns the recording id.
	StartRecording(ctx context.Context, sessionID string) (string, error)
	// StopRecording stops an in-progress recording.
	StopRecording(ctx context.Context, recordingID string) error
	// GetRecording fetches recording metadata.
	GetRecording(ctx context.Context, recordingID string) (*Recording, error)
	// DownloadRecording streams the recording bytes from the provider's
	// recording endpoint. Caller must close the body.
	DownloadRecording(ctx context.Context, url string) (io.ReadCloser, int64, error)
}
