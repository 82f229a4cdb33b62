package moderation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livemarket/backend/internal/auth"
	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/internal/notify"
	"github.com/livemarket/backend/pkg/apperr"
)

// Store is the sanction persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, s *models.Sanction) error
	LatestByViewer(ctx context.Context, broadcastID, viewerID uuid.UUID) (*models.Sanction, error)
	ListByBroadcast(ctx context.Context, broadcastID uuid.UUID) ([]models.Sanction, error)
}

// BroadcastSource resolves broadcasts for authority checks.
type BroadcastSource interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Broadcast, error)
}

// Counter increments the broadcast's running sanction tally.
type Counter interface {
	IncrSanctions(ctx context.Context, broadcastID uuid.UUID) error
}

// Disconnector drops a viewer's media connection. Satisfied by the session
// provider.
type Disconnector interface {
	ForceDisconnect(ctx context.Context, sessionID, connectionID string) error
}

// SanctionInput is the validated input for issuing a sanction.
type SanctionInput struct {
	ViewerID     uuid.UUID
	Kind         models.SanctionKind
	Reason       string
	ConnectionID string
}

// Service issues and queries moderation sanctions.
type Service struct {
	store    Store
	source   BroadcastSource
	counter  Counter
	notifier notify.Notifier
	disc     Disconnector
	logger   *zap.Logger
}

// NewService creates a moderation service.
func NewService(store Store, source BroadcastSource, counter Counter, notifier notify.Notifier, disc Disconnector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, source: source, counter: counter, notifier: notifier, disc: disc, logger: logger}
}

// Sanction records a sanction against a viewer and pushes the alert. The
// records persist regardless of whether the broadcast later ends or is
// purged. The media disconnect for FORCED_EXIT is best-effort: a provider
// failure is logged, never returned, because the record and the alert are
// the source of truth for the ban.
func (s *Service) Sanction(ctx context.Context, broadcastID, actorID uuid.UUID, actorRole string, in SanctionInput) (*models.Sanction, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.ErrReasonRequired
	}
	if !in.Kind.Valid() {
		return nil, apperr.ErrInvalidRequest.With("unknown sanction kind")
	}

	b, err := s.source.Get(ctx, broadcastID)
	if err != nil {
		return nil, err
	}

	var actorKind models.ActorKind
	switch actorRole {
	case auth.RoleAdmin:
		actorKind = models.ActorAdmin
	case auth.RoleSeller:
		if b.SellerID != actorID {
			return nil, apperr.ErrForbidden
		}
		actorKind = models.ActorSeller
	default:
		return nil, apperr.ErrForbidden
	}

	sanction := &models.Sanction{
		BroadcastID: broadcastID,
		ViewerID:    in.ViewerID,
		ActorKind:   actorKind,
		ActorID:     actorID,
		Kind:        in.Kind,
		Reason:      in.Reason,
	}
	if err := s.store.Create(ctx, sanction); err != nil {
		return nil, err
	}

	if err := s.counter.IncrSanctions(ctx, broadcastID); err != nil {
		s.logger.Warn("sanction counter increment failed",
			zap.String("broadcast_id", broadcastID.String()), zap.Error(err))
	}

	if in.Kind == models.SanctionForcedExit && s.disc != nil && b.SessionID != "" && in.ConnectionID != "" {
		if err := s.disc.ForceDisconnect(ctx, b.SessionID, in.ConnectionID); err != nil {
			s.logger.Warn("force disconnect failed",
				zap.String("broadcast_id", broadcastID.String()),
				zap.String("connection_id", in.ConnectionID),
				zap.Error(err))
		}
	}

	if s.notifier != nil {
		s.notifier.NotifyOne(broadcastID, in.ViewerID, "sanction_alert", map[string]string{
			"kind":   string(in.Kind),
			"reason": in.Reason,
		})
		s.notifier.NotifyAll(broadcastID, "sanction_changed", map[string]string{
			"viewer_id": in.ViewerID.String(),
			"kind":      string(in.Kind),
		})
	}

	s.logger.Info("sanction issued",
		zap.String("broadcast_id", broadcastID.String()),
		zap.String("viewer_id", in.ViewerID.String()),
		zap.String("kind", string(in.Kind)),
		zap.String("actor_kind", string(actorKind)))
	return sanction, nil
}

// List returns the sanction history of a broadcast, visible to its owner
// and to admins.
func (s *Service) List(ctx context.Context, broadcastID, actorID uuid.UUID, actorRole string) ([]models.Sanction, error) {
	b, err := s.source.Get(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if actorRole != auth.RoleAdmin && b.SellerID != actorID {
		return nil, apperr.ErrForbidden
	}
	return s.store.ListByBroadcast(ctx, broadcastID)
}

// CanChat reports whether a viewer may send chat messages. A MUTE or
// FORCED_EXIT as the viewer's latest sanction blocks chat.
func (s *Service) CanChat(ctx context.Context, broadcastID, viewerID uuid.UUID) bool {
	latest, err := s.store.LatestByViewer(ctx, broadcastID, viewerID)
	if err != nil {
		s.logger.Warn("sanction lookup failed", zap.Error(err))
		return true
	}
	return latest == nil
}

// IsBanned reports whether a viewer's latest sanction is a forced exit,
// which blocks re-joining the broadcast.
func (s *Service) IsBanned(ctx context.Context, broadcastID, viewerID uuid.UUID) (bool, error) {
	latest, err := s.store.LatestByViewer(ctx, broadcastID, viewerID)
	if err != nil {
		return false, err
	}
	return latest != nil && latest.Kind == models.SanctionForcedExit, nil
}
