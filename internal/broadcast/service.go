package broadcast

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livemarket/backend/config"
	"github.com/livemarket/backend/internal/engage"
	"github.com/livemarket/backend/internal/media"
	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/internal/notify"
	"github.com/livemarket/backend/pkg/apperr"
)

const (
	reservationLockTTL = 3 * time.Second
	maxQcardLen        = 50
)

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, b *models.Broadcast, products []models.BroadcastProduct, qcards []models.Qcard) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error)
	List(ctx context.Context, sellerID *uuid.UUID, statuses []models.BroadcastStatus) ([]models.Broadcast, error)
	CountReservedBySeller(ctx context.Context, sellerID uuid.UUID) (int, error)
	CountInSlot(ctx context.Context, slotStart, slotEnd time.Time) (int, error)
	UpdateInfo(ctx context.Context, id uuid.UUID, title, notice, thumbnailURL, waitScreenURL string, scheduledAt *time.Time) error
	ReplaceListings(ctx context.Context, broadcastID uuid.UUID, products []models.BroadcastProduct, qcards []models.Qcard) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.BroadcastStatus, sessionID, stopReason *string, startedAt, endedAt *time.Time) error
	ListProducts(ctx context.Context, broadcastID uuid.UUID) ([]models.BroadcastProduct, error)
	ListQcards(ctx context.Context, broadcastID uuid.UUID) ([]models.Qcard, error)
	PinProduct(ctx context.Context, broadcastID, listingID uuid.UUID) error
	CategoryExists(ctx context.Context, id uuid.UUID) (bool, error)
	SellerExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Locker serializes the per-seller reservation check.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Presence is the engagement surface the lifecycle calls into.
type Presence interface {
	Enter(ctx context.Context, broadcastID uuid.UUID, viewerKey string) error
	Exit(ctx context.Context, broadcastID uuid.UUID, viewerKey string) error
	Purge(ctx context.Context, broadcastID uuid.UUID) error
	TotalSnapshot(ctx context.Context, broadcastID uuid.UUID) (*engage.Snapshot, error)
}

// SanctionSource answers whether a viewer is banned from a broadcast.
type SanctionSource interface {
	IsBanned(ctx context.Context, broadcastID, viewerID uuid.UUID) (bool, error)
}

// ResultSource reads the durable result record once a broadcast is finalized.
type ResultSource interface {
	ResultByBroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.BroadcastResult, error)
}

// Service owns the broadcast lifecycle state machine.
type Service struct {
	store     Store
	locker    Locker
	presence  Presence
	sanctions SanctionSource
	results   ResultSource
	provider  media.SessionProvider
	notifier  notify.Notifier
	cfg       config.BroadcastConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the broadcast lifecycle service.
func NewService(store Store, locker Locker, presence Presence, sanctions SanctionSource, results ResultSource, provider media.SessionProvider, notifier notify.Notifier, cfg config.BroadcastConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		locker:    locker,
		presence:  presence,
		sanctions: sanctions,
		results:   results,
		provider:  provider,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// ProductInput is one sale listing in a create/update request.
type ProductInput struct {
	ProductID  uuid.UUID
	PriceCents int64
	Quantity   int
}

// CreateInput is the validated input for reserving a broadcast.
type CreateInput struct {
	CategoryID    uuid.UUID
	Title         string
	Notice        string
	ScheduledAt   time.Time
	ThumbnailURL  string
	WaitScreenURL string
	Products      []ProductInput
	Qcards        []string
}

func (s *Service) validateListings(products []ProductInput, qcards []string) error {
	if len(products) > s.cfg.MaxProducts {
		return apperr.ErrInvalidRequest.With("too many products")
	}
	if len(qcards) > s.cfg.MaxQcards {
		return apperr.ErrInvalidRequest.With("too many qcards")
	}
	for _, p := range products {
		if p.PriceCents < 0 || p.Quantity < 0 {
			return apperr.ErrInvalidRequest.With("negative price or quantity")
		}
	}
	for _, c := range qcards {
		if len([]rune(c)) > maxQcardLen {
			return apperr.ErrInvalidRequest.With("qcard exceeds 50 characters")
		}
	}
	return nil
}

func toListings(products []ProductInput, qcards []string) ([]models.BroadcastProduct, []models.Qcard) {
	ps := make([]models.BroadcastProduct, 0, len(products))
	for _, p := range products {
		ps = append(ps, models.BroadcastProduct{
			ProductID:  p.ProductID,
			PriceCents: p.PriceCents,
			Quantity:   p.Quantity,
			Status:     models.ProductOnSale,
		})
	}
	qs := make([]models.Qcard, 0, len(qcards))
	for _, c := range qcards {
		qs = append(qs, models.Qcard{Content: c})
	}
	return ps, qs
}

// slotBounds returns the half-open 30-minute slot containing t.
func (s *Service) slotBounds(t time.Time) (time.Time, time.Time) {
	slot := time.Duration(s.cfg.SlotMinutes) * time.Minute
	start := t.Truncate(slot)
	return start, start.Add(slot)
}

// Create reserves a broadcast. The reservation-count check runs inside the
// seller's lock: two concurrent creates could otherwise both read the same
// count and both proceed past the limit.
func (s *Service) Create(ctx context.Context, sellerID uuid.UUID, in CreateInput) (*models.Broadcast, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, apperr.ErrInvalidRequest.With("title is required")
	}
	if in.ScheduledAt.IsZero() {
		return nil, apperr.ErrInvalidRequest.With("scheduled_at is required")
	}
	if err := s.validateListings(in.Products, in.Qcards); err != nil {
		return nil, err
	}

	ok, err := s.store.SellerExists(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrSellerNotFound
	}
	ok, err = s.store.CategoryExists(ctx, in.CategoryID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrCategoryNotFound
	}

	lockKey := "lock:reservation:" + sellerID.String()
	acquired, err := s.locker.Acquire(ctx, lockKey, reservationLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, apperr.ErrReservationBusy
	}
	defer func() {
		if err := s.locker.Release(context.Background(), lockKey); err != nil {
			s.logger.Warn("reservation lock release failed", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	reserved, err := s.store.CountReservedBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if reserved >= s.cfg.MaxReservedPerSeller {
		return nil, apperr.ErrReservationLimit
	}

	slotStart, slotEnd := s.slotBounds(in.ScheduledAt)
	inSlot, err := s.store.CountInSlot(ctx, slotStart, slotEnd)
	if err != nil {
		return nil, err
	}
	if inSlot >= s.cfg.MaxPerSlot {
		return nil, apperr.ErrSlotFull
	}

	b := &models.Broadcast{
		SellerID:      sellerID,
		CategoryID:    in.CategoryID,
		Title:         in.Title,
		Notice:        in.Notice,
		ScheduledAt:   in.ScheduledAt,
		ThumbnailURL:  in.ThumbnailURL,
		WaitScreenURL: in.WaitScreenURL,
		Status:        models.StatusReserved,
	}
	products, qcards := toListings(in.Products, in.Qcards)
	if err := s.store.Create(ctx, b, products, qcards); err != nil {
		return nil, err
	}
	s.logger.Info("broadcast reserved",
		zap.String("broadcast_id", b.ID.String()),
		zap.String("seller_id", sellerID.String()),
		zap.Time("scheduled_at", b.ScheduledAt))
	return b, nil
}

// UpdateInput is the input for editing a broadcast. Products/Qcards are a
// wholesale replacement and only honored pre-live.
type UpdateInput struct {
	Title         string
	Notice        string
	ScheduledAt   *time.Time
	ThumbnailURL  string
	WaitScreenURL string
	Products      []ProductInput
	Qcards        []string
}

// Update edits a broadcast. Full edits are allowed in RESERVED/CANCELED;
// while live only the display fields change and viewers are notified.
func (s *Service) Update(ctx context.Context, broadcastID, sellerID uuid.UUID, in UpdateInput) (*models.Broadcast, error) {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.SellerID != sellerID {
		return nil, apperr.ErrForbidden
	}

	switch {
	case b.Status == models.StatusReserved || b.Status == models.StatusCanceled:
		if err := s.validateListings(in.Products, in.Qcards); err != nil {
			return nil, err
		}
		if err := s.store.UpdateInfo(ctx, broadcastID, in.Title, in.Notice, in.ThumbnailURL, in.WaitScreenURL, in.ScheduledAt); err != nil {
			return nil, err
		}
		products, qcards := toListings(in.Products, in.Qcards)
		if err := s.store.ReplaceListings(ctx, broadcastID, products, qcards); err != nil {
			return nil, err
		}
	case b.Status.Live():
		// Schedule and listings are frozen once the broadcast is live.
		if err := s.store.UpdateInfo(ctx, broadcastID, in.Title, in.Notice, in.ThumbnailURL, in.WaitScreenURL, nil); err != nil {
			return nil, err
		}
		if s.notifier != nil {
			s.notifier.NotifyAll(broadcastID, "broadcast_updated", map[string]string{
				"title":  in.Title,
				"notice": in.Notice,
			})
		}
	default:
		return nil, apperr.ErrInvalidStatus
	}
	return s.store.GetByID(ctx, broadcastID)
}

// Cancel is the seller-initiated cancellation, allowed from RESERVED/READY.
func (s *Service) Cancel(ctx context.Context, broadcastID, sellerID uuid.UUID, reason string) error {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b.SellerID != sellerID {
		return apperr.ErrForbidden
	}
	if !b.Status.CanTransitionTo(models.StatusCanceled) {
		return apperr.ErrInvalidStatus
	}
	if err := s.store.SetStatus(ctx, broadcastID, models.StatusCanceled, nil, &reason, nil, nil); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifyAll(broadcastID, "canceled", map[string]string{"reason": reason})
	}
	s.logger.Info("broadcast canceled", zap.String("broadcast_id", broadcastID.String()), zap.String("reason", reason))
	return nil
}

// StartResult is returned from a successful Start.
type StartResult struct {
	Broadcast *models.Broadcast `json:"broadcast"`
	SessionID string            `json:"session_id"`
	Token     string            `json:"token"`
}

// Start puts the broadcast on air. The provider session and publisher token
// are obtained first: a provider failure surfaces to the caller with the
// status untouched, so the seller can simply retry.
func (s *Service) Start(ctx context.Context, broadcastID, sellerID uuid.UUID) (*StartResult, error) {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.SellerID != sellerID {
		return nil, apperr.ErrForbidden
	}
	if !b.Status.CanTransitionTo(models.StatusOnAir) {
		return nil, apperr.ErrInvalidStatus
	}
	now := s.now()
	if now.Before(b.ScheduledAt) {
		return nil, apperr.ErrBeforeSchedule
	}

	sessionID, err := s.provider.CreateSession(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	token, err := s.provider.CreateToken(ctx, sessionID, media.RolePublisher, sellerID.String())
	if err != nil {
		return nil, err
	}

	if err := s.store.SetStatus(ctx, broadcastID, models.StatusOnAir, &sessionID, nil, &now, nil); err != nil {
		return nil, err
	}

	if _, err := s.provider.StartRecording(ctx, sessionID); err != nil {
		s.logger.Warn("recording start failed",
			zap.String("broadcast_id", broadcastID.String()),
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	if s.notifier != nil {
		s.notifier.NotifyAll(broadcastID, "started", nil)
	}
	s.logger.Info("broadcast on air",
		zap.String("broadcast_id", broadcastID.String()),
		zap.String("session_id", sessionID))

	b, err = s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	return &StartResult{Broadcast: b, SessionID: sessionID, Token: token}, nil
}

// JoinResult is returned from a successful Join.
type JoinResult struct {
	Broadcast *models.Broadcast `json:"broadcast"`
	Token     string            `json:"token,omitempty"`
}

// Join admits a viewer: rejects stopped and non-live broadcasts and banned
// viewers, registers presence, and issues a subscriber token when a session
// is up.
func (s *Service) Join(ctx context.Context, broadcastID, viewerID uuid.UUID) (*JoinResult, error) {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.StatusStopped {
		return nil, apperr.ErrBroadcastStopped
	}
	if !b.Status.Live() {
		return nil, apperr.ErrInvalidStatus
	}
	banned, err := s.sanctions.IsBanned(ctx, broadcastID, viewerID)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, apperr.ErrViewerBanned
	}

	if err := s.presence.Enter(ctx, broadcastID, viewerID.String()); err != nil {
		return nil, err
	}

	var token string
	if b.Status == models.StatusOnAir && b.SessionID != "" {
		token, err = s.provider.CreateToken(ctx, b.SessionID, media.RoleSubscriber, viewerID.String())
		if err != nil {
			// Roll presence back so a failed join is not counted as a tab.
			if exitErr := s.presence.Exit(ctx, broadcastID, viewerID.String()); exitErr != nil {
				s.logger.Warn("presence rollback failed", zap.Error(exitErr))
			}
			return nil, err
		}
	}
	return &JoinResult{Broadcast: b, Token: token}, nil
}

// Leave drops one of the viewer's presence references.
func (s *Service) Leave(ctx context.Context, broadcastID, viewerID uuid.UUID) error {
	return s.presence.Exit(ctx, broadcastID, viewerID.String())
}

// End closes the session and transitions to ENDED. Ending an already
// ENDED/STOPPED broadcast is a no-op.
func (s *Service) End(ctx context.Context, broadcastID, actorID uuid.UUID, actorIsOwnerCheck bool) error {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if actorIsOwnerCheck && b.SellerID != actorID {
		return apperr.ErrForbidden
	}
	if b.Status == models.StatusEnded || b.Status == models.StatusStopped {
		return nil
	}
	if !b.Status.CanTransitionTo(models.StatusEnded) {
		return apperr.ErrInvalidStatus
	}

	if b.SessionID != "" {
		if err := s.provider.CloseSession(ctx, b.SessionID); err != nil {
			s.logger.Warn("session close failed",
				zap.String("broadcast_id", broadcastID.String()),
				zap.String("session_id", b.SessionID),
				zap.Error(err))
		}
	}
	now := s.now()
	if err := s.store.SetStatus(ctx, broadcastID, models.StatusEnded, nil, nil, nil, &now); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifyAll(broadcastID, "ended", nil)
	}
	s.logger.Info("broadcast ended", zap.String("broadcast_id", broadcastID.String()))
	return nil
}

// ForceStop is the admin kill switch: requires a non-blank reason, closes
// the session, purges all ephemeral counters, and notifies viewers.
func (s *Service) ForceStop(ctx context.Context, broadcastID uuid.UUID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperr.ErrReasonRequired
	}
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if !b.Status.CanTransitionTo(models.StatusStopped) {
		return apperr.ErrInvalidStatus
	}

	if b.SessionID != "" {
		if err := s.provider.CloseSession(ctx, b.SessionID); err != nil {
			s.logger.Warn("session close failed",
				zap.String("broadcast_id", broadcastID.String()),
				zap.String("session_id", b.SessionID),
				zap.Error(err))
		}
	}
	now := s.now()
	if err := s.store.SetStatus(ctx, broadcastID, models.StatusStopped, nil, &reason, nil, &now); err != nil {
		return err
	}
	if err := s.presence.Purge(ctx, broadcastID); err != nil {
		s.logger.Warn("counter purge failed", zap.String("broadcast_id", broadcastID.String()), zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.NotifyAll(broadcastID, "force_stopped", map[string]string{"reason": reason})
	}
	s.logger.Info("broadcast force-stopped",
		zap.String("broadcast_id", broadcastID.String()),
		zap.String("reason", reason))
	return nil
}

// PromoteReady moves a RESERVED broadcast whose scheduled time has arrived
// to READY. Called from the sweep; idempotent by status.
func (s *Service) PromoteReady(ctx context.Context, broadcastID uuid.UUID) error {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b.Status != models.StatusReserved {
		return nil
	}
	if err := s.store.SetStatus(ctx, broadcastID, models.StatusReady, nil, nil, nil, nil); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifyAll(broadcastID, "ready", nil)
	}
	s.logger.Info("broadcast promoted to ready", zap.String("broadcast_id", broadcastID.String()))
	return nil
}

// NoShowCancel cancels a RESERVED/READY broadcast whose seller never
// started it within the grace window.
func (s *Service) NoShowCancel(ctx context.Context, broadcastID uuid.UUID, reason string) error {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if !b.Status.CanTransitionTo(models.StatusCanceled) {
		return nil
	}
	if err := s.store.SetStatus(ctx, broadcastID, models.StatusCanceled, nil, &reason, nil, nil); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifyAll(broadcastID, "canceled", map[string]string{"reason": reason})
	}
	s.logger.Info("no-show broadcast canceled", zap.String("broadcast_id", broadcastID.String()))
	return nil
}

// AutoEnd ends an overrun ON_AIR broadcast from the sweep.
func (s *Service) AutoEnd(ctx context.Context, broadcastID uuid.UUID) error {
	return s.End(ctx, broadcastID, uuid.Nil, false)
}

// Pin pins one listing for the broadcast, clearing any previous pin.
func (s *Service) Pin(ctx context.Context, broadcastID, sellerID, listingID uuid.UUID) error {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b.SellerID != sellerID {
		return apperr.ErrForbidden
	}
	if err := s.store.PinProduct(ctx, broadcastID, listingID); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.NotifyAll(broadcastID, "product_pinned", map[string]string{"listing_id": listingID.String()})
	}
	return nil
}

// Get returns a broadcast with its listings.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Broadcast, []models.BroadcastProduct, []models.Qcard, error) {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	products, err := s.store.ListProducts(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	qcards, err := s.store.ListQcards(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, products, qcards, nil
}

// List returns broadcasts with optional seller/status filters.
func (s *Service) List(ctx context.Context, sellerID *uuid.UUID, statuses []models.BroadcastStatus) ([]models.Broadcast, error) {
	return s.store.List(ctx, sellerID, statuses)
}

// Stats is the admin statistics view. Live-group broadcasts read the running
// counters; finalized broadcasts read the durable result record.
type Stats struct {
	BroadcastID uuid.UUID               `json:"broadcast_id"`
	Status      models.BroadcastStatus  `json:"status"`
	Live        *engage.Snapshot        `json:"live,omitempty"`
	Result      *models.BroadcastResult `json:"result,omitempty"`
}

// Statistics returns the stats for one broadcast from whichever source its
// status selects.
func (s *Service) Statistics(ctx context.Context, broadcastID uuid.UUID) (*Stats, error) {
	b, err := s.store.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	out := &Stats{BroadcastID: broadcastID, Status: b.Status}
	if b.Status.Live() {
		snap, err := s.presence.TotalSnapshot(ctx, broadcastID)
		if err != nil {
			return nil, err
		}
		out.Live = snap
		return out, nil
	}
	res, err := s.results.ResultByBroadcast(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	out.Result = res
	return out, nil
}
