// Package scheduler runs the periodic lifecycle sweep: the only mechanism
// that advances broadcast state purely by wall-clock time.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livemarket/backend/config"
	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/internal/notify"
)

// liveWindow bounds the auto-end pass to broadcasts scheduled near now.
const liveWindow = 2 * time.Hour

// endingSoonLead is how far before slot end the warning fires.
const endingSoonLead = time.Minute

// Store is the query surface the sweep reads from.
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]models.Broadcast, error)
	ListLiveAround(ctx context.Context, now time.Time, window time.Duration) ([]models.Broadcast, error)
}

// Lifecycle is the state machine surface the sweep drives.
type Lifecycle interface {
	PromoteReady(ctx context.Context, broadcastID uuid.UUID) error
	NoShowCancel(ctx context.Context, broadcastID uuid.UUID, reason string) error
	AutoEnd(ctx context.Context, broadcastID uuid.UUID) error
}

// Markers is the conditional notice-sent marker store. The marker makes
// each (broadcast, notice kind) fire once across concurrent sweeps and
// restarts.
type Markers interface {
	MarkNoticeSent(ctx context.Context, broadcastID uuid.UUID, kind string) (bool, error)
}

// Sweeper is the periodic reconciler.
type Sweeper struct {
	store     Store
	lifecycle Lifecycle
	markers   Markers
	notifier  notify.Notifier
	interval  time.Duration
	grace     time.Duration
	slot      time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewSweeper creates the lifecycle sweeper.
func NewSweeper(store Store, lifecycle Lifecycle, markers Markers, notifier notify.Notifier, schedCfg config.SchedulerConfig, bCfg config.BroadcastConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:     store,
		lifecycle: lifecycle,
		markers:   markers,
		notifier:  notifier,
		interval:  time.Duration(schedCfg.IntervalSec) * time.Second,
		grace:     time.Duration(schedCfg.NoShowGraceMins) * time.Minute,
		slot:      time.Duration(bCfg.SlotMinutes) * time.Minute,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps on a fixed period until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("lifecycle sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass. Errors on individual broadcasts are
// logged and do not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.logger.Error("sweep: list due failed", zap.Error(err))
	} else {
		for _, b := range due {
			s.reconcileDue(ctx, b, now)
		}
	}

	live, err := s.store.ListLiveAround(ctx, now, liveWindow)
	if err != nil {
		s.logger.Error("sweep: list live failed", zap.Error(err))
		return
	}
	for _, b := range live {
		s.reconcileLive(ctx, b, now)
	}
}

// reconcileDue promotes on-time reservations and cancels no-shows.
func (s *Sweeper) reconcileDue(ctx context.Context, b models.Broadcast, now time.Time) {
	if now.After(b.ScheduledAt.Add(s.grace)) {
		if err := s.lifecycle.NoShowCancel(ctx, b.ID, "canceled — seller did not start the broadcast"); err != nil {
			s.logger.Error("sweep: no-show cancel failed",
				zap.String("broadcast_id", b.ID.String()), zap.Error(err))
		}
		return
	}
	if b.Status == models.StatusReserved {
		if err := s.lifecycle.PromoteReady(ctx, b.ID); err != nil {
			s.logger.Error("sweep: promote failed",
				zap.String("broadcast_id", b.ID.String()), zap.Error(err))
		}
	}
}

// reconcileLive auto-ends overrun broadcasts and emits the ending-soon
// warning, each at most once per broadcast via the notice markers.
func (s *Sweeper) reconcileLive(ctx context.Context, b models.Broadcast, now time.Time) {
	slotEnd := b.ScheduledAt.Add(s.slot)

	switch {
	case !now.Before(slotEnd):
		if b.Status != models.StatusOnAir {
			return
		}
		first, err := s.markers.MarkNoticeSent(ctx, b.ID, "auto_end")
		if err != nil {
			s.logger.Error("sweep: auto-end marker failed",
				zap.String("broadcast_id", b.ID.String()), zap.Error(err))
			return
		}
		if !first {
			return
		}
		if err := s.lifecycle.AutoEnd(ctx, b.ID); err != nil {
			s.logger.Error("sweep: auto end failed",
				zap.String("broadcast_id", b.ID.String()), zap.Error(err))
			return
		}
		if s.notifier != nil {
			s.notifier.NotifyAll(b.ID, "scheduled_end", nil)
		}
	case slotEnd.Sub(now) <= endingSoonLead:
		first, err := s.markers.MarkNoticeSent(ctx, b.ID, "ending_soon")
		if err != nil {
			s.logger.Error("sweep: ending-soon marker failed",
				zap.String("broadcast_id", b.ID.String()), zap.Error(err))
			return
		}
		if first && s.notifier != nil {
			s.notifier.NotifyAll(b.ID, "ending_soon", map[string]string{
				"ends_at": slotEnd.UTC().Format(time.RFC3339),
			})
		}
	}
}
