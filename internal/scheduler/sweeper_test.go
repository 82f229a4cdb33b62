package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/livemarket/backend/config"
	"github.com/livemarket/backend/internal/engage"
	"github.com/livemarket/backend/internal/models"
)

type sweepStore struct {
	broadcasts []models.Broadcast
}

func (s *sweepStore) ListDue(_ context.Context, now time.Time) ([]models.Broadcast, error) {
	var out []models.Broadcast
	for _, b := range s.broadcasts {
		if (b.Status == models.StatusReserved || b.Status == models.StatusReady) && !b.ScheduledAt.After(now) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *sweepStore) ListLiveAround(_ context.Context, now time.Time, window time.Duration) ([]models.Broadcast, error) {
	var out []models.Broadcast
	for _, b := range s.broadcasts {
		if b.Status != models.StatusOnAir && b.Status != models.StatusReady && b.Status != models.StatusEnded {
			continue
		}
		if b.ScheduledAt.After(now.Add(-window)) && b.ScheduledAt.Before(now.Add(window)) {
			out = append(out, b)
		}
	}
	return out, nil
}

type sweepLifecycle struct {
	promoted []uuid.UUID
	canceled []uuid.UUID
	ended    []uuid.UUID
}

func (l *sweepLifecycle) PromoteReady(_ context.Context, id uuid.UUID) error {
	l.promoted = append(l.promoted, id)
	return nil
}

func (l *sweepLifecycle) NoShowCancel(_ context.Context, id uuid.UUID, _ string) error {
	l.canceled = append(l.canceled, id)
	return nil
}

func (l *sweepLifecycle) AutoEnd(_ context.Context, id uuid.UUID) error {
	l.ended = append(l.ended, id)
	return nil
}

type sweepNotifier struct {
	events map[string]int
}

func (n *sweepNotifier) NotifyAll(_ uuid.UUID, event string, _ interface{}) {
	if n.events == nil {
		n.events = make(map[string]int)
	}
	n.events[event]++
}

func (n *sweepNotifier) NotifyOne(uuid.UUID, uuid.UUID, string, interface{}) {}

func newSweeper(t *testing.T, store *sweepStore, now time.Time) (*Sweeper, *sweepLifecycle, *sweepNotifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lc := &sweepLifecycle{}
	n := &sweepNotifier{}
	sw := NewSweeper(store, lc, engage.NewAggregator(client, nil), n,
		config.SchedulerConfig{IntervalSec: 60, NoShowGraceMins: 10},
		config.BroadcastConfig{SlotMinutes: 30}, nil)
	sw.now = func() time.Time { return now }
	return sw, lc, n
}

func TestSweepPromotesDueReservations(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	b := models.Broadcast{ID: uuid.New(), Status: models.StatusReserved, ScheduledAt: now.Add(-time.Minute)}
	sw, lc, _ := newSweeper(t, &sweepStore{broadcasts: []models.Broadcast{b}}, now)

	sw.Sweep(context.Background())
	require.Equal(t, []uuid.UUID{b.ID}, lc.promoted)
	require.Empty(t, lc.canceled)
}

func TestSweepCancelsNoShows(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	b := models.Broadcast{ID: uuid.New(), Status: models.StatusReady, ScheduledAt: now.Add(-11 * time.Minute)}
	sw, lc, _ := newSweeper(t, &sweepStore{broadcasts: []models.Broadcast{b}}, now)

	sw.Sweep(context.Background())
	require.Equal(t, []uuid.UUID{b.ID}, lc.canceled)
	require.Empty(t, lc.promoted)
}

func TestSweepAutoEndsOverrunOnceViaMarker(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	b := models.Broadcast{ID: uuid.New(), Status: models.StatusOnAir, ScheduledAt: now.Add(-31 * time.Minute)}
	sw, lc, n := newSweeper(t, &sweepStore{broadcasts: []models.Broadcast{b}}, now)

	sw.Sweep(context.Background())
	sw.Sweep(context.Background())

	require.Equal(t, []uuid.UUID{b.ID}, lc.ended, "marker must suppress the second auto-end")
	require.Equal(t, 1, n.events["scheduled_end"])
}

func TestSweepWarnsEndingSoonOnce(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	// Slot ends in 30 seconds.
	b := models.Broadcast{ID: uuid.New(), Status: models.StatusOnAir, ScheduledAt: now.Add(30*time.Second - 30*time.Minute)}
	sw, lc, n := newSweeper(t, &sweepStore{broadcasts: []models.Broadcast{b}}, now)

	sw.Sweep(context.Background())
	sw.Sweep(context.Background())

	require.Empty(t, lc.ended)
	require.Equal(t, 1, n.events["ending_soon"])
}

func TestSweepLeavesFutureBroadcastsAlone(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	b := models.Broadcast{ID: uuid.New(), Status: models.StatusOnAir, ScheduledAt: now.Add(-5 * time.Minute)}
	sw, lc, n := newSweeper(t, &sweepStore{broadcasts: []models.Broadcast{b}}, now)

	sw.Sweep(context.Background())
	require.Empty(t, lc.ended)
	require.Empty(t, lc.promoted)
	require.Zero(t, n.events["ending_soon"])
}
