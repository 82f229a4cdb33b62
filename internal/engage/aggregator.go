// Package engage owns the ephemeral, Redis-backed engagement state of a
// broadcast: viewer presence with per-viewer tab reference counting,
// cumulative uniques, like/report voting, counters, and peak tracking.
// Every key carries a bounded TTL as a safety net; keys are also deleted
// explicitly when a broadcast leaves the live group.
package engage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// KeyTTL bounds the lifetime of all per-broadcast engagement keys.
	KeyTTL = 24 * time.Hour
	// NoticeTTL bounds the "notice already sent" markers used by the
	// scheduler sweep for idempotent notifications.
	NoticeTTL = 3 * time.Hour
)

// Snapshot is the point-in-time aggregate handed to the VOD finalizer.
type Snapshot struct {
	TotalViewers int64
	Likes        int64
	Reports      int64
	Chats        int64
	Sanctions    int64
	Peak         int64
	PeakAt       *time.Time
}

// Aggregator mutates and reads per-broadcast engagement state in Redis.
type Aggregator struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewAggregator creates an engagement aggregator.
func NewAggregator(client *redis.Client, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{client: client, logger: logger, now: time.Now}
}

func key(broadcastID uuid.UUID, purpose string) string {
	return fmt.Sprintf("broadcast:%s:%s", broadcastID, purpose)
}

func (a *Aggregator) viewersKey(id uuid.UUID) string  { return key(id, "viewers") }
func (a *Aggregator) tabsKey(id uuid.UUID) string     { return key(id, "tabs") }
func (a *Aggregator) uniquesKey(id uuid.UUID) string  { return key(id, "uniques") }
func (a *Aggregator) likesKey(id uuid.UUID) string    { return key(id, "likes") }
func (a *Aggregator) votersKey(id uuid.UUID) string   { return key(id, "reporters") }
func (a *Aggregator) reportsKey(id uuid.UUID) string  { return key(id, "reports") }
func (a *Aggregator) sanctKey(id uuid.UUID) string    { return key(id, "sanctions") }
func (a *Aggregator) chatsKey(id uuid.UUID) string    { return key(id, "chats") }
func (a *Aggregator) peakKey(id uuid.UUID) string     { return key(id, "peak") }
func (a *Aggregator) peakAtKey(id uuid.UUID) string   { return key(id, "peak_at") }
func (a *Aggregator) prefsKey(id uuid.UUID) string    { return key(id, "device_prefs") }
func (a *Aggregator) noticeKey(id uuid.UUID, kind string) string {
	return key(id, "notice:"+kind)
}

// Enter registers one open tab for the viewer. The viewer joins the active
// set only on the 0→1 tab transition; the cumulative unique set always
// records the viewer. Raises the peak when the active count exceeds it.
func (a *Aggregator) Enter(ctx context.Context, broadcastID uuid.UUID, viewerKey string) error {
	tabs, err := a.client.HIncrBy(ctx, a.tabsKey(broadcastID), viewerKey, 1).Result()
	if err != nil {
		return fmt.Errorf("incr tabs: %w", err)
	}
	if tabs == 1 {
		if err := a.client.SAdd(ctx, a.viewersKey(broadcastID), viewerKey).Err(); err != nil {
			return fmt.Errorf("add viewer: %w", err)
		}
		active, err := a.client.SCard(ctx, a.viewersKey(broadcastID)).Result()
		if err != nil {
			return fmt.Errorf("active count: %w", err)
		}
		if err := a.raisePeak(ctx, broadcastID, active); err != nil {
			return err
		}
	}
	if err := a.client.SAdd(ctx, a.uniquesKey(broadcastID), viewerKey).Err(); err != nil {
		return fmt.Errorf("add unique: %w", err)
	}
	a.refresh(ctx, a.viewersKey(broadcastID), a.tabsKey(broadcastID), a.uniquesKey(broadcastID))
	return nil
}

// Exit releases one open tab for the viewer. The viewer leaves the active
// set only when no tabs remain.
func (a *Aggregator) Exit(ctx context.Context, broadcastID uuid.UUID, viewerKey string) error {
	tabs, err := a.client.HIncrBy(ctx, a.tabsKey(broadcastID), viewerKey, -1).Result()
	if err != nil {
		return fmt.Errorf("decr tabs: %w", err)
	}
	if tabs <= 0 {
		if err := a.client.HDel(ctx, a.tabsKey(broadcastID), viewerKey).Err(); err != nil {
			return fmt.Errorf("del tab entry: %w", err)
		}
		if err := a.client.SRem(ctx, a.viewersKey(broadcastID), viewerKey).Err(); err != nil {
			return fmt.Errorf("remove viewer: %w", err)
		}
	}
	return nil
}

// raisePeak is read-then-write: a best-effort high-water mark, not a
// linearizable count across concurrent Enters.
func (a *Aggregator) raisePeak(ctx context.Context, broadcastID uuid.UUID, active int64) error {
	peak, err := a.client.Get(ctx, a.peakKey(broadcastID)).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("get peak: %w", err)
	}
	if active > peak {
		if err := a.client.Set(ctx, a.peakKey(broadcastID), active, KeyTTL).Err(); err != nil {
			return fmt.Errorf("set peak: %w", err)
		}
		if err := a.client.Set(ctx, a.peakAtKey(broadcastID), a.now().UTC().Format(time.RFC3339Nano), KeyTTL).Err(); err != nil {
			return fmt.Errorf("set peak_at: %w", err)
		}
	}
	return nil
}

// ActiveCount returns the active-viewer set cardinality.
func (a *Aggregator) ActiveCount(ctx context.Context, broadcastID uuid.UUID) (int64, error) {
	return a.client.SCard(ctx, a.viewersKey(broadcastID)).Result()
}

// UniqueCount returns the cumulative-unique set cardinality.
func (a *Aggregator) UniqueCount(ctx context.Context, broadcastID uuid.UUID) (int64, error) {
	return a.client.SCard(ctx, a.uniquesKey(broadcastID)).Result()
}

// LikeCount returns the like-voter set cardinality.
func (a *Aggregator) LikeCount(ctx context.Context, broadcastID uuid.UUID) (int64, error) {
	return a.client.SCard(ctx, a.likesKey(broadcastID)).Result()
}

// ToggleLike flips the member's like. Returns true when the member now likes
// the broadcast, false when the like was removed.
func (a *Aggregator) ToggleLike(ctx context.Context, broadcastID uuid.UUID, memberID string) (bool, error) {
	liked, err := a.client.SIsMember(ctx, a.likesKey(broadcastID), memberID).Result()
	if err != nil {
		return false, fmt.Errorf("like membership: %w", err)
	}
	if liked {
		if err := a.client.SRem(ctx, a.likesKey(broadcastID), memberID).Err(); err != nil {
			return false, fmt.Errorf("unlike: %w", err)
		}
		return false, nil
	}
	if err := a.client.SAdd(ctx, a.likesKey(broadcastID), memberID).Err(); err != nil {
		return false, fmt.Errorf("like: %w", err)
	}
	a.refresh(ctx, a.likesKey(broadcastID))
	return true, nil
}

// Report records a report by the member. The report counter increments only
// on the member's first report; duplicates are absorbed silently.
func (a *Aggregator) Report(ctx context.Context, broadcastID uuid.UUID, memberID string) error {
	added, err := a.client.SAdd(ctx, a.votersKey(broadcastID), memberID).Result()
	if err != nil {
		return fmt.Errorf("add reporter: %w", err)
	}
	if added == 1 {
		if err := a.client.Incr(ctx, a.reportsKey(broadcastID)).Err(); err != nil {
			return fmt.Errorf("incr reports: %w", err)
		}
		a.refresh(ctx, a.reportsKey(broadcastID))
	}
	a.refresh(ctx, a.votersKey(broadcastID))
	return nil
}

// IncrChat increments the chat message counter.
func (a *Aggregator) IncrChat(ctx context.Context, broadcastID uuid.UUID) error {
	if err := a.client.Incr(ctx, a.chatsKey(broadcastID)).Err(); err != nil {
		return fmt.Errorf("incr chats: %w", err)
	}
	a.refresh(ctx, a.chatsKey(broadcastID))
	return nil
}

// IncrSanctions increments the sanction counter.
func (a *Aggregator) IncrSanctions(ctx context.Context, broadcastID uuid.UUID) error {
	if err := a.client.Incr(ctx, a.sanctKey(broadcastID)).Err(); err != nil {
		return fmt.Errorf("incr sanctions: %w", err)
	}
	a.refresh(ctx, a.sanctKey(broadcastID))
	return nil
}

// Peak returns the running-maximum viewer count and when it was reached.
func (a *Aggregator) Peak(ctx context.Context, broadcastID uuid.UUID) (int64, *time.Time, error) {
	peak, err := a.client.Get(ctx, a.peakKey(broadcastID)).Int64()
	if err == redis.Nil {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("get peak: %w", err)
	}
	raw, err := a.client.Get(ctx, a.peakAtKey(broadcastID)).Result()
	if err == redis.Nil {
		return peak, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("get peak_at: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return peak, nil, nil
	}
	return peak, &at, nil
}

// SetDevicePrefs stores the seller's device/media preferences for the broadcast.
func (a *Aggregator) SetDevicePrefs(ctx context.Context, broadcastID uuid.UUID, prefs map[string]string) error {
	if len(prefs) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(prefs)*2)
	for k, v := range prefs {
		args = append(args, k, v)
	}
	if err := a.client.HSet(ctx, a.prefsKey(broadcastID), args...).Err(); err != nil {
		return fmt.Errorf("set device prefs: %w", err)
	}
	a.refresh(ctx, a.prefsKey(broadcastID))
	return nil
}

// DevicePrefs returns the stored device/media preferences.
func (a *Aggregator) DevicePrefs(ctx context.Context, broadcastID uuid.UUID) (map[string]string, error) {
	return a.client.HGetAll(ctx, a.prefsKey(broadcastID)).Result()
}

// MarkNoticeSent conditionally sets the per-(broadcast, kind) marker.
// Returns true on first set, false when the notice was already sent. This
// is what makes the scheduler sweep safe to run concurrently or to re-run
// after a crash without duplicate notifications.
func (a *Aggregator) MarkNoticeSent(ctx context.Context, broadcastID uuid.UUID, kind string) (bool, error) {
	ok, err := a.client.SetNX(ctx, a.noticeKey(broadcastID, kind), "1", NoticeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark notice: %w", err)
	}
	return ok, nil
}

// TotalSnapshot reads every counter the finalizer persists.
func (a *Aggregator) TotalSnapshot(ctx context.Context, broadcastID uuid.UUID) (*Snapshot, error) {
	uniques, err := a.UniqueCount(ctx, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("unique count: %w", err)
	}
	likes, err := a.LikeCount(ctx, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("like count: %w", err)
	}
	reports, err := a.getInt(ctx, a.reportsKey(broadcastID))
	if err != nil {
		return nil, err
	}
	chats, err := a.getInt(ctx, a.chatsKey(broadcastID))
	if err != nil {
		return nil, err
	}
	sanctions, err := a.getInt(ctx, a.sanctKey(broadcastID))
	if err != nil {
		return nil, err
	}
	peak, peakAt, err := a.Peak(ctx, broadcastID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		TotalViewers: uniques,
		Likes:        likes,
		Reports:      reports,
		Chats:        chats,
		Sanctions:    sanctions,
		Peak:         peak,
		PeakAt:       peakAt,
	}, nil
}

// Purge deletes every ephemeral key for the broadcast, notice markers
// included. Called when the broadcast leaves the live group.
func (a *Aggregator) Purge(ctx context.Context, broadcastID uuid.UUID) error {
	keys := []string{
		a.viewersKey(broadcastID),
		a.tabsKey(broadcastID),
		a.uniquesKey(broadcastID),
		a.likesKey(broadcastID),
		a.votersKey(broadcastID),
		a.reportsKey(broadcastID),
		a.sanctKey(broadcastID),
		a.chatsKey(broadcastID),
		a.peakKey(broadcastID),
		a.peakAtKey(broadcastID),
		a.prefsKey(broadcastID),
	}
	iter := a.client.Scan(ctx, 0, key(broadcastID, "notice:*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan notice keys: %w", err)
	}
	if err := a.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	return nil
}

func (a *Aggregator) getInt(ctx context.Context, k string) (int64, error) {
	raw, err := a.client.Get(ctx, k).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", k, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", k, err)
	}
	return n, nil
}

// refresh extends the safety-net TTL on touched keys. Failures are logged,
// not propagated: expiry is a backstop, not a correctness requirement.
func (a *Aggregator) refresh(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if err := a.client.Expire(ctx, k, KeyTTL).Err(); err != nil {
			a.logger.Warn("ttl refresh failed", zap.String("key", k), zap.Error(err))
		}
	}
}
