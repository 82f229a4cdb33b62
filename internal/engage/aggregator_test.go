package engage

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T) (*Aggregator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAggregator(client, nil), mr
}

func TestEnterExitRefCounting(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()
	bid := uuid.New()

	// 3 viewers, 2 tabs each.
	for i := 0; i < 3; i++ {
		viewer := fmt.Sprintf("viewer-%d", i)
		require.NoError(t, a.Enter(ctx, bid, viewer))
		require.NoError(t, a.Enter(ctx, bid, viewer))
	}

	active, err := a.ActiveCount(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 3, active, "multiple tabs must not double-count a viewer")

	uniques, err := a.UniqueCount(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 3, uniques)

	// Close one tab each: still present.
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Exit(ctx, bid, fmt.Sprintf("viewer-%d", i)))
	}
	active, err = a.ActiveCount(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 3, active, "viewer with an open tab must stay active")

	// Close the last tab each: gone.
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Exit(ctx, bid, fmt.Sprintf("viewer-%d", i)))
	}
	active, err = a.ActiveCount(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 0, active)

	uniques, err = a.UniqueCount(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 3, uniques, "cumulative uniques survive exits")
}

func TestPeakIsMonotone(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()
	bid := uuid.New()

	require.NoError(t, a.Enter(ctx, bid, "v1"))
	require.NoError(t, a.Enter(ctx, bid, "v2"))
	require.NoError(t, a.Enter(ctx, bid, "v3"))

	peak, peakAt, err := a.Peak(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 3, peak)
	require.NotNil(t, peakAt)

	require.NoError(t, a.Exit(ctx, bid, "v1"))
	require.NoError(t, a.Exit(ctx, bid, "v2"))
	require.NoError(t, a.Enter(ctx, bid, "v1"))

	peak, _, err = a.Peak(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 3, peak, "peak never decreases")
}

func TestToggleLike(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()
	bid := uuid.New()

	liked, err := a.ToggleLike(ctx, bid, "member-1")
	require.NoError(t, err)
	require.True(t, liked)

	n, err := a.LikeCount(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	liked, err = a.ToggleLike(ctx, bid, "member-1")
	require.NoError(t, err)
	require.False(t, liked, "second toggle removes the like")

	n, err = a.LikeCount(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestReportCountsOncePerMember(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()
	bid := uuid.New()

	require.NoError(t, a.Report(ctx, bid, "member-1"))
	require.NoError(t, a.Report(ctx, bid, "member-1"))
	require.NoError(t, a.Report(ctx, bid, "member-1"))
	require.NoError(t, a.Report(ctx, bid, "member-2"))

	snap, err := a.TotalSnapshot(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 2, snap.Reports, "duplicate reports never double-count")
}

func TestMarkNoticeSentIsOnce(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()
	bid := uuid.New()

	first, err := a.MarkNoticeSent(ctx, bid, "ending_soon")
	require.NoError(t, err)
	require.True(t, first)

	again, err := a.MarkNoticeSent(ctx, bid, "ending_soon")
	require.NoError(t, err)
	require.False(t, again)

	other, err := a.MarkNoticeSent(ctx, bid, "auto_end")
	require.NoError(t, err)
	require.True(t, other, "marker is per notice kind")
}

func TestSnapshotAndPurge(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()
	bid := uuid.New()

	require.NoError(t, a.Enter(ctx, bid, "v1"))
	require.NoError(t, a.Enter(ctx, bid, "v2"))
	_, err := a.ToggleLike(ctx, bid, "v1")
	require.NoError(t, err)
	require.NoError(t, a.Report(ctx, bid, "v2"))
	require.NoError(t, a.IncrChat(ctx, bid))
	require.NoError(t, a.IncrChat(ctx, bid))
	require.NoError(t, a.IncrSanctions(ctx, bid))
	_, err = a.MarkNoticeSent(ctx, bid, "ending_soon")
	require.NoError(t, err)

	snap, err := a.TotalSnapshot(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 2, snap.TotalViewers)
	require.EqualValues(t, 1, snap.Likes)
	require.EqualValues(t, 1, snap.Reports)
	require.EqualValues(t, 2, snap.Chats)
	require.EqualValues(t, 1, snap.Sanctions)
	require.EqualValues(t, 2, snap.Peak)

	require.NoError(t, a.Purge(ctx, bid))

	snap, err = a.TotalSnapshot(ctx, bid)
	require.NoError(t, err)
	require.EqualValues(t, 0, snap.TotalViewers)
	require.EqualValues(t, 0, snap.Chats)
	require.EqualValues(t, 0, snap.Peak)

	// Notice markers are purged too, so a fresh finalized broadcast id is clean.
	first, err := a.MarkNoticeSent(ctx, bid, "ending_soon")
	require.NoError(t, err)
	require.True(t, first)
}

func TestDevicePrefs(t *testing.T) {
	a, _ := newTestAggregator(t)
	ctx := context.Background()
	bid := uuid.New()

	require.NoError(t, a.SetDevicePrefs(ctx, bid, map[string]string{"camera": "front", "mic": "on"}))
	prefs, err := a.DevicePrefs(ctx, bid)
	require.NoError(t, err)
	require.Equal(t, "front", prefs["camera"])
	require.Equal(t, "on", prefs["mic"])
}
