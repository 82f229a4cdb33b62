package broadcast

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/livemarket/backend/config"
	"github.com/livemarket/backend/internal/engage"
	"github.com/livemarket/backend/internal/media"
	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/pkg/apperr"
	"github.com/livemarket/backend/pkg/lock"
)

type memStore struct {
	broadcasts map[uuid.UUID]*models.Broadcast
	products   map[uuid.UUID][]models.BroadcastProduct
	qcards     map[uuid.UUID][]models.Qcard
	categories map[uuid.UUID]bool
	sellers    map[uuid.UUID]bool
}

func newMemStore() *memStore {
	return &memStore{
		broadcasts: make(map[uuid.UUID]*models.Broadcast),
		products:   make(map[uuid.UUID][]models.BroadcastProduct),
		qcards:     make(map[uuid.UUID][]models.Qcard),
		categories: make(map[uuid.UUID]bool),
		sellers:    make(map[uuid.UUID]bool),
	}
}

func (m *memStore) Create(_ context.Context, b *models.Broadcast, products []models.BroadcastProduct, qcards []models.Qcard) error {
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.broadcasts[b.ID] = &cp
	m.products[b.ID] = products
	m.qcards[b.ID] = qcards
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Broadcast, error) {
	b, ok := m.broadcasts[id]
	if !ok {
		return nil, apperr.ErrBroadcastNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) List(_ context.Context, sellerID *uuid.UUID, statuses []models.BroadcastStatus) ([]models.Broadcast, error) {
	var out []models.Broadcast
	for _, b := range m.broadcasts {
		if sellerID != nil && b.SellerID != *sellerID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if b.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, *b)
	}
	return out, nil
}

func (m *memStore) CountReservedBySeller(_ context.Context, sellerID uuid.UUID) (int, error) {
	n := 0
	for _, b := range m.broadcasts {
		if b.SellerID == sellerID && b.Status == models.StatusReserved {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountInSlot(_ context.Context, slotStart, slotEnd time.Time) (int, error) {
	n := 0
	for _, b := range m.broadcasts {
		if (b.Status == models.StatusReserved || b.Status == models.StatusReady) &&
			!b.ScheduledAt.Before(slotStart) && b.ScheduledAt.Before(slotEnd) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) UpdateInfo(_ context.Context, id uuid.UUID, title, notice, thumbnailURL, waitScreenURL string, scheduledAt *time.Time) error {
	b, ok := m.broadcasts[id]
	if !ok {
		return apperr.ErrBroadcastNotFound
	}
	b.Title, b.Notice, b.ThumbnailURL, b.WaitScreenURL = title, notice, thumbnailURL, waitScreenURL
	if scheduledAt != nil {
		b.ScheduledAt = *scheduledAt
	}
	return nil
}

func (m *memStore) ReplaceListings(_ context.Context, broadcastID uuid.UUID, products []models.BroadcastProduct, qcards []models.Qcard) error {
	m.products[broadcastID] = products
	m.qcards[broadcastID] = qcards
	return nil
}

func (m *memStore) SetStatus(_ context.Context, id uuid.UUID, status models.BroadcastStatus, sessionID, stopReason *string, startedAt, endedAt *time.Time) error {
	b, ok := m.broadcasts[id]
	if !ok {
		return apperr.ErrBroadcastNotFound
	}
	b.Status = status
	if sessionID != nil {
		b.SessionID = *sessionID
	}
	if stopReason != nil {
		b.StopReason = *stopReason
	}
	if startedAt != nil {
		b.StartedAt = startedAt
	}
	if endedAt != nil {
		b.EndedAt = endedAt
	}
	return nil
}

func (m *memStore) ListProducts(_ context.Context, broadcastID uuid.UUID) ([]models.BroadcastProduct, error) {
	return m.products[broadcastID], nil
}

func (m *memStore) ListQcards(_ context.Context, broadcastID uuid.UUID) ([]models.Qcard, error) {
	return m.qcards[broadcastID], nil
}

func (m *memStore) PinProduct(_ context.Context, broadcastID, listingID uuid.UUID) error {
	found := false
	for i := range m.products[broadcastID] {
		p := &m.products[broadcastID][i]
		p.Pinned = p.ID == listingID
		if p.Pinned {
			found = true
		}
	}
	if !found {
		return apperr.ErrProductNotFound
	}
	return nil
}

func (m *memStore) CategoryExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.categories[id], nil
}

func (m *memStore) SellerExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.sellers[id], nil
}

type fakeProvider struct {
	createErr   error
	tokenErr    error
	sessions    []string
	closed      []string
	recordings  []string
	disconnects []string
}

func (f *fakeProvider) CreateSession(_ context.Context, broadcastID uuid.UUID) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	id := "ses_" + broadcastID.String()[:8]
	f.sessions = append(f.sessions, id)
	return id, nil
}

func (f *fakeProvider) CreateToken(_ context.Context, sessionID string, role media.Role, _ string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "tok_" + string(role) + "_" + sessionID, nil
}

func (f *fakeProvider) CloseSession(_ context.Context, sessionID string) error {
	f.closed = append(f.closed, sessionID)
	return nil
}

func (f *fakeProvider) ForceDisconnect(_ context.Context, sessionID, connectionID string) error {
	f.disconnects = append(f.disconnects, connectionID)
	return nil
}

func (f *fakeProvider) StartRecording(_ context.Context, sessionID string) (string, error) {
	f.recordings = append(f.recordings, sessionID)
	return "rec_" + sessionID, nil
}

func (f *fakeProvider) StopRecording(context.Context, string) error { return nil }

func (f *fakeProvider) GetRecording(context.Context, string) (*media.Recording, error) {
	return nil, apperr.ErrOpenVidu
}

func (f *fakeProvider) DownloadRecording(context.Context, string) (io.ReadCloser, int64, error) {
	return nil, 0, apperr.ErrOpenVidu
}

type fakeSanctions struct {
	banned map[uuid.UUID]bool
}

func (f *fakeSanctions) IsBanned(_ context.Context, _ uuid.UUID, viewerID uuid.UUID) (bool, error) {
	return f.banned[viewerID], nil
}

type fakeResults struct {
	results map[uuid.UUID]*models.BroadcastResult
}

func (f *fakeResults) ResultByBroadcast(_ context.Context, broadcastID uuid.UUID) (*models.BroadcastResult, error) {
	r, ok := f.results[broadcastID]
	if !ok {
		return nil, apperr.ErrResultNotFound
	}
	return r, nil
}

type recordedEvent struct {
	event  string
	target *uuid.UUID
}

type fakeNotifier struct {
	events []recordedEvent
}

func (f *fakeNotifier) NotifyAll(_ uuid.UUID, event string, _ interface{}) {
	f.events = append(f.events, recordedEvent{event: event})
}

func (f *fakeNotifier) NotifyOne(_ uuid.UUID, viewerID uuid.UUID, event string, _ interface{}) {
	f.events = append(f.events, recordedEvent{event: event, target: &viewerID})
}

func (f *fakeNotifier) has(event string) bool {
	for _, e := range f.events {
		if e.event == event {
			return true
		}
	}
	return false
}

type fixture struct {
	svc      *Service
	store    *memStore
	provider *fakeProvider
	notifier *fakeNotifier
	sanction *fakeSanctions
	results  *fakeResults
	agg      *engage.Aggregator
	redis    *miniredis.Miniredis
	sellerID uuid.UUID
	catID    uuid.UUID
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		store:    newMemStore(),
		provider: &fakeProvider{},
		notifier: &fakeNotifier{},
		sanction: &fakeSanctions{banned: make(map[uuid.UUID]bool)},
		results:  &fakeResults{results: make(map[uuid.UUID]*models.BroadcastResult)},
		agg:      engage.NewAggregator(client, nil),
		redis:    mr,
		sellerID: uuid.New(),
		catID:    uuid.New(),
		now:      time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
	}
	f.store.sellers[f.sellerID] = true
	f.store.categories[f.catID] = true

	cfg := config.BroadcastConfig{
		MaxReservedPerSeller: 7,
		MaxPerSlot:           3,
		SlotMinutes:          30,
		MaxProducts:          10,
		MaxQcards:            10,
	}
	f.svc = NewService(f.store, lock.New(client), f.agg, f.sanction, f.results, f.provider, f.notifier, cfg, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) createInput(scheduledAt time.Time) CreateInput {
	return CreateInput{
		CategoryID:  f.catID,
		Title:       "friday flash sale",
		ScheduledAt: scheduledAt,
	}
}

func TestCreateReservesBroadcast(t *testing.T) {
	f := newFixture(t)
	in := f.createInput(f.now.Add(time.Hour))
	in.Products = []ProductInput{{ProductID: uuid.New(), PriceCents: 1500, Quantity: 10}}
	in.Qcards = []string{"greet viewers", "show the fabric"}

	b, err := f.svc.Create(context.Background(), f.sellerID, in)
	require.NoError(t, err)
	require.Equal(t, models.StatusReserved, b.Status)
	require.Len(t, f.store.products[b.ID], 1)
	require.Len(t, f.store.qcards[b.ID], 2)
}

func TestCreateEnforcesReservationLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 7; i++ {
		_, err := f.svc.Create(context.Background(), f.sellerID,
			f.createInput(f.now.Add(time.Duration(i+1)*time.Hour)))
		require.NoError(t, err)
	}

	_, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(20*time.Hour)))
	require.ErrorIs(t, err, apperr.ErrReservationLimit)
}

func TestCreateEnforcesSlotCapacity(t *testing.T) {
	f := newFixture(t)
	at := f.now.Add(2 * time.Hour).Truncate(30 * time.Minute)
	for i := 0; i < 3; i++ {
		seller := uuid.New()
		f.store.sellers[seller] = true
		_, err := f.svc.Create(context.Background(), seller, f.createInput(at.Add(time.Duration(i)*5*time.Minute)))
		require.NoError(t, err)
	}

	_, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(at.Add(20*time.Minute)))
	require.ErrorIs(t, err, apperr.ErrSlotFull)

	// Next slot is open.
	_, err = f.svc.Create(context.Background(), f.sellerID, f.createInput(at.Add(30*time.Minute)))
	require.NoError(t, err)
}

func TestCreateRejectsWhileSellerLockHeld(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.redis.Set("lock:reservation:"+f.sellerID.String(), "locked"))

	_, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(time.Hour)))
	require.ErrorIs(t, err, apperr.ErrReservationBusy)
}

func TestCreateValidatesQcardLength(t *testing.T) {
	f := newFixture(t)
	in := f.createInput(f.now.Add(time.Hour))
	long := make([]rune, 51)
	for i := range long {
		long[i] = 'x'
	}
	in.Qcards = []string{string(long)}

	_, err := f.svc.Create(context.Background(), f.sellerID, in)
	require.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestStartBeforeScheduleRejected(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.ErrorIs(t, err, apperr.ErrBeforeSchedule)
}

func TestStartProviderFailureLeavesStatusUntouched(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	f.provider.createErr = apperr.ErrOpenVidu

	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.ErrorIs(t, err, apperr.ErrOpenVidu)

	got, err := f.store.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusReserved, got.Status)
	require.Nil(t, got.StartedAt)
}

func TestStartGoesOnAir(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)

	res, err := f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)
	require.Equal(t, models.StatusOnAir, res.Broadcast.Status)
	require.NotEmpty(t, res.SessionID)
	require.NotEmpty(t, res.Token)
	require.NotNil(t, res.Broadcast.StartedAt)
	require.Len(t, f.provider.recordings, 1)
	require.True(t, f.notifier.has("started"))
}

func TestJoinRejectsStoppedAndBanned(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)

	banned := uuid.New()
	f.sanction.banned[banned] = true
	_, err = f.svc.Join(context.Background(), b.ID, banned)
	require.ErrorIs(t, err, apperr.ErrViewerBanned)

	require.NoError(t, f.svc.ForceStop(context.Background(), b.ID, "policy violation"))
	_, err = f.svc.Join(context.Background(), b.ID, uuid.New())
	require.ErrorIs(t, err, apperr.ErrBroadcastStopped)
}

func TestJoinRegistersPresenceAndIssuesToken(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)

	viewer := uuid.New()
	res, err := f.svc.Join(context.Background(), b.ID, viewer)
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)

	active, err := f.agg.ActiveCount(context.Background(), b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, active)

	require.NoError(t, f.svc.Leave(context.Background(), b.ID, viewer))
	active, err = f.agg.ActiveCount(context.Background(), b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, active)
}

func TestJoinRollsBackPresenceOnTokenFailure(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)

	f.provider.tokenErr = apperr.ErrOpenVidu
	_, err = f.svc.Join(context.Background(), b.ID, uuid.New())
	require.ErrorIs(t, err, apperr.ErrOpenVidu)

	active, err := f.agg.ActiveCount(context.Background(), b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, active)
}

func TestEndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)

	require.NoError(t, f.svc.End(context.Background(), b.ID, f.sellerID, true))
	got, err := f.store.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusEnded, got.Status)
	require.NotNil(t, got.EndedAt)
	require.Len(t, f.provider.closed, 1)
	require.True(t, f.notifier.has("ended"))

	// Second end: no-op, no second close.
	require.NoError(t, f.svc.End(context.Background(), b.ID, f.sellerID, true))
	require.Len(t, f.provider.closed, 1)
}

func TestForceStopRequiresReasonAndPurges(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), b.ID, uuid.New())
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.ForceStop(context.Background(), b.ID, "  "), apperr.ErrReasonRequired)

	require.NoError(t, f.svc.ForceStop(context.Background(), b.ID, "rights violation"))
	got, err := f.store.GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusStopped, got.Status)
	require.Equal(t, "rights violation", got.StopReason)

	active, err := f.agg.ActiveCount(context.Background(), b.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, active, "force-stop must purge ephemeral counters")
	require.True(t, f.notifier.has("force_stopped"))
}

func TestUpdateWhileLiveIsReducedAndNotifies(t *testing.T) {
	f := newFixture(t)
	in := f.createInput(f.now.Add(-time.Minute))
	in.Products = []ProductInput{{ProductID: uuid.New(), PriceCents: 900, Quantity: 2}}
	b, err := f.svc.Create(context.Background(), f.sellerID, in)
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)

	later := f.now.Add(3 * time.Hour)
	updated, err := f.svc.Update(context.Background(), b.ID, f.sellerID, UpdateInput{
		Title:       "new title",
		Notice:      "shipping tomorrow",
		ScheduledAt: &later,
	})
	require.NoError(t, err)
	require.Equal(t, "new title", updated.Title)
	require.Equal(t, b.ScheduledAt, updated.ScheduledAt, "schedule is frozen while live")
	require.Len(t, f.store.products[b.ID], 1, "listings are frozen while live")
	require.True(t, f.notifier.has("broadcast_updated"))
}

func TestUpdateByNonOwnerForbidden(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(time.Hour)))
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), b.ID, uuid.New(), UpdateInput{Title: "hijack"})
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestCancelOnlyFromReservedOrReady(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), b.ID, f.sellerID, "changed plans")
	require.ErrorIs(t, err, apperr.ErrInvalidStatus)
}

func TestPinClearsPreviousPin(t *testing.T) {
	f := newFixture(t)
	in := f.createInput(f.now.Add(time.Hour))
	in.Products = []ProductInput{
		{ProductID: uuid.New(), PriceCents: 1000, Quantity: 5},
		{ProductID: uuid.New(), PriceCents: 2000, Quantity: 5},
	}
	b, err := f.svc.Create(context.Background(), f.sellerID, in)
	require.NoError(t, err)

	first := uuid.New()
	second := uuid.New()
	f.store.products[b.ID][0].ID = first
	f.store.products[b.ID][1].ID = second

	require.NoError(t, f.svc.Pin(context.Background(), b.ID, f.sellerID, first))
	require.NoError(t, f.svc.Pin(context.Background(), b.ID, f.sellerID, second))

	require.False(t, f.store.products[b.ID][0].Pinned)
	require.True(t, f.store.products[b.ID][1].Pinned)
	require.True(t, f.notifier.has("product_pinned"))

	require.ErrorIs(t, f.svc.Pin(context.Background(), b.ID, f.sellerID, uuid.New()), apperr.ErrProductNotFound)
}

func TestStatisticsSelectsSourceByStatus(t *testing.T) {
	f := newFixture(t)
	b, err := f.svc.Create(context.Background(), f.sellerID, f.createInput(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), b.ID, f.sellerID)
	require.NoError(t, err)
	_, err = f.svc.Join(context.Background(), b.ID, uuid.New())
	require.NoError(t, err)

	stats, err := f.svc.Statistics(context.Background(), b.ID)
	require.NoError(t, err)
	require.NotNil(t, stats.Live)
	require.EqualValues(t, 1, stats.Live.TotalViewers)

	// Finalized broadcast reads the durable record.
	b2 := &models.Broadcast{ID: uuid.New(), SellerID: f.sellerID, Status: models.StatusVod}
	f.store.broadcasts[b2.ID] = b2
	f.results.results[b2.ID] = &models.BroadcastResult{BroadcastID: b2.ID, PeakViewers: 42}

	stats, err = f.svc.Statistics(context.Background(), b2.ID)
	require.NoError(t, err)
	require.Nil(t, stats.Live)
	require.EqualValues(t, 42, stats.Result.PeakViewers)
}
