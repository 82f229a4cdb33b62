package vod

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livemarket/backend/internal/engage"
	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/pkg/queue"
	"github.com/livemarket/backend/pkg/storage"
)

const (
	fetchAttempts = 3
	// backoff before attempt n is n * fetchBackoffUnit (linear).
	fetchBackoffUnit = time.Second
)

// Store is the persistence surface of the pipeline.
type Store interface {
	CreateVod(ctx context.Context, v *models.Vod) error
	VodByBroadcast(ctx context.Context, broadcastID uuid.UUID) (*models.Vod, error)
	CreateResult(ctx context.Context, res *models.BroadcastResult) error
}

// BroadcastStore resolves and transitions broadcasts during finalization.
type BroadcastStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.BroadcastStatus, sessionID, stopReason *string, startedAt, endedAt *time.Time) error
}

// Snapshotter reads and purges the ephemeral engagement counters.
type Snapshotter interface {
	TotalSnapshot(ctx context.Context, broadcastID uuid.UUID) (*engage.Snapshot, error)
	Purge(ctx context.Context, broadcastID uuid.UUID) error
}

// WatchTimes computes the average watch time from the session log.
type WatchTimes interface {
	AverageWatchSeconds(ctx context.Context, broadcastID uuid.UUID) (int64, error)
}

// SalesSource reports the broadcast's total sales. The order system is an
// external collaborator; NoSales stands in when it is not wired.
type SalesSource interface {
	TotalSalesCents(ctx context.Context, broadcastID uuid.UUID) (int64, error)
}

// NoSales is a SalesSource that always reports zero.
type NoSales struct{}

// TotalSalesCents implements SalesSource.
func (NoSales) TotalSalesCents(context.Context, uuid.UUID) (int64, error) { return 0, nil }

// Fetcher downloads recording bytes from the media provider.
type Fetcher interface {
	DownloadRecording(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// BlobStore is the durable storage surface for recording files.
type BlobStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	HeadSize(ctx context.Context, bucket, key string) (int64, error)
	VodBucket() string
}

// Pipeline converts a finished recording plus the ephemeral counters into
// the durable Vod and BroadcastResult records. The purge runs last: it is
// the point of no return for the counters.
type Pipeline struct {
	store      Store
	broadcasts BroadcastStore
	snapshots  Snapshotter
	watch      WatchTimes
	sales      SalesSource
	fetcher    Fetcher
	blobs      BlobStore
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates the VOD finalization pipeline.
func NewPipeline(store Store, broadcasts BroadcastStore, snapshots Snapshotter, watch WatchTimes, sales SalesSource, fetcher Fetcher, blobs BlobStore, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sales == nil {
		sales = NoSales{}
	}
	return &Pipeline{
		store:      store,
		broadcasts: broadcasts,
		snapshots:  snapshots,
		watch:      watch,
		sales:      sales,
		fetcher:    fetcher,
		blobs:      blobs,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Finalize runs the pipeline for one recording-ready signal. Re-delivery of
// the same signal is a no-op once the Vod row exists.
func (p *Pipeline) Finalize(ctx context.Context, job queue.VodFinalizePayload) error {
	b, err := p.broadcasts.GetByID(ctx, job.BroadcastID)
	if err != nil {
		return err
	}

	existing, err := p.store.VodByBroadcast(ctx, b.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		p.logger.Info("vod already finalized, skipping",
			zap.String("broadcast_id", b.ID.String()))
		return nil
	}

	url, size := p.storeRecording(ctx, b.ID, job)

	visibility := models.VodPublic
	if b.Status == models.StatusStopped {
		visibility = models.VodAdminLock
	}

	v := &models.Vod{
		BroadcastID:     b.ID,
		RecordingID:     job.RecordingID,
		URL:             url,
		FileSize:        size,
		DurationSeconds: job.Duration,
		Visibility:      visibility,
	}
	if err := p.store.CreateVod(ctx, v); err != nil {
		return err
	}

	if err := p.persistResult(ctx, b.ID); err != nil {
		return err
	}

	// Counters are gone after this; everything durable must already be
	// committed.
	if err := p.snapshots.Purge(ctx, b.ID); err != nil {
		p.logger.Warn("counter purge failed",
			zap.String("broadcast_id", b.ID.String()), zap.Error(err))
	}

	if b.Status == models.StatusStopped || b.Status == models.StatusEnded {
		if err := p.broadcasts.SetStatus(ctx, b.ID, models.StatusVod, nil, nil, nil, nil); err != nil {
			return err
		}
	}

	p.logger.Info("broadcast finalized",
		zap.String("broadcast_id", b.ID.String()),
		zap.String("vod_url", url),
		zap.String("visibility", string(visibility)))
	return nil
}

// storeRecording fetches the recording with retry and streams it to blob
// storage. On total failure it falls back to the signal's own URL so the
// finalization still completes with whatever reference exists.
func (p *Pipeline) storeRecording(ctx context.Context, broadcastID uuid.UUID, job queue.VodFinalizePayload) (string, int64) {
	key := storage.VodKey(broadcastID.String(), job.RecordingID)

	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		body, length, err := p.fetcher.DownloadRecording(ctx, job.URL)
		if err == nil {
			uploaded, upErr := p.blobs.Upload(ctx, p.blobs.VodBucket(), key, "video/mp4", body, length)
			_ = body.Close()
			if upErr == nil {
				size := job.Size
				if size == 0 {
					size = length
				}
				if size == 0 {
					if head, headErr := p.blobs.HeadSize(ctx, p.blobs.VodBucket(), key); headErr == nil {
						size = head
					}
				}
				return uploaded, size
			}
			err = upErr
		}
		p.logger.Warn("recording fetch failed",
			zap.String("broadcast_id", broadcastID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < fetchAttempts {
			if serr := p.sleep(ctx, time.Duration(attempt)*fetchBackoffUnit); serr != nil {
				break
			}
		}
	}

	p.logger.Error("recording fetch exhausted, falling back to provider url",
		zap.String("broadcast_id", broadcastID.String()),
		zap.String("url", job.URL))
	return job.URL, job.Size
}

// persistResult snapshots the ephemeral counters into a BroadcastResult.
func (p *Pipeline) persistResult(ctx context.Context, broadcastID uuid.UUID) error {
	snap, err := p.snapshots.TotalSnapshot(ctx, broadcastID)
	if err != nil {
		return err
	}
	avg, err := p.watch.AverageWatchSeconds(ctx, broadcastID)
	if err != nil {
		p.logger.Warn("watch time aggregate failed",
			zap.String("broadcast_id", broadcastID.String()), zap.Error(err))
		avg = 0
	}
	sales, err := p.sales.TotalSalesCents(ctx, broadcastID)
	if err != nil {
		p.logger.Warn("sales aggregate failed",
			zap.String("broadcast_id", broadcastID.String()), zap.Error(err))
		sales = 0
	}

	return p.store.CreateResult(ctx, &models.BroadcastResult{
		BroadcastID:     broadcastID,
		TotalViewers:    snap.TotalViewers,
		PeakViewers:     snap.Peak,
		PeakAt:          snap.PeakAt,
		TotalLikes:      snap.Likes,
		TotalReports:    snap.Reports,
		TotalChats:      snap.Chats,
		TotalSalesCents: sales,
		AvgWatchSeconds: float64(avg),
	})
}
