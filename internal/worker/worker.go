package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/livemarket/backend/internal/vod"
	"github.com/livemarket/backend/pkg/queue"
)

// VodProcessor drains the finalization queue and runs the pipeline.
type VodProcessor struct {
	pipeline *vod.Pipeline
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewVodProcessor creates a VOD finalization worker.
func NewVodProcessor(pipeline *vod.Pipeline, q *queue.Queue, logger *zap.Logger) *VodProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VodProcessor{pipeline: pipeline, queue: q, logger: logger}
}

// Process executes one finalization job.
func (p *VodProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeVodFinalize {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.VodFinalizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return p.pipeline.Finalize(ctx, payload)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *VodProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("vod worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
