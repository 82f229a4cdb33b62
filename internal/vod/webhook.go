package vod

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/pkg/queue"
	"github.com/livemarket/backend/pkg/response"
)

// SessionResolver maps a provider session id back to its broadcast.
type SessionResolver interface {
	GetBySessionID(ctx context.Context, sessionID string) (*models.Broadcast, error)
}

// Enqueuer hands the finalization job to the worker queue.
type Enqueuer interface {
	EnqueueVodFinalize(ctx context.Context, payload queue.VodFinalizePayload) error
}

// RecordingReadyRequest is the provider's recording webhook body.
type RecordingReadyRequest struct {
	Event           string  `json:"event"`
	Status          string  `json:"status"`
	SessionID       string  `json:"sessionId" binding:"required"`
	RecordingID     string  `json:"recordingId"`
	URL             string  `json:"url"`
	Size            int64   `json:"size"`
	DurationSeconds float64 `json:"duration"`
}

// Handler handles the recording webhook and VOD read endpoints.
type Handler struct {
	repo     *Repository
	resolver SessionResolver
	jobs     Enqueuer
	logger   *zap.Logger
}

// NewHandler creates a VOD handler.
func NewHandler(repo *Repository, resolver SessionResolver, jobs Enqueuer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, resolver: resolver, jobs: jobs, logger: logger}
}

// RecordingReady handles POST /webhooks/recordings. It only resolves and
// enqueues; the worker owns the heavy finalization so webhook delivery
// stays fast and retryable.
func (h *Handler) RecordingReady(c *gin.Context) {
	var req RecordingReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid webhook payload: "+err.Error())
		return
	}
	if req.Status != "" && req.Status != "ready" && req.Status != "stopped" {
		// Intermediate recording states are acknowledged and ignored.
		response.NoContent(c)
		return
	}

	b, err := h.resolver.GetBySessionID(c.Request.Context(), req.SessionID)
	if err != nil {
		h.logger.Warn("webhook for unknown session",
			zap.String("session_id", req.SessionID), zap.Error(err))
		response.AppError(c, err)
		return
	}

	err = h.jobs.EnqueueVodFinalize(c.Request.Context(), queue.VodFinalizePayload{
		BroadcastID: b.ID,
		RecordingID: req.RecordingID,
		SessionID:   req.SessionID,
		URL:         req.URL,
		Size:        req.Size,
		Duration:    req.DurationSeconds,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}
	h.logger.Info("finalization enqueued",
		zap.String("broadcast_id", b.ID.String()),
		zap.String("recording_id", req.RecordingID))
	response.NoContent(c)
}

// ListPublic handles GET /vods.
func (h *Handler) ListPublic(c *gin.Context) {
	list, err := h.repo.ListPublic(c.Request.Context())
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, gin.H{"vods": list})
}

// GetByBroadcast handles GET /broadcasts/:id/vod.
func (h *Handler) GetByBroadcast(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	v, err := h.repo.VodByBroadcast(c.Request.Context(), id)
	if err != nil {
		response.AppError(c, err)
		return
	}
	if v == nil {
		response.NotFound(c, "vod not found")
		return
	}
	response.OK(c, gin.H{"vod": v})
}

// SetVisibilityRequest is the body for PATCH /admin/vods/:id/visibility.
type SetVisibilityRequest struct {
	Visibility string `json:"visibility" binding:"required"`
}

// SetVisibility handles PATCH /admin/vods/:id/visibility.
func (h *Handler) SetVisibility(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid vod id")
		return
	}
	var req SetVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	vis := models.VodVisibility(req.Visibility)
	switch vis {
	case models.VodPublic, models.VodPrivate, models.VodAdminLock:
	default:
		response.BadRequest(c, "unknown visibility "+req.Visibility)
		return
	}
	if err := h.repo.SetVisibility(c.Request.Context(), id, vis); err != nil {
		response.AppError(c, err)
		return
	}
	response.NoContent(c)
}
