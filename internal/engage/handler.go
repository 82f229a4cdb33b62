package engage

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livemarket/backend/internal/middleware"
	"github.com/livemarket/backend/internal/notify"
	"github.com/livemarket/backend/pkg/response"
)

// Handler exposes engagement endpoints: like, report, counts, device prefs.
type Handler struct {
	agg      *Aggregator
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewHandler creates an engagement handler.
func NewHandler(agg *Aggregator, notifier notify.Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{agg: agg, notifier: notifier, logger: logger}
}

// Like handles POST /broadcasts/:id/like. Pure toggle per member.
func (h *Handler) Like(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	memberID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	liked, err := h.agg.ToggleLike(c.Request.Context(), broadcastID, memberID.String())
	if err != nil {
		h.logger.Error("toggle like failed", zap.Error(err), zap.String("broadcast_id", broadcastID.String()))
		response.Internal(c, "failed to toggle like")
		return
	}
	count, err := h.agg.LikeCount(c.Request.Context(), broadcastID)
	if err != nil {
		response.Internal(c, "failed to read like count")
		return
	}
	h.notifier.NotifyAll(broadcastID, "like_changed", gin.H{"likes": count})
	response.OK(c, gin.H{"liked": liked, "likes": count})
}

// Report handles POST /broadcasts/:id/report. Duplicate reports from the
// same member are absorbed without double counting.
func (h *Handler) Report(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	memberID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.agg.Report(c.Request.Context(), broadcastID, memberID.String()); err != nil {
		h.logger.Error("report failed", zap.Error(err), zap.String("broadcast_id", broadcastID.String()))
		response.Internal(c, "failed to report")
		return
	}
	response.OK(c, gin.H{"reported": true})
}

// Counts handles GET /broadcasts/:id/counts.
func (h *Handler) Counts(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	ctx := c.Request.Context()
	active, err := h.agg.ActiveCount(ctx, broadcastID)
	if err != nil {
		response.Internal(c, "failed to read counts")
		return
	}
	uniques, err := h.agg.UniqueCount(ctx, broadcastID)
	if err != nil {
		response.Internal(c, "failed to read counts")
		return
	}
	likes, err := h.agg.LikeCount(ctx, broadcastID)
	if err != nil {
		response.Internal(c, "failed to read counts")
		return
	}
	response.OK(c, gin.H{"active": active, "unique": uniques, "likes": likes})
}

// SetDevicePrefs handles PUT /broadcasts/:id/device-prefs (seller devices
// for this broadcast, e.g. camera/mic selection).
func (h *Handler) SetDevicePrefs(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	var prefs map[string]string
	if err := c.ShouldBindJSON(&prefs); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.agg.SetDevicePrefs(c.Request.Context(), broadcastID, prefs); err != nil {
		response.Internal(c, "failed to store device prefs")
		return
	}
	response.OK(c, prefs)
}

// DevicePrefs handles GET /broadcasts/:id/device-prefs.
func (h *Handler) DevicePrefs(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	prefs, err := h.agg.DevicePrefs(c.Request.Context(), broadcastID)
	if err != nil {
		response.Internal(c, "failed to read device prefs")
		return
	}
	response.OK(c, prefs)
}
