package moderation

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livemarket/backend/internal/middleware"
	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/pkg/response"
)

// SanctionRequest is the body for POST /broadcasts/:id/sanctions.
type SanctionRequest struct {
	ViewerID     string `json:"viewer_id" binding:"required"`
	Kind         string `json:"kind" binding:"required"`
	Reason       string `json:"reason"`
	ConnectionID string `json:"connection_id"`
}

// Handler handles moderation HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a moderation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Sanction handles POST /broadcasts/:id/sanctions (seller/admin mutes or
// force-exits a viewer).
func (h *Handler) Sanction(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	actorRole := c.GetString(middleware.ContextUserRole)

	var req SanctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	viewerID, err := uuid.Parse(req.ViewerID)
	if err != nil {
		response.BadRequest(c, "invalid viewer id")
		return
	}

	sanction, err := h.service.Sanction(c.Request.Context(), broadcastID, actorID, actorRole, SanctionInput{
		ViewerID:     viewerID,
		Kind:         models.SanctionKind(req.Kind),
		Reason:       req.Reason,
		ConnectionID: req.ConnectionID,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Created(c, gin.H{"sanction": sanction})
}

// List handles GET /broadcasts/:id/sanctions.
func (h *Handler) List(c *gin.Context) {
	broadcastID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	actorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	actorRole := c.GetString(middleware.ContextUserRole)

	list, err := h.service.List(c.Request.Context(), broadcastID, actorID, actorRole)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, gin.H{"sanctions": list})
}
