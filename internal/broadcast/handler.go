package broadcast

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/livemarket/backend/internal/middleware"
	"github.com/livemarket/backend/internal/models"
	"github.com/livemarket/backend/pkg/response"
)

// ProductRequest is one listing in a create/update body.
type ProductRequest struct {
	ProductID  string `json:"product_id" binding:"required"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

// CreateRequest is the body for POST /broadcasts.
type CreateRequest struct {
	CategoryID    string           `json:"category_id" binding:"required"`
	Title         string           `json:"title" binding:"required"`
	Notice        string           `json:"notice"`
	ScheduledAt   time.Time        `json:"scheduled_at" binding:"required"`
	ThumbnailURL  string           `json:"thumbnail_url"`
	WaitScreenURL string           `json:"wait_screen_url"`
	Products      []ProductRequest `json:"products"`
	Qcards        []string         `json:"qcards"`
}

// UpdateRequest is the body for PUT /broadcasts/:id.
type UpdateRequest struct {
	Title         string           `json:"title" binding:"required"`
	Notice        string           `json:"notice"`
	ScheduledAt   *time.Time       `json:"scheduled_at"`
	ThumbnailURL  string           `json:"thumbnail_url"`
	WaitScreenURL string           `json:"wait_screen_url"`
	Products      []ProductRequest `json:"products"`
	Qcards        []string         `json:"qcards"`
}

// ReasonRequest carries a reason for cancel/force-stop.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// Handler handles broadcast lifecycle HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a broadcast handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func parseProducts(in []ProductRequest) ([]ProductInput, bool) {
	out := make([]ProductInput, 0, len(in))
	for _, p := range in {
		id, err := uuid.Parse(p.ProductID)
		if err != nil {
			return nil, false
		}
		out = append(out, ProductInput{ProductID: id, PriceCents: p.PriceCents, Quantity: p.Quantity})
	}
	return out, true
}

// Create handles POST /broadcasts (seller reserves a broadcast).
func (h *Handler) Create(c *gin.Context) {
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	categoryID, err := uuid.Parse(req.CategoryID)
	if err != nil {
		response.BadRequest(c, "invalid category id")
		return
	}
	products, ok := parseProducts(req.Products)
	if !ok {
		response.BadRequest(c, "invalid product id")
		return
	}

	b, err := h.service.Create(c.Request.Context(), sellerID, CreateInput{
		CategoryID:    categoryID,
		Title:         req.Title,
		Notice:        req.Notice,
		ScheduledAt:   req.ScheduledAt,
		ThumbnailURL:  req.ThumbnailURL,
		WaitScreenURL: req.WaitScreenURL,
		Products:      products,
		Qcards:        req.Qcards,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Created(c, gin.H{"broadcast": b})
}

// Get handles GET /broadcasts/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	b, products, qcards, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, gin.H{"broadcast": b, "products": products, "qcards": qcards})
}

// List handles GET /broadcasts with optional seller_id and status filters.
func (h *Handler) List(c *gin.Context) {
	var sellerID *uuid.UUID
	if s := c.Query("seller_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			response.BadRequest(c, "invalid seller id")
			return
		}
		sellerID = &id
	}
	var statuses []models.BroadcastStatus
	for _, s := range c.QueryArray("status") {
		st := models.BroadcastStatus(s)
		if !st.Valid() {
			response.BadRequest(c, "unknown status "+s)
			return
		}
		statuses = append(statuses, st)
	}
	list, err := h.service.List(c.Request.Context(), sellerID, statuses)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, gin.H{"broadcasts": list})
}

// Update handles PUT /broadcasts/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	products, ok := parseProducts(req.Products)
	if !ok {
		response.BadRequest(c, "invalid product id")
		return
	}

	b, err := h.service.Update(c.Request.Context(), id, sellerID, UpdateInput{
		Title:         req.Title,
		Notice:        req.Notice,
		ScheduledAt:   req.ScheduledAt,
		ThumbnailURL:  req.ThumbnailURL,
		WaitScreenURL: req.WaitScreenURL,
		Products:      products,
		Qcards:        req.Qcards,
	})
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, gin.H{"broadcast": b})
}

// Cancel handles POST /broadcasts/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req ReasonRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.service.Cancel(c.Request.Context(), id, sellerID, req.Reason); err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, gin.H{"status": models.StatusCanceled})
}

// Start handles POST /broadcasts/:id/start.
func (h *Handler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	res, err := h.service.Start(c.Request.Context(), id, sellerID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, res)
}

// Join handles POST /broadcasts/:id/join.
func (h *Handler) Join(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	viewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	res, err := h.service.Join(c.Request.Context(), id, viewerID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, res)
}

// Leave handles POST /broadcasts/:id/leave.
func (h *Handler) Leave(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	viewerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.service.Leave(c.Request.Context(), id, viewerID); err != nil {
		response.AppError(c, err)
		return
	}
	response.NoContent(c)
}

// End handles POST /broadcasts/:id/end (seller ends own broadcast).
func (h *Handler) End(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.service.End(c.Request.Context(), id, sellerID, true); err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, gin.H{"status": models.StatusEnded})
}

// ForceStop handles POST /admin/broadcasts/:id/stop.
func (h *Handler) ForceStop(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	var req ReasonRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.service.ForceStop(c.Request.Context(), id, req.Reason); err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, gin.H{"status": models.StatusStopped})
}

// Pin handles POST /broadcasts/:id/products/:listingId/pin.
func (h *Handler) Pin(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	listingID, err := uuid.Parse(c.Param("listingId"))
	if err != nil {
		response.BadRequest(c, "invalid listing id")
		return
	}
	sellerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.service.Pin(c.Request.Context(), id, sellerID, listingID); err != nil {
		response.AppError(c, err)
		return
	}
	response.NoContent(c)
}

// Statistics handles GET /admin/broadcasts/:id/statistics.
func (h *Handler) Statistics(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	stats, err := h.service.Statistics(c.Request.Context(), id)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.OK(c, stats)
}
