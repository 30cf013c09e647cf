package requote

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/booking"
	"github.com/fixpoint-app/fixpoint/internal/payment"
	"github.com/fixpoint-app/fixpoint/internal/store"
)

// Handler provides HTTP endpoints for requote negotiation.
type Handler struct {
	service *Service
}

// NewHandler creates a new requote handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up requote routes. All require auth.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/bookings/:id/requotes", h.ProposeRequote)
	r.GET("/bookings/:id/requotes", h.ListRequotes)
	r.GET("/requotes/:id", h.GetRequote)
	r.POST("/requotes/:id/respond", h.RespondRequote)
}

// ProposeRequote handles POST /v1/bookings/:id/requotes
func (h *Handler) ProposeRequote(c *gin.Context) {
	var req struct {
		NewAmount int64  `json:"newAmount" binding:"required"`
		Reason    string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	r, err := h.service.Propose(c.Request.Context(), c.Param("id"), req.NewAmount,
		req.Reason, auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"requote": r})
}

// GetRequote handles GET /v1/requotes/:id
func (h *Handler) GetRequote(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requote": r})
}

// ListRequotes handles GET /v1/bookings/:id/requotes
func (h *Handler) ListRequotes(c *gin.Context) {
	requotes, err := h.service.ListByBooking(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requotes": requotes,
		"count":    len(requotes),
	})
}

// RespondRequote handles POST /v1/requotes/:id/respond
func (h *Handler) RespondRequote(c *gin.Context) {
	var req struct {
		Accept *bool `json:"accept" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body requires an accept field",
		})
		return
	}

	r, err := h.service.Respond(c.Request.Context(), c.Param("id"), *req.Accept, auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requote": r})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequoteNotFound) || errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Requote or booking not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "You are not a party to this requote",
		})
	case errors.Is(err, ErrAmountTooLow):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrNotOnSite) || errors.Is(err, ErrNotPending) ||
		errors.Is(err, ErrPendingExists) || errors.Is(err, payment.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": err.Error(),
		})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "A concurrent change won; retry the request",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Requote operation failed",
		})
	}
}
