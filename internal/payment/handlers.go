package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/store"
)

// Handler provides HTTP endpoints for payment settlement.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up party-facing payment routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/bookings/:id/payment", h.GetBookingPayment)
	r.POST("/payments/:id/escrow", h.EscrowIn)
	r.POST("/payments/:id/release", h.Release)
}

// RegisterAdminRoutes sets up the direct-refund route. Admin only.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payments/:id/refund", h.Refund)
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// GetBookingPayment handles GET /v1/bookings/:id/payment
func (h *Handler) GetBookingPayment(c *gin.Context) {
	p, err := h.service.GetByBooking(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// EscrowIn handles POST /v1/payments/:id/escrow
func (h *Handler) EscrowIn(c *gin.Context) {
	var req struct {
		Method   string `json:"method" binding:"required"`
		ProofRef string `json:"proofRef"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body requires a payment method",
		})
		return
	}

	p, err := h.service.EscrowIn(c.Request.Context(), c.Param("id"), req.Method,
		req.ProofRef, auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// Release handles POST /v1/payments/:id/release
func (h *Handler) Release(c *gin.Context) {
	p, err := h.service.Release(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// Refund handles POST /v1/admin/payments/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	var req struct {
		Reason       string `json:"reason" binding:"required"`
		RefundAmount int64  `json:"refundAmount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body requires a reason and refund amount",
		})
		return
	}

	p, err := h.service.Refund(c.Request.Context(), c.Param("id"), req.Reason,
		req.RefundAmount, auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Payment not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "You are not a party to this payment",
		})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrChargeRejected):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "charge_rejected",
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidState):
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
			"message": "Payment operation failed",
		})
	}
}
