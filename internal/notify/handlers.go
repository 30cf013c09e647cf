package notify

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fixpoint-app/fixpoint/internal/auth"
	"github.com/fixpoint-app/fixpoint/internal/security"
)

// Handler exposes webhook subscription management over HTTP.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterProtectedRoutes mounts webhook routes on an authenticated group.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.subscribe)
	r.GET("/webhooks", h.list)
	r.DELETE("/webhooks/:id", h.unsubscribe)
}

func (h *Handler) subscribe(c *gin.Context) {
	actor := auth.ActorFrom(c)

	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "url is required",
		})
		return
	}
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}

	sub, secret, err := h.dispatcher.Subscribe(c.Request.Context(), actor.UserID, req.URL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create subscription",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret,
		"warning":      "Store the signing secret securely. It will not be shown again.",
	})
}

func (h *Handler) list(c *gin.Context) {
	actor := auth.ActorFrom(c)
	subs, err := h.dispatcher.List(c.Request.Context(), actor.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list subscriptions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

func (h *Handler) unsubscribe(c *gin.Context) {
	actor := auth.ActorFrom(c)
	if err := h.dispatcher.Unsubscribe(c.Request.Context(), actor.UserID, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
