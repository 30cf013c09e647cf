package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes token management over HTTP.
type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

// RegisterProtectedRoutes mounts self-service token routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.me)
	r.GET("/auth/tokens", h.listTokens)
	r.DELETE("/auth/tokens/:id", h.revokeToken)
}

// RegisterAdminRoutes mounts token issuance for operators.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/tokens", h.issueToken)
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, ActorFrom(c))
}

func (h *Handler) listTokens(c *gin.Context) {
	actor := ActorFrom(c)
	toks, err := h.mgr.store.GetByUser(c.Request.Context(), actor.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list tokens",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": toks, "count": len(toks)})
}

func (h *Handler) revokeToken(c *gin.Context) {
	actor := ActorFrom(c)
	if err := h.mgr.Revoke(c.Request.Context(), actor.UserID, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Token not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (h *Handler) issueToken(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
		Role   Role   `json:"role" binding:"required"`
		Name   string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
		return
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "role must be customer, provider or admin",
		})
		return
	}

	raw, tok, err := h.mgr.Issue(c.Request.Context(), req.UserID, req.Role, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to issue token",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":   raw,
		"tokenId": tok.ID,
		"warning": "Store this token securely. It will not be shown again.",
	})
}
