package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/paybox/internal/auth"
)

// Handler exposes the hub over HTTP.
type Handler struct {
	hub             *Hub
	defaultAcquirer string
}

// NewHandler creates a new stream handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// WithDefaultAcquirer sets the acquirer used when API authentication is off.
func (h *Handler) WithDefaultAcquirer(id string) *Handler {
	h.defaultAcquirer = id
	return h
}

// RegisterRoutes sets up the stream routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/stream", h.Stream)
}

// Stream handles GET /v1/stream
func (h *Handler) Stream(c *gin.Context) {
	acquirerID := auth.GetAuthenticatedAcquirer(c)
	if acquirerID == "" {
		acquirerID = h.defaultAcquirer
	}
	if acquirerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "An acquirer API key is required",
		})
		return
	}
	h.hub.HandleWebSocket(c.Writer, c.Request, acquirerID)
}
