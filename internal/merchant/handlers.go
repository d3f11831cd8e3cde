package merchant

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/paybox/internal/auth"
)

// Handler exposes the caller's acquirer profile.
type Handler struct {
	service         *Service
	defaultAcquirer string
}

// NewHandler creates a new merchant handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithDefaultAcquirer sets the acquirer shown when API authentication is off.
func (h *Handler) WithDefaultAcquirer(id string) *Handler {
	h.defaultAcquirer = id
	return h
}

// RegisterRoutes sets up acquirer routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/acquirer", h.GetAcquirer)
}

// GetAcquirer handles GET /v1/acquirer. Keys are never serialised.
func (h *Handler) GetAcquirer(c *gin.Context) {
	id := auth.GetAuthenticatedAcquirer(c)
	if id == "" {
		id = h.defaultAcquirer
	}
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "An acquirer API key is required",
		})
		return
	}

	a, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrAcquirerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Acquirer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acquirer": a})
}
