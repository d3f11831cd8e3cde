package webhooks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/paybox/internal/auth"
	"github.com/mbd888/paybox/internal/idgen"
	"github.com/mbd888/paybox/internal/validation"
)

// maxSubscriptions bounds the subscriptions of one acquirer.
const maxSubscriptions = 20

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store           Store
	dispatcher      *Dispatcher
	defaultAcquirer string
}

// NewHandler creates a new webhook handler
func NewHandler(store Store, dispatcher *Dispatcher) *Handler {
	return &Handler{store: store, dispatcher: dispatcher}
}

// WithDefaultAcquirer sets the acquirer used when API authentication is off.
func (h *Handler) WithDefaultAcquirer(id string) *Handler {
	h.defaultAcquirer = id
	return h
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks", h.ListWebhooks)
	r.DELETE("/webhooks/:webhookId", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events"`
}

func (h *Handler) acquirer(c *gin.Context) (string, bool) {
	if id := auth.GetAuthenticatedAcquirer(c); id != "" {
		return id, true
	}
	if h.defaultAcquirer == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "An acquirer API key is required",
		})
		return "", false
	}
	return h.defaultAcquirer, true
}

// CreateWebhook handles POST /v1/webhooks. An empty event list subscribes
// to every event.
func (h *Handler) CreateWebhook(c *gin.Context) {
	acquirerID, ok := h.acquirer(c)
	if !ok {
		return
	}

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(validation.MaxLength("url", req.URL, 2048)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	if err := h.dispatcher.EndpointPolicy().Validate(c.Request.Context(), req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !et.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_event",
				"message": "Unknown event type: " + e,
				"allowed": AllEvents,
			})
			return
		}
		events = append(events, et)
	}
	if len(events) == 0 {
		events = append(events, AllEvents...)
	}

	existing, err := h.store.ListByAcquirer(c.Request.Context(), acquirerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": "Failed to create webhook"})
		return
	}
	if len(existing) >= maxSubscriptions {
		c.JSON(http.StatusConflict, gin.H{"error": "limit_reached", "message": "Too many webhooks for this acquirer"})
		return
	}

	secret := idgen.Hex(32)
	sub := &Subscription{
		ID:         idgen.WithPrefix("wh_"),
		AcquirerID: acquirerID,
		URL:        req.URL,
		Secret:     secret,
		Events:     events,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": "Failed to create webhook"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret,
		"usage": gin.H{
			"signature": "hex HMAC-SHA256 of the request body keyed with the secret",
			"header":    "X-Paybox-Signature",
		},
	})
}

// ListWebhooks handles GET /v1/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	acquirerID, ok := h.acquirer(c)
	if !ok {
		return
	}
	subs, err := h.store.ListByAcquirer(c.Request.Context(), acquirerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list webhooks"})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// DeleteWebhook handles DELETE /v1/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	acquirerID, ok := h.acquirer(c)
	if !ok {
		return
	}
	id := c.Param("webhookId")

	sub, err := h.store.Get(c.Request.Context(), id)
	if err == nil && sub.AcquirerID != acquirerID {
		err = ErrSubscriptionNotFound
	}
	if err == nil {
		err = h.store.Delete(c.Request.Context(), id)
	}
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Webhook not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed", "message": "Failed to delete webhook"})
		return
	}
	h.dispatcher.Forget(id)

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "message": "Webhook deleted"})
}
