package payment

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/paybox/internal/auth"
	"github.com/mbd888/paybox/internal/paybox"
	"github.com/mbd888/paybox/internal/validation"
)

// Handler serves the gateway callbacks and the payment API.
type Handler struct {
	service         *Service
	defaultAcquirer string
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithDefaultAcquirer sets the acquirer used by unauthenticated API calls.
// Only meaningful when API authentication is disabled.
func (h *Handler) WithDefaultAcquirer(id string) *Handler {
	h.defaultAcquirer = id
	return h
}

// RegisterCallbackRoutes sets up the routes the gateway and the payer's
// browser call back on.
func (h *Handler) RegisterCallbackRoutes(r gin.IRoutes) {
	r.GET(paybox.IPNPath, h.IPN)
	r.POST(paybox.IPNPath, h.IPN)
	r.GET(paybox.DPNPath, h.DPN)
}

// RegisterRoutes sets up the payment API routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.CreatePayment)
	r.GET("/payments", h.ListPayments)
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/payments/:id/alerts", h.ListAlerts)
}

// RegisterFormRoutes sets up the browser-facing checkout form. The form is
// reached by payers, so it sits outside API authentication.
func (h *Handler) RegisterFormRoutes(r gin.IRoutes) {
	r.GET("/checkout/:id", h.Form)
}

// IPN handles the gateway's server-to-server notification. A 200 with an
// empty body acknowledges it; any other status makes the gateway retry.
func (h *Handler) IPN(c *gin.Context) {
	if _, err := h.service.HandleNotification(c.Request.Context(), callbackValues(c), SourceIPN); err != nil {
		status, code := notificationStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// DPN handles the payer's browser returning from the gateway. The
// notification is applied like an IPN, then the browser is sent back to the
// shop page it came from.
func (h *Handler) DPN(c *gin.Context) {
	values := callbackValues(c)
	if _, err := h.service.HandleNotification(c.Request.Context(), values, SourceDPN); err != nil {
		status, code := notificationStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, localRedirect(values.Get("return_url")))
}

// callbackValues merges query and form values; the gateway may use either.
func callbackValues(c *gin.Context) url.Values {
	values := c.Request.URL.Query()
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil {
			for k, vs := range c.Request.PostForm {
				if values.Get(k) == "" {
					values[k] = vs
				}
			}
		}
	}
	return values
}

func notificationStatus(err error) (int, string) {
	switch {
	case paybox.IsLookupError(err):
		return http.StatusNotFound, "transaction_not_found"
	case errors.Is(err, paybox.ErrAuthenticity):
		return http.StatusForbidden, "invalid_signature"
	case errors.Is(err, paybox.ErrUnrecognizedResponseCode):
		return http.StatusBadRequest, "unrecognized_response"
	case errors.Is(err, paybox.ErrMalformedNotification):
		return http.StatusBadRequest, "malformed_notification"
	case errors.Is(err, ErrStateConflict):
		return http.StatusConflict, "state_conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// localRedirect accepts only same-site absolute paths.
func localRedirect(raw string) string {
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || !strings.HasPrefix(u.Path, "/") ||
		strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	return raw
}

// acquirer returns the caller's acquirer, or false if none is known.
func (h *Handler) acquirer(c *gin.Context) (string, bool) {
	if id := auth.GetAuthenticatedAcquirer(c); id != "" {
		return id, true
	}
	return h.defaultAcquirer, h.defaultAcquirer != ""
}

// CreatePayment handles POST /v1/payments
func (h *Handler) CreatePayment(c *gin.Context) {
	acquirerID, ok := h.acquirer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "An acquirer API key is required",
		})
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	checks := []validation.Validator{
		validation.Required("reference", req.Reference),
		validation.MaxLength("reference", req.Reference, 250),
		validation.NoSpaces("reference", req.Reference),
		validation.ValidAmount("amount", req.Amount),
		validation.ValidEmail("payerEmail", req.PayerEmail),
		validation.ValidLocalPath("returnUrl", req.ReturnURL),
	}
	if req.Currency != "" {
		checks = append(checks, validation.ValidCurrencyCode("currency", req.Currency))
	}
	if errs := validation.Validate(checks...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	checkout, err := h.service.CreatePayment(c.Request.Context(), acquirerID, req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "payment_failed"
		msg := "Failed to create payment"
		switch {
		case errors.Is(err, ErrDuplicateReference):
			status, code, msg = http.StatusConflict, "duplicate_reference", err.Error()
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidRequest):
			status, code, msg = http.StatusBadRequest, "invalid_request", err.Error()
		case errors.Is(err, paybox.ErrConfiguration):
			status, code, msg = http.StatusUnprocessableEntity, "acquirer_misconfigured", err.Error()
		}
		c.JSON(status, gin.H{"error": code, "message": msg})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction": checkout.Transaction,
		"actionUrl":   checkout.Request.ActionURL,
		"fields":      checkout.Request.FormValues(),
		"formUrl":     "/checkout/" + checkout.Transaction.ID,
	})
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	tx, ok := h.ownedTransaction(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// ListPayments handles GET /v1/payments
func (h *Handler) ListPayments(c *gin.Context) {
	acquirerID, _ := h.acquirer(c)
	limit, _ := strconv.Atoi(c.Query("limit"))

	txs, next, more, err := h.service.List(c.Request.Context(), acquirerID, limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list payments"})
		return
	}
	if txs == nil {
		txs = []*paybox.Transaction{}
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"count":        len(txs),
		"nextCursor":   next,
		"hasMore":      more,
	})
}

// ListAlerts handles GET /v1/payments/:id/alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	tx, ok := h.ownedTransaction(c)
	if !ok {
		return
	}
	alerts, err := h.service.Alerts(c.Request.Context(), tx.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list alerts"})
		return
	}
	if alerts == nil {
		alerts = []*Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// Form handles GET /checkout/:id and serves the auto-submitting form that
// sends the payer to the gateway.
func (h *Handler) Form(c *gin.Context) {
	req, err := h.service.SignedRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			c.String(http.StatusNotFound, "Payment not found")
		case errors.Is(err, ErrNotPayable):
			c.String(http.StatusConflict, "This payment has already been processed")
		default:
			c.String(http.StatusInternalServerError, "Payment is unavailable")
		}
		return
	}

	var buf bytes.Buffer
	if err := RenderForm(&buf, req); err != nil {
		c.String(http.StatusInternalServerError, "Payment is unavailable")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// ownedTransaction loads :id and hides transactions of other acquirers.
func (h *Handler) ownedTransaction(c *gin.Context) (*paybox.Transaction, bool) {
	tx, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err == nil {
		if acquirerID, ok := h.acquirer(c); ok && tx.AcquirerID != acquirerID {
			err = ErrPaymentNotFound
		}
	}
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Payment not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return nil, false
	}
	return tx, true
}
