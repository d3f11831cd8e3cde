// Package webhooks notifies merchant systems about transaction changes.
//
// Acquirers subscribe a URL to transaction events. Every delivery is a JSON
// POST signed with HMAC-SHA256 of the body under the subscription secret:
//
//	X-Paybox-Event:     transaction.done
//	X-Paybox-Timestamp: 1746352800
//	X-Paybox-Signature: 5d41402abc4b2a76...
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/paybox/internal/circuitbreaker"
	"github.com/mbd888/paybox/internal/paybox"
	"github.com/mbd888/paybox/internal/retry"
	"github.com/mbd888/paybox/internal/security"
	"github.com/mbd888/paybox/internal/traces"
	"go.opentelemetry.io/otel/codes"
)

// ErrSubscriptionNotFound is returned for unknown subscription IDs.
var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

// EventType represents the type of webhook event
type EventType string

const (
	EventTransactionDone    EventType = "transaction.done"
	EventTransactionPending EventType = "transaction.pending"
	EventTransactionCancel  EventType = "transaction.cancel"
	EventTransactionError   EventType = "transaction.error"
)

// AllEvents lists the event types a subscription may ask for.
var AllEvents = []EventType{
	EventTransactionDone,
	EventTransactionPending,
	EventTransactionCancel,
	EventTransactionError,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, e := range AllEvents {
		if e == t {
			return true
		}
	}
	return false
}

// EventForState maps a transaction state to its event. Drafts have none.
func EventForState(s paybox.State) (EventType, bool) {
	switch s {
	case paybox.StateDone:
		return EventTransactionDone, true
	case paybox.StatePending:
		return EventTransactionPending, true
	case paybox.StateCancel:
		return EventTransactionCancel, true
	case paybox.StateError:
		return EventTransactionError, true
	}
	return "", false
}

// Event represents a webhook event
type Event struct {
	ID          string              `json:"id"`
	Type        EventType           `json:"type"`
	Timestamp   time.Time           `json:"timestamp"`
	Transaction *paybox.Transaction `json:"transaction"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	AcquirerID          string      `json:"acquirerId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"`
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}

// Wants reports whether the subscription is active and asked for t.
func (s *Subscription) Wants(t EventType) bool {
	if !s.Active {
		return false
	}
	for _, e := range s.Events {
		if e == t {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByAcquirer(ctx context.Context, acquirerID string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// DefaultMaxFailures is how many failed deliveries in a row disable a
// subscription.
const DefaultMaxFailures = 10

// Dispatcher delivers events to subscribers.
type Dispatcher struct {
	store       Store
	client      *http.Client
	policy      retry.Policy
	breaker     *circuitbreaker.Breaker
	endpoints   security.EndpointPolicy
	maxFailures int
	logger      *slog.Logger
	now         func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:       store,
		client:      &http.Client{Timeout: 10 * time.Second},
		policy:      retry.DefaultPolicy,
		breaker:     circuitbreaker.New("webhooks", 5, time.Minute),
		maxFailures: DefaultMaxFailures,
		logger:      logger,
		now:         time.Now,
	}
}

// WithTimeout sets the per-request HTTP timeout.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.client = &http.Client{Timeout: timeout}
	}
	return d
}

// WithRetryPolicy sets how failed deliveries are retried.
func (d *Dispatcher) WithRetryPolicy(p retry.Policy) *Dispatcher {
	d.policy = p
	return d
}

// WithEndpointPolicy sets which URLs deliveries may target. It is checked
// again before each delivery since DNS may change after registration.
func (d *Dispatcher) WithEndpointPolicy(p security.EndpointPolicy) *Dispatcher {
	d.endpoints = p
	return d
}

// WithMaxFailures sets how many failed deliveries disable a subscription.
func (d *Dispatcher) WithMaxFailures(n int) *Dispatcher {
	if n > 0 {
		d.maxFailures = n
	}
	return d
}

// EndpointPolicy returns the policy used to vet subscription URLs.
func (d *Dispatcher) EndpointPolicy() security.EndpointPolicy {
	return d.endpoints
}

// Dispatch sends event to every subscription of acquirerID that wants it.
// Deliveries run in the background; Wait blocks until they finish.
func (d *Dispatcher) Dispatch(ctx context.Context, acquirerID string, event *Event) (int, error) {
	subs, err := d.store.ListByAcquirer(ctx, acquirerID)
	if err != nil {
		return 0, fmt.Errorf("failed to get subscriptions: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		if !sub.Wants(event.Type) {
			continue
		}
		sent++
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			d.deliver(sub, event, payload)
		}(sub)
	}
	return sent, nil
}

// Go runs fn in the background and tracks it like a delivery, so Wait
// also covers work that has not reached Dispatch yet.
func (d *Dispatcher) Go(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Wait blocks until in-flight deliveries are done.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Forget drops the delivery state kept for a subscription.
func (d *Dispatcher) Forget(subscriptionID string) {
	d.breaker.Forget(subscriptionID)
}

func (d *Dispatcher) deliver(sub *Subscription, event *Event, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctx, span := traces.StartSpan(ctx, "webhooks.deliver", traces.WebhookID(sub.ID))
	defer span.End()
	if event.Transaction != nil {
		span.SetAttributes(traces.TransactionID(event.Transaction.ID))
	}

	err := d.breaker.Do(sub.ID, func() error {
		return d.policy.Do(ctx, func(ctx context.Context, attempt int) error {
			return d.post(ctx, sub, event, payload)
		})
	})

	result := "success"
	if err != nil {
		result = "failure"
		if errors.Is(err, circuitbreaker.ErrOpen) {
			result = "circuit_open"
		}
	}
	deliveriesTotal.WithLabelValues(string(event.Type), result).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}

	d.record(ctx, sub.ID, event, err)
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	if err := d.endpoints.Validate(ctx, sub.URL); err != nil {
		return retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "paybox-webhooks/1")
	req.Header.Set("X-Paybox-Event", string(event.Type))
	req.Header.Set("X-Paybox-Delivery", event.ID)
	req.Header.Set("X-Paybox-Timestamp", strconv.FormatInt(event.Timestamp.Unix(), 10))
	req.Header.Set("X-Paybox-Signature", Sign(payload, sub.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// record stores the delivery outcome. The subscription is reloaded so a
// concurrent delete or update is not overwritten with stale data.
func (d *Dispatcher) record(ctx context.Context, id string, event *Event, deliveryErr error) {
	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return
	}

	if deliveryErr == nil {
		now := d.now().UTC()
		sub.LastSuccess = &now
		sub.LastError = ""
		sub.ConsecutiveFailures = 0
	} else {
		sub.LastError = deliveryErr.Error()
		sub.ConsecutiveFailures++
		d.logger.Warn("webhook delivery failed",
			"webhook_id", sub.ID, "event", event.Type, "failures", sub.ConsecutiveFailures, "error", deliveryErr)
		if sub.ConsecutiveFailures >= d.maxFailures && sub.Active {
			sub.Active = false
			d.logger.Warn("webhook disabled after repeated failures",
				"webhook_id", sub.ID, "acquirer_id", sub.AcquirerID, "failures", sub.ConsecutiveFailures)
		}
	}

	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Error("failed to record webhook delivery", "webhook_id", sub.ID, "error", err)
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret, as sent in
// X-Paybox-Signature.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
