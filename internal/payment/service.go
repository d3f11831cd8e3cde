package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/mbd888/paybox/internal/idgen"
	"github.com/mbd888/paybox/internal/logging"
	"github.com/mbd888/paybox/internal/money"
	"github.com/mbd888/paybox/internal/pagination"
	"github.com/mbd888/paybox/internal/paybox"
	"github.com/mbd888/paybox/internal/syncutil"
	"github.com/mbd888/paybox/internal/traces"
	"go.opentelemetry.io/otel/codes"
)

// DefaultCurrency is the ISO 4217 numeric code used when a request omits one.
const DefaultCurrency = "978"

// Service creates payments and applies gateway notifications.
type Service struct {
	store     Store
	merchants paybox.MerchantConfigSource
	signer    *paybox.Signer
	verifier  *paybox.Verifier
	currency  string
	emitters  []EventEmitter
	locks     *syncutil.KeyedMutex
	now       func() time.Time
}

// NewService creates a payment service. Transactions are resolved through
// store and acquirer configuration through merchants.
func NewService(store Store, merchants paybox.MerchantConfigSource) *Service {
	return &Service{
		store:     store,
		merchants: merchants,
		signer:    paybox.NewSigner(),
		verifier:  paybox.NewVerifier(store, merchants),
		currency:  DefaultCurrency,
		locks:     syncutil.NewKeyedMutex(0),
		now:       time.Now,
	}
}

// WithDefaultCurrency sets the currency for requests that omit one.
func (s *Service) WithDefaultCurrency(code string) *Service {
	if code != "" {
		s.currency = code
	}
	return s
}

// WithEventEmitter adds a receiver for transaction state changes.
func (s *Service) WithEventEmitter(e EventEmitter) *Service {
	if e != nil {
		s.emitters = append(s.emitters, e)
	}
	return s
}

// WithClock replaces the wall clock, including the signer's.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.signer = &paybox.Signer{Now: now}
	return s
}

// CreatePayment records a draft transaction and returns the signed request
// the payer's browser must post to the gateway.
func (s *Service) CreatePayment(ctx context.Context, acquirerID string, req CreateRequest) (_ *Checkout, retErr error) {
	ctx, span := traces.StartSpan(ctx, "payment.CreatePayment",
		traces.AcquirerID(acquirerID),
		traces.Reference(req.Reference),
		traces.Amount(req.Amount),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}
	// A space is the wire form of "/", so it would not survive the round trip.
	if strings.IndexFunc(reference, unicode.IsSpace) >= 0 {
		return nil, fmt.Errorf("%w: reference must not contain spaces", ErrInvalidRequest)
	}
	minor, ok := money.Parse(req.Amount)
	if !ok || minor <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	cfg, err := s.merchants.MerchantConfig(ctx, acquirerID)
	if err != nil {
		paymentsCreated.WithLabelValues("config_error").Inc()
		return nil, fmt.Errorf("payment: load acquirer %s: %w", acquirerID, err)
	}

	signed, err := s.signer.BuildSignedPaymentRequest(paybox.PaymentIntent{
		AmountMinorUnits: minor,
		CurrencyCode:     currency,
		Reference:        reference,
		PayerEmail:       req.PayerEmail,
		ReturnURL:        req.ReturnURL,
	}, cfg)
	if err != nil {
		paymentsCreated.WithLabelValues("config_error").Inc()
		return nil, err
	}

	now := s.now().UTC()
	tx := &paybox.Transaction{
		ID:         uuid.NewString(),
		Reference:  reference,
		AcquirerID: acquirerID,
		Amount:     money.Format(minor),
		Currency:   currency,
		PayerEmail: req.PayerEmail,
		ReturnURL:  req.ReturnURL,
		State:      paybox.StateDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			paymentsCreated.WithLabelValues("duplicate").Inc()
			return nil, err
		}
		paymentsCreated.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("payment: create transaction: %w", err)
	}

	paymentsCreated.WithLabelValues("ok").Inc()
	logging.L(ctx).Info("payment created",
		"transaction_id", tx.ID,
		"reference", tx.Reference,
		"acquirer_id", acquirerID,
		"amount", tx.Amount,
	)
	return &Checkout{Transaction: tx, Request: signed}, nil
}

// SignedRequest re-signs the redirect request of a draft transaction, for
// a browser coming back to the payment form.
func (s *Service) SignedRequest(ctx context.Context, id string) (*paybox.SignedRequest, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.State != paybox.StateDraft {
		return nil, ErrNotPayable
	}
	minor, ok := money.Parse(tx.Amount)
	if !ok {
		return nil, ErrInvalidAmount
	}
	cfg, err := s.merchants.MerchantConfig(ctx, tx.AcquirerID)
	if err != nil {
		return nil, fmt.Errorf("payment: load acquirer %s: %w", tx.AcquirerID, err)
	}
	return s.signer.BuildSignedPaymentRequest(paybox.PaymentIntent{
		AmountMinorUnits: minor,
		CurrencyCode:     tx.Currency,
		Reference:        tx.Reference,
		PayerEmail:       tx.PayerEmail,
		ReturnURL:        tx.ReturnURL,
	}, cfg)
}

// Get returns a transaction by ID.
func (s *Service) Get(ctx context.Context, id string) (*paybox.Transaction, error) {
	return s.store.Get(ctx, id)
}

// List returns one page of transactions, newest first.
func (s *Service) List(ctx context.Context, acquirerID string, limit int, cursor string) ([]*paybox.Transaction, string, bool, error) {
	c, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	limit = pagination.ClampLimit(limit)
	txs, err := s.store.List(ctx, acquirerID, limit+1, c)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(txs, limit, func(tx *paybox.Transaction) (time.Time, string) {
		return tx.CreatedAt, tx.ID
	})
	return page, next, more, nil
}

// Alerts returns the operator alerts raised for a transaction.
func (s *Service) Alerts(ctx context.Context, id string) ([]*Alert, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAlerts(ctx, id)
}

// HandleNotification authenticates a gateway callback and applies it to its
// transaction. Notifications for one reference are serialised; replaying a
// notification leaves the transaction unchanged.
func (s *Service) HandleNotification(ctx context.Context, values url.Values, source Source) (_ *NotificationResult, retErr error) {
	ctx, span := traces.StartSpan(ctx, "payment.HandleNotification",
		traces.Source(string(source)),
		traces.Reference(values.Get("reference")),
		traces.ResponseCode(values.Get("response")),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	logger := logging.L(ctx).With("source", string(source))

	n, err := paybox.ParseNotification(values)
	if err != nil {
		notificationsTotal.WithLabelValues(string(source), "malformed").Inc()
		logger.Warn("malformed notification", "error", err)
		return nil, err
	}
	logger = logger.With("reference", n.LookupReference(), "response", n.Response)

	unlock, err := s.locks.Lock(ctx, n.LookupReference())
	if err != nil {
		return nil, err
	}
	defer unlock()

	verified, err := s.verifier.VerifyAndExtract(ctx, n)
	if err != nil {
		s.recordRejection(ctx, logger, n, source, err)
		return nil, err
	}
	tx := verified.Transaction
	span.SetAttributes(traces.TransactionID(tx.ID), traces.AcquirerID(tx.AcquirerID))
	logger = logger.With("transaction_id", tx.ID)

	mismatches := paybox.CheckConsistency(tx, n)
	var raised []*Alert
	if len(mismatches) > 0 {
		if raised, err = s.store.ListAlerts(ctx, tx.ID); err != nil {
			logger.Error("failed to list alerts", "error", err)
		}
	}
	for _, m := range mismatches {
		consistencyMismatches.WithLabelValues(m.Field).Inc()
		logger.Warn("notification inconsistent with transaction",
			"field", m.Field,
			"received", m.Received,
			"expected", m.Expected,
		)
		// IPN and DPN of one payment, and gateway retries, repeat the
		// same mismatch; operators need it once.
		if mismatchRaised(raised, m) {
			continue
		}
		s.raiseAlert(ctx, logger, &Alert{
			TransactionID: tx.ID,
			Reference:     tx.Reference,
			Kind:          AlertMismatch,
			Source:        source,
			Field:         m.Field,
			Received:      m.Received,
			Expected:      m.Expected,
		})
	}

	transition, err := paybox.MapResponseCode(n.Response, paybox.AmountMatches(tx, n))
	if err != nil {
		notificationsTotal.WithLabelValues(string(source), "unrecognized").Inc()
		logger.Warn("unrecognized response code")
		return nil, err
	}

	result := &NotificationResult{Transaction: tx, Mismatches: mismatches}
	upd, ok := s.plan(tx, n, transition)
	if !ok {
		notificationsTotal.WithLabelValues(string(source), "unchanged").Inc()
		logger.Info("notification left transaction unchanged", "state", string(tx.State))
		return result, nil
	}

	changed, err := s.store.UpdateState(ctx, tx.ID, tx.State, upd)
	if err != nil {
		notificationsTotal.WithLabelValues(string(source), "error").Inc()
		return nil, fmt.Errorf("payment: update transaction %s: %w", tx.ID, err)
	}
	if !changed {
		notificationsTotal.WithLabelValues(string(source), "error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrStateConflict, tx.ID)
	}

	updated, err := s.store.Get(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("payment: reload transaction %s: %w", tx.ID, err)
	}
	result.Transaction = updated
	result.Changed = true

	notificationsTotal.WithLabelValues(string(source), "applied").Inc()
	stateTransitions.WithLabelValues(string(updated.State)).Inc()
	logger.Info("transaction state changed",
		"from", string(tx.State),
		"state", string(updated.State),
		"message", updated.StateMessage,
	)

	// Emitters must not block; each hands off to its own goroutine.
	for _, e := range s.emitters {
		e.EmitTransactionChanged(copyTransaction(updated))
	}
	return result, nil
}

// plan computes the update implied by transition. It returns false when the
// transaction is final or already reflects the notification.
func (s *Service) plan(tx *paybox.Transaction, n *paybox.Notification, t paybox.Transition) (StateUpdate, bool) {
	if tx.State.IsFinal() {
		return StateUpdate{}, false
	}

	acquirerRef := tx.AcquirerReference
	if acquirerRef == "" {
		acquirerRef = n.Transaction
	}
	if tx.State == t.State && tx.StateMessage == t.Message && tx.AcquirerReference == acquirerRef {
		return StateUpdate{}, false
	}

	now := s.now().UTC()
	upd := StateUpdate{
		State:             t.State,
		StateMessage:      t.Message,
		AcquirerReference: acquirerRef,
		UpdatedAt:         now,
	}
	if t.Validated && tx.ValidatedAt == nil {
		upd.ValidatedAt = &now
	}
	return upd, true
}

func (s *Service) recordRejection(ctx context.Context, logger *slog.Logger, n *paybox.Notification, source Source, err error) {
	switch {
	case paybox.IsLookupError(err):
		notificationsTotal.WithLabelValues(string(source), "lookup_error").Inc()
		logger.Warn("notification does not resolve to one transaction", "error", err)

	case errors.Is(err, paybox.ErrAuthenticity):
		notificationsTotal.WithLabelValues(string(source), "authenticity_error").Inc()
		logger.Error("notification signature rejected", "alert", true, "error", err)

		// The reference resolved before the signature was checked.
		res, lookupErr := s.store.LookupByReference(ctx, n.LookupReference())
		if lookupErr != nil || res.Status != paybox.LookupFound {
			return
		}
		s.raiseAlert(ctx, logger, &Alert{
			TransactionID: res.Transaction.ID,
			Reference:     res.Transaction.Reference,
			Kind:          AlertAuthenticity,
			Source:        source,
			Detail:        fmt.Sprintf("response %s, transaction %s", n.Response, n.Transaction),
		})

	default:
		notificationsTotal.WithLabelValues(string(source), "error").Inc()
		logger.Error("notification processing failed", "error", err)
	}
}

// raiseAlert stores an alert. Storage failures are logged, never returned.
func mismatchRaised(alerts []*Alert, m paybox.Mismatch) bool {
	for _, a := range alerts {
		if a.Kind == AlertMismatch && a.Field == m.Field && a.Received == m.Received {
			return true
		}
	}
	return false
}

func (s *Service) raiseAlert(ctx context.Context, logger *slog.Logger, a *Alert) {
	a.ID = idgen.WithPrefix("alrt_")
	a.CreatedAt = s.now().UTC()
	if err := s.store.CreateAlert(ctx, a); err != nil {
		logger.Error("failed to store alert", "kind", string(a.Kind), "error", err)
	}
}
