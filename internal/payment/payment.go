// Package payment runs Paybox payments end to end: it creates draft
// transactions with a signed redirect request, and applies the gateway's
// notifications to them.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/paybox/internal/pagination"
	"github.com/mbd888/paybox/internal/paybox"
)

var (
	ErrPaymentNotFound    = errors.New("payment: not found")
	ErrDuplicateReference = errors.New("payment: reference already used by this acquirer")
	ErrInvalidAmount      = errors.New("payment: amount must be a positive decimal")
	ErrInvalidRequest     = errors.New("payment: invalid request")
	ErrNotPayable         = errors.New("payment: transaction is no longer payable")
	ErrStateConflict      = errors.New("payment: transaction changed concurrently")
)

// Source identifies which callback delivered a notification.
type Source string

const (
	SourceIPN Source = "ipn" // server-to-server
	SourceDPN Source = "dpn" // browser redirect
)

// AlertKind classifies an operator alert.
type AlertKind string

const (
	AlertMismatch     AlertKind = "mismatch"
	AlertAuthenticity AlertKind = "authenticity"
)

// Alert is a notification anomaly kept for operator review.
type Alert struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	Reference     string    `json:"reference"`
	Kind          AlertKind `json:"kind"`
	Source        Source    `json:"source"`
	Field         string    `json:"field,omitempty"`
	Received      string    `json:"received,omitempty"`
	Expected      string    `json:"expected,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StateUpdate is the set of columns a notification may change.
type StateUpdate struct {
	State             paybox.State
	StateMessage      string
	AcquirerReference string
	ValidatedAt       *time.Time
	UpdatedAt         time.Time
}

// Store persists transactions and their alerts.
type Store interface {
	paybox.TransactionLookup

	Create(ctx context.Context, tx *paybox.Transaction) error
	Get(ctx context.Context, id string) (*paybox.Transaction, error)
	List(ctx context.Context, acquirerID string, limit int, cursor *pagination.Cursor) ([]*paybox.Transaction, error)

	// UpdateState applies upd only if the transaction is still in state
	// from. It reports whether a row was changed.
	UpdateState(ctx context.Context, id string, from paybox.State, upd StateUpdate) (bool, error)

	CreateAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, transactionID string) ([]*Alert, error)
}

// CreateRequest is the input to CreatePayment.
type CreateRequest struct {
	Reference  string `json:"reference" binding:"required"`
	Amount     string `json:"amount" binding:"required"` // decimal, e.g. "12.50"
	Currency   string `json:"currency,omitempty"`        // ISO 4217 numeric
	PayerEmail string `json:"payerEmail,omitempty"`
	ReturnURL  string `json:"returnUrl,omitempty"`
}

// Checkout is a created payment with the request the browser must post.
type Checkout struct {
	Transaction *paybox.Transaction   `json:"transaction"`
	Request     *paybox.SignedRequest `json:"request"`
}

// NotificationResult describes what a notification did to its transaction.
type NotificationResult struct {
	Transaction *paybox.Transaction
	Mismatches  []paybox.Mismatch
	Changed     bool
}

// EventEmitter is told about every transaction whose state changed. It is
// called while the notification is being handled and must not block.
type EventEmitter interface {
	EmitTransactionChanged(tx *paybox.Transaction)
}
