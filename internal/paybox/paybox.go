// Package paybox implements the Paybox redirect-gateway protocol engine.
//
// Outbound, a payment attempt becomes an ordered list of PBX_* fields signed
// with HMAC-SHA512. Inbound, the gateway's IPN and browser redirect carry an
// RSA signature over a fixed subset of the returned fields. The engine
// verifies that signature, reports inconsistencies against the stored
// transaction and maps the response code to a transaction state.
//
// The package performs no I/O of its own: transactions and merchant
// configuration are reached through the TransactionLookup and
// MerchantConfigSource interfaces.
package paybox

import (
	"context"
	"time"
)

// Environment selects which action URL and HMAC key are active.
type Environment string

const (
	EnvironmentTest Environment = "test"
	EnvironmentProd Environment = "prod"
)

// Default gateway endpoints.
const (
	DefaultActionURL     = "https://tpeweb.paybox.com/cgi/MYchoix_pagepaiement.cgi/"
	DefaultTestActionURL = "https://preprod-tpeweb.paybox.com/cgi/MYchoix_pagepaiement.cgi/"
)

// Callback paths served by the platform.
const (
	IPNPath = "/payment/paybox/ipn"
	DPNPath = "/payment/paybox/dpn"
)

// MerchantConfig is the acquirer configuration assigned by Paybox.
type MerchantConfig struct {
	SiteID      string
	RankID      string
	MerchantID  string
	Environment Environment

	ActionURL     string
	TestActionURL string

	// HMAC keys are hex encoded, as exported by the Paybox back office.
	HMACKey     string
	TestHMACKey string

	// PublicKey is the base64 encoding of the gateway's public key file.
	PublicKey string

	// BaseURL is the platform's public base URL used to build callbacks.
	BaseURL string
}

// IsProduction reports whether production credentials are active.
func (c *MerchantConfig) IsProduction() bool {
	return c.Environment == EnvironmentProd
}

// ActiveActionURL returns the form action URL for the active environment.
func (c *MerchantConfig) ActiveActionURL() string {
	if c.IsProduction() {
		return c.ActionURL
	}
	return c.TestActionURL
}

// ActiveHMACKey returns the hex HMAC key for the active environment.
func (c *MerchantConfig) ActiveHMACKey() string {
	if c.IsProduction() {
		return c.HMACKey
	}
	return c.TestHMACKey
}

// PaymentIntent describes one redirect to the gateway.
type PaymentIntent struct {
	AmountMinorUnits int64
	CurrencyCode     string // ISO 4217 numeric, e.g. "978"
	Reference        string
	PayerEmail       string
	ReturnURL        string
}

// State is the lifecycle state of a transaction.
type State string

const (
	StateDraft   State = "draft"
	StatePending State = "pending"
	StateDone    State = "done"
	StateCancel  State = "cancel"
	StateError   State = "error"
)

// IsFinal reports whether no further notification may change the state.
func (s State) IsFinal() bool {
	return s == StateDone
}

// Transaction is the platform-side record a notification is matched against.
type Transaction struct {
	ID                string     `json:"id"`
	Reference         string     `json:"reference"`
	AcquirerID        string     `json:"acquirerId"`
	Amount            string     `json:"amount"` // decimal, 2 places
	Currency          string     `json:"currency"`
	PayerEmail        string     `json:"payerEmail,omitempty"`
	ReturnURL         string     `json:"returnUrl,omitempty"`
	State             State      `json:"state"`
	StateMessage      string     `json:"stateMessage,omitempty"`
	AcquirerReference string     `json:"acquirerReference,omitempty"`
	ValidatedAt       *time.Time `json:"validatedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// LookupStatus tags the outcome of a reference lookup.
type LookupStatus int

const (
	LookupNotFound LookupStatus = iota
	LookupFound
	LookupAmbiguous
)

// Lookup is the result of resolving a reference. Transaction is set only
// when Status is LookupFound.
type Lookup struct {
	Status      LookupStatus
	Transaction *Transaction
	Count       int
}

// Found builds a single-match lookup result.
func Found(tx *Transaction) Lookup {
	return Lookup{Status: LookupFound, Transaction: tx, Count: 1}
}

// NotFound builds an empty lookup result.
func NotFound() Lookup {
	return Lookup{Status: LookupNotFound}
}

// Ambiguous builds a lookup result for a reference shared by n transactions.
func Ambiguous(n int) Lookup {
	return Lookup{Status: LookupAmbiguous, Count: n}
}

// TransactionLookup resolves a merchant reference to stored transactions.
type TransactionLookup interface {
	LookupByReference(ctx context.Context, reference string) (Lookup, error)
}

// MerchantConfigSource returns the configuration of an acquirer.
type MerchantConfigSource interface {
	MerchantConfig(ctx context.Context, acquirerID string) (*MerchantConfig, error)
}
