// Package merchant stores the Paybox acquirers the platform sells through
// and serves their configuration to the protocol engine.
package merchant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/paybox/internal/paybox"
)

var (
	ErrAcquirerNotFound = errors.New("merchant: acquirer not found")
	ErrInvalidAcquirer  = errors.New("merchant: invalid acquirer")
)

// Acquirer is one Paybox contract: the identifiers assigned by Paybox and
// the keys that go with them.
type Acquirer struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	SiteID        string             `json:"siteId"`
	RankID        string             `json:"rankId"`
	MerchantID    string             `json:"merchantId"`
	Environment   paybox.Environment `json:"environment"`
	ActionURL     string             `json:"actionUrl"`
	TestActionURL string             `json:"testActionUrl"`
	HMACKey       string             `json:"-"`
	TestHMACKey   string             `json:"-"`
	PublicKey     string             `json:"-"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Validate checks that the acquirer can sign requests and verify
// notifications in its active environment.
func (a *Acquirer) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"id", a.ID},
		{"site id", a.SiteID},
		{"rank id", a.RankID},
		{"paybox id", a.MerchantID},
		{"public key", a.PublicKey},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAcquirer, strings.Join(missing, ", "))
	}

	switch a.Environment {
	case paybox.EnvironmentProd:
		if a.HMACKey == "" {
			return fmt.Errorf("%w: production HMAC key is required", ErrInvalidAcquirer)
		}
	case paybox.EnvironmentTest:
		if a.TestHMACKey == "" {
			return fmt.Errorf("%w: test HMAC key is required", ErrInvalidAcquirer)
		}
	default:
		return fmt.Errorf("%w: environment must be %q or %q", ErrInvalidAcquirer, paybox.EnvironmentTest, paybox.EnvironmentProd)
	}

	if _, err := paybox.ParsePublicKey(a.PublicKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAcquirer, err)
	}
	return nil
}

// Store persists acquirers.
type Store interface {
	Get(ctx context.Context, id string) (*Acquirer, error)
	List(ctx context.Context) ([]*Acquirer, error)
	// Upsert creates or replaces the acquirer with a.ID.
	Upsert(ctx context.Context, a *Acquirer) error
}
