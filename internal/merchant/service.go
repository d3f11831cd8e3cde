package merchant

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/paybox/internal/logging"
	"github.com/mbd888/paybox/internal/paybox"
)

// Service manages acquirers and implements paybox.MerchantConfigSource.
type Service struct {
	store   Store
	baseURL string
	now     func() time.Time
}

// NewService creates a merchant service. baseURL is the platform's public
// URL the gateway calls back on.
func NewService(store Store, baseURL string) *Service {
	return &Service{store: store, baseURL: baseURL, now: time.Now}
}

// Register validates a and stores it, filling in the default gateway URLs.
func (s *Service) Register(ctx context.Context, a *Acquirer) error {
	if a.ActionURL == "" {
		a.ActionURL = paybox.DefaultActionURL
	}
	if a.TestActionURL == "" {
		a.TestActionURL = paybox.DefaultTestActionURL
	}
	if err := a.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	if existing, err := s.store.Get(ctx, a.ID); err == nil {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if err := s.store.Upsert(ctx, a); err != nil {
		return fmt.Errorf("merchant: store acquirer %s: %w", a.ID, err)
	}
	logging.L(ctx).Info("acquirer registered",
		"acquirer_id", a.ID,
		"site", a.SiteID,
		"environment", string(a.Environment),
	)
	return nil
}

// Get returns an acquirer by ID.
func (s *Service) Get(ctx context.Context, id string) (*Acquirer, error) {
	return s.store.Get(ctx, id)
}

// List returns every acquirer.
func (s *Service) List(ctx context.Context) ([]*Acquirer, error) {
	return s.store.List(ctx)
}

// MerchantConfig returns the protocol configuration of an acquirer.
func (s *Service) MerchantConfig(ctx context.Context, acquirerID string) (*paybox.MerchantConfig, error) {
	a, err := s.store.Get(ctx, acquirerID)
	if err != nil {
		return nil, err
	}
	return &paybox.MerchantConfig{
		SiteID:        a.SiteID,
		RankID:        a.RankID,
		MerchantID:    a.MerchantID,
		Environment:   a.Environment,
		ActionURL:     a.ActionURL,
		TestActionURL: a.TestActionURL,
		HMACKey:       a.HMACKey,
		TestHMACKey:   a.TestHMACKey,
		PublicKey:     a.PublicKey,
		BaseURL:       s.baseURL,
	}, nil
}

var _ paybox.MerchantConfigSource = (*Service)(nil)
