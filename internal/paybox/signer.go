package paybox

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Static directives sent with every request.
const (
	// ReturnDirective asks the gateway to append these variables to the
	// callback URLs. The signature variable (K) must come last.
	ReturnDirective = "amount:M;reference:R;response:E;transaction:S;signature:K"
	HashAlgorithm   = "SHA512"

	timeLayout = "2006-01-02T15:04:05"
)

// SignedRequest is what the browser form posts to the gateway.
type SignedRequest struct {
	ActionURL string `json:"actionUrl"`
	Fields    Fields `json:"-"`
}

// FormValues returns the fields as an ordered list of name/value objects.
func (r *SignedRequest) FormValues() []map[string]string {
	out := make([]map[string]string, len(r.Fields))
	for i, f := range r.Fields {
		out[i] = map[string]string{"name": f.Key, "value": f.Value}
	}
	return out
}

// Signer builds HMAC-signed payment requests.
type Signer struct {
	// Now returns the request time. Defaults to time.Now.
	Now func() time.Time
}

// NewSigner creates a signer using the wall clock.
func NewSigner() *Signer {
	return &Signer{Now: time.Now}
}

func (s *Signer) now() time.Time {
	if s == nil || s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// BuildSignedPaymentRequest assembles the PBX_* fields for intent, signs them
// with the active HMAC key and returns them with the active action URL.
func (s *Signer) BuildSignedPaymentRequest(intent PaymentIntent, cfg *MerchantConfig) (*SignedRequest, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no merchant configuration", ErrConfiguration)
	}
	key, err := decodeHMACKey(cfg)
	if err != nil {
		return nil, err
	}
	actionURL := cfg.ActiveActionURL()
	if actionURL == "" {
		return nil, fmt.Errorf("%w: no action URL for environment %q", ErrConfiguration, cfg.Environment)
	}
	if intent.AmountMinorUnits < 0 {
		return nil, fmt.Errorf("paybox: negative amount %d", intent.AmountMinorUnits)
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	// The return URL is appended unescaped; the gateway signs it that way.
	browserCallback := base + DPNPath + "?return_url=" + intent.ReturnURL

	fields := Fields{}.
		Add("PBX_SITE", cfg.SiteID).
		Add("PBX_RANG", cfg.RankID).
		Add("PBX_IDENTIFIANT", cfg.MerchantID).
		Add("PBX_TOTAL", strconv.FormatInt(intent.AmountMinorUnits, 10)).
		Add("PBX_DEVISE", intent.CurrencyCode).
		Add("PBX_CMD", SubstituteSeparator(intent.Reference)).
		Add("PBX_PORTEUR", intent.PayerEmail).
		Add("PBX_RETOUR", ReturnDirective).
		Add("PBX_HASH", HashAlgorithm).
		Add("PBX_TIME", s.now().Format(timeLayout)).
		Add("PBX_EFFECTUE", browserCallback).
		Add("PBX_REFUSE", browserCallback).
		Add("PBX_ANNULE", browserCallback).
		Add("PBX_ATTENTE", browserCallback).
		Add("PBX_REPONDRE_A", base+IPNPath)

	fields = fields.Add("PBX_HMAC", computeMAC(key, fields.Canonical()))

	return &SignedRequest{ActionURL: actionURL, Fields: fields}, nil
}

func decodeHMACKey(cfg *MerchantConfig) ([]byte, error) {
	raw := strings.TrimSpace(cfg.ActiveHMACKey())
	if raw == "" {
		return nil, fmt.Errorf("%w: no HMAC key for environment %q", ErrConfiguration, cfg.Environment)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: HMAC key is not hex: %v", ErrConfiguration, err)
	}
	return key, nil
}

// computeMAC returns the uppercase hex HMAC-SHA512 of message.
func computeMAC(key []byte, message string) string {
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(message))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
