package paybox

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 -- the gateway signs with SHA-1
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// Verification is a notification whose signature has been checked,
// together with the transaction it refers to.
type Verification struct {
	Transaction  *Transaction
	Notification *Notification
}

// Verifier authenticates inbound notifications.
type Verifier struct {
	lookup    TransactionLookup
	merchants MerchantConfigSource
}

// NewVerifier creates a verifier backed by the given collaborators.
func NewVerifier(lookup TransactionLookup, merchants MerchantConfigSource) *Verifier {
	return &Verifier{lookup: lookup, merchants: merchants}
}

// VerifyAndExtract resolves the notification's transaction and checks the
// gateway signature. Lookup failures are reported before any cryptographic
// work; a bad signature yields ErrAuthenticity.
func (v *Verifier) VerifyAndExtract(ctx context.Context, n *Notification) (*Verification, error) {
	if n == nil || n.Reference == "" || n.Response == "" {
		return nil, fmt.Errorf("%w: missing reference or response", ErrMalformedNotification)
	}

	tx, err := v.resolve(ctx, n.LookupReference())
	if err != nil {
		return nil, err
	}

	cfg, err := v.merchants.MerchantConfig(ctx, tx.AcquirerID)
	if err != nil {
		return nil, fmt.Errorf("paybox: load acquirer %s: %w", tx.AcquirerID, err)
	}

	if err := verifySignature(cfg.PublicKey, n.SignedFields().Canonical(), n.Signature); err != nil {
		return nil, err
	}

	return &Verification{Transaction: tx, Notification: n}, nil
}

func (v *Verifier) resolve(ctx context.Context, reference string) (*Transaction, error) {
	res, err := v.lookup.LookupByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("paybox: lookup %q: %w", reference, err)
	}
	switch res.Status {
	case LookupFound:
		return res.Transaction, nil
	case LookupAmbiguous:
		return nil, fmt.Errorf("%w: %q matched %d transactions", ErrAmbiguousReference, reference, res.Count)
	default:
		return nil, fmt.Errorf("%w: %q", ErrTransactionNotFound, reference)
	}
}

// verifySignature checks an RSA PKCS#1 v1.5 signature over the SHA-1 digest
// of message. Every failure, including undecodable inputs, is ErrAuthenticity.
func verifySignature(publicKey, message, signature string) error {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticity, err)
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", ErrAuthenticity, err)
	}
	digest := sha1.Sum([]byte(message)) // #nosec G401
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticity, err)
	}
	return nil
}

func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty signature")
	}
	// Query decoding turns an unescaped '+' into a space.
	s = strings.ReplaceAll(s, " ", "+")
	if sig, err := base64.StdEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ParsePublicKey decodes a base64 key blob holding either a PEM file or raw
// DER, in PKIX or PKCS#1 form.
func ParsePublicKey(encoded string) (*rsa.PublicKey, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, errors.New("no public key configured")
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("public key encoding: %w", err)
	}
	der := blob
	if block, _ := pem.Decode(blob); block != nil {
		der = block.Bytes
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, want RSA", key)
		}
		return pub, nil
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}
