// Package testutil provides shared test fixtures: a fake gateway key pair
// and migrated PostgreSQL databases.
package testutil

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 -- mirrors the gateway's signature scheme
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"sync"
	"testing"
)

// TestHMACKey is a 32-byte hex key shaped like a Paybox back-office key.
const TestHMACKey = "0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF"

var (
	gatewayKeyOnce sync.Once
	gatewayKey     *rsa.PrivateKey
	gatewayKeyErr  error
)

// GatewayKey returns an RSA key standing in for the gateway's signing key.
// The key is generated once per test binary.
func GatewayKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	gatewayKeyOnce.Do(func() {
		gatewayKey, gatewayKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if gatewayKeyErr != nil {
		t.Fatalf("testutil: generate gateway key: %v", gatewayKeyErr)
	}
	return gatewayKey
}

// PublicKeyPEMBase64 encodes the public half of key the way an uploaded
// pubkey.pem is stored: base64 of the PEM file.
func PublicKeyPEMBase64(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("testutil: marshal public key: %v", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return base64.StdEncoding.EncodeToString(block)
}

// PublicKeyDERBase64 encodes the public half of key as base64 PKCS#1 DER.
func PublicKeyDERBase64(key *rsa.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey))
}

// SignMessage signs message as the gateway does and returns it base64 encoded.
func SignMessage(t *testing.T, key *rsa.PrivateKey, message string) string {
	t.Helper()
	digest := sha1.Sum([]byte(message)) // #nosec G401
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA1, digest[:])
	if err != nil {
		t.Fatalf("testutil: sign message: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}
