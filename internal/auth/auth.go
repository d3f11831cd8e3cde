// Package auth authenticates API callers with acquirer-scoped API keys.
//
// Keys look like "sk_<64 hex>". Only their SHA-256 hash is stored; the raw
// key is shown once, when it is created.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/paybox/internal/idgen"
)

var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid or expired API key")
	ErrKeyNotFound   = errors.New("API key not found")
)

// KeyPrefix starts every raw API key.
const KeyPrefix = "sk_"

// APIKey is the stored metadata of an API key.
type APIKey struct {
	ID         string     `json:"id"`
	Hash       string     `json:"-"`
	AcquirerID string     `json:"acquirerId"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, key *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	ListByAcquirer(ctx context.Context, acquirerID string) ([]*APIKey, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
}

// Manager issues and validates API keys.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a new auth manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// GenerateKey creates a key for acquirerID. The raw key is returned once.
func (m *Manager) GenerateKey(ctx context.Context, acquirerID, name string) (string, *APIKey, error) {
	raw := KeyPrefix + idgen.Hex(32)
	key := m.newKey(raw, acquirerID, name)
	if err := m.store.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// ImportKey registers a key issued out of band, such as one read from the
// environment at startup. Importing the same key again is a no-op.
func (m *Manager) ImportKey(ctx context.Context, acquirerID, name, raw string) (*APIKey, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, KeyPrefix) || len(raw) < len(KeyPrefix)+32 {
		return nil, ErrInvalidAPIKey
	}
	if existing, err := m.store.GetByHash(ctx, hashKey(raw)); err == nil {
		return existing, nil
	}
	key := m.newKey(raw, acquirerID, name)
	if err := m.store.Create(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (m *Manager) newKey(raw, acquirerID, name string) *APIKey {
	return &APIKey{
		ID:         idgen.WithPrefix("ak_"),
		Hash:       hashKey(raw),
		AcquirerID: acquirerID,
		Name:       name,
		CreatedAt:  m.now().UTC(),
	}
}

// ValidateKey resolves a raw key, with or without a "Bearer " prefix.
func (m *Manager) ValidateKey(ctx context.Context, raw string) (*APIKey, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrNoAPIKey
	}
	if !strings.HasPrefix(raw, KeyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	key, err := m.store.GetByHash(ctx, hashKey(raw))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	now := m.now().UTC()
	if key.Revoked || (key.ExpiresAt != nil && now.After(*key.ExpiresAt)) {
		return nil, ErrInvalidAPIKey
	}

	// Best effort; a lost update only skews LastUsed.
	go func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.store.Touch(ctx, id, now)
	}(key.ID)

	return key, nil
}

// ListKeys returns the keys of an acquirer, newest first.
func (m *Manager) ListKeys(ctx context.Context, acquirerID string) ([]*APIKey, error) {
	return m.store.ListByAcquirer(ctx, acquirerID)
}

// RevokeKey revokes one of acquirerID's keys.
func (m *Manager) RevokeKey(ctx context.Context, acquirerID, keyID string) error {
	keys, err := m.store.ListByAcquirer(ctx, acquirerID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == keyID {
			return m.store.Revoke(ctx, keyID)
		}
	}
	return ErrKeyNotFound
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory key store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey // by ID
}

// NewMemoryStore creates a new in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*APIKey)}
}

func (s *MemoryStore) Create(_ context.Context, key *APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.Hash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (s *MemoryStore) ListByAcquirer(_ context.Context, acquirerID string) ([]*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*APIKey
	for _, k := range s.keys {
		if k.AcquirerID == acquirerID {
			cp := *k
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		k.LastUsed = &at
	}
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return ErrKeyNotFound
	}
	k.Revoked = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
