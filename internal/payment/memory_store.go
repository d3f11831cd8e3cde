package payment

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/paybox/internal/pagination"
	"github.com/mbd888/paybox/internal/paybox"
)

// MemoryStore is an in-memory payment store for development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*paybox.Transaction
	alerts       map[string][]*Alert // by transaction ID
}

// NewMemoryStore creates a new in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*paybox.Transaction),
		alerts:       make(map[string][]*Alert),
	}
}

func (m *MemoryStore) Create(_ context.Context, tx *paybox.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.transactions {
		if existing.AcquirerID == tx.AcquirerID && existing.Reference == tx.Reference {
			return ErrDuplicateReference
		}
	}
	cp := *tx
	m.transactions[tx.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*paybox.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return copyTransaction(tx), nil
}

func (m *MemoryStore) LookupByReference(_ context.Context, reference string) (paybox.Lookup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []*paybox.Transaction
	for _, tx := range m.transactions {
		if tx.Reference == reference {
			matches = append(matches, tx)
		}
	}
	switch len(matches) {
	case 0:
		return paybox.NotFound(), nil
	case 1:
		return paybox.Found(copyTransaction(matches[0])), nil
	default:
		return paybox.Ambiguous(len(matches)), nil
	}
}

func (m *MemoryStore) List(_ context.Context, acquirerID string, limit int, cursor *pagination.Cursor) ([]*paybox.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*paybox.Transaction
	for _, tx := range m.transactions {
		if acquirerID != "" && tx.AcquirerID != acquirerID {
			continue
		}
		if cursor != nil && !before(tx, cursor) {
			continue
		}
		result = append(result, copyTransaction(tx))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// before reports whether tx sorts after the cursor in newest-first order.
func before(tx *paybox.Transaction, c *pagination.Cursor) bool {
	if tx.CreatedAt.Equal(c.CreatedAt) {
		return tx.ID < c.ID
	}
	return tx.CreatedAt.Before(c.CreatedAt)
}

func (m *MemoryStore) UpdateState(_ context.Context, id string, from paybox.State, upd StateUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return false, ErrPaymentNotFound
	}
	if tx.State != from {
		return false, nil
	}
	tx.State = upd.State
	tx.StateMessage = upd.StateMessage
	tx.AcquirerReference = upd.AcquirerReference
	if upd.ValidatedAt != nil {
		t := *upd.ValidatedAt
		tx.ValidatedAt = &t
	}
	tx.UpdatedAt = upd.UpdatedAt
	return true, nil
}

func (m *MemoryStore) CreateAlert(_ context.Context, alert *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *alert
	m.alerts[alert.TransactionID] = append(m.alerts[alert.TransactionID], &cp)
	return nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, transactionID string) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.alerts[transactionID]
	result := make([]*Alert, len(stored))
	for i, a := range stored {
		cp := *a
		result[i] = &cp
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func copyTransaction(tx *paybox.Transaction) *paybox.Transaction {
	cp := *tx
	if tx.ValidatedAt != nil {
		t := *tx.ValidatedAt
		cp.ValidatedAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
