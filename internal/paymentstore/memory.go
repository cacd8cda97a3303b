package paymentstore

import (
	"context"
	"sync"

	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// Memory keeps payment records in process. Used by tests and local sandbox runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]payflow.Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]payflow.Record)}
}

func (m *Memory) Save(_ context.Context, rec payflow.Record) error {
	if rec.ID == "" {
		return ErrMissingID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.records[rec.ID]; ok && rec.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *Memory) FindByID(_ context.Context, id string) (payflow.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	return rec, nil
}

// FindByOrder returns the most recently updated record of the order.
func (m *Memory) FindByOrder(_ context.Context, orderID string) (payflow.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  payflow.Record
		found bool
	)
	for _, rec := range m.records {
		if orderID == "" || rec.OrderID != orderID {
			continue
		}
		if !found || rec.UpdatedAt.After(best.UpdatedAt) {
			best, found = rec, true
		}
	}
	if !found {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	return best, nil
}
