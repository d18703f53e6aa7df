package repository

import (
	"context"
	"sync"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/util"
)

// MemoryEventLog keeps the most recent events in a bounded ring.
type MemoryEventLog struct {
	mu   sync.RWMutex
	ring *util.Ring[models.EventRecord]
}

func NewMemoryEventLog(limit int) *MemoryEventLog {
	return &MemoryEventLog{ring: util.NewRing[models.EventRecord](limit)}
}

var _ domrepo.EventLog = (*MemoryEventLog)(nil)

func (m *MemoryEventLog) Init(context.Context) error { return nil }

func (m *MemoryEventLog) StoreBatch(_ context.Context, events []models.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if e.ID == "" || e.Symbol == "" {
			continue
		}
		m.ring.Push(e)
	}
	return nil
}

// Query walks from newest to oldest.
func (m *MemoryEventLog) Query(_ context.Context, symbol string, kind models.EventKind, limit int) ([]models.EventRecord, error) {
	m.mu.RLock()
	values := m.ring.Values()
	m.mu.RUnlock()

	var out []models.EventRecord
	for i := len(values) - 1; i >= 0; i-- {
		e := values[i]
		if symbol != "" && e.Symbol != symbol {
			continue
		}
		if kind != "" && e.EventType != string(kind) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryEventLog) Health(context.Context) error { return nil }

func (m *MemoryEventLog) Close() error { return nil }
