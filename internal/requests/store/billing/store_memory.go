// Package billing persists the records produced when a covered leave completes.
package billing

import (
	"context"
	"sync"

	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	"opsflow/pkg/platform/sentinel"
)

type InMemory struct {
	mu      sync.RWMutex
	records map[id.RequestID]models.Billing
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.RequestID]models.Billing)}
}

// Record stores b. A request can be billed once.
func (s *InMemory) Record(_ context.Context, b *models.Billing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[b.Shift.RequestID]; exists {
		return sentinel.ErrConflict
	}
	s.records[b.Shift.RequestID] = *b
	return nil
}

func (s *InMemory) FindByRequest(_ context.Context, requestID id.RequestID) (*models.Billing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.records[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &b, nil
}
