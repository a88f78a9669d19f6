// Package approval persists approval decisions.
package approval

import (
	"context"
	"sort"
	"sync"

	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	"opsflow/pkg/platform/sentinel"
)

// InMemory keeps approvals per request and enforces unique (request, order).
type InMemory struct {
	mu        sync.RWMutex
	approvals map[id.RequestID][]models.Approval
}

func NewInMemory() *InMemory {
	return &InMemory{approvals: make(map[id.RequestID][]models.Approval)}
}

func (s *InMemory) Append(_ context.Context, a *models.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.approvals[a.RequestID] {
		if existing.Order == a.Order {
			return sentinel.ErrConflict
		}
	}
	s.approvals[a.RequestID] = append(s.approvals[a.RequestID], *a)
	return nil
}

// ListByRequest returns approvals ordered by Order.
func (s *InMemory) ListByRequest(_ context.Context, requestID id.RequestID) ([]models.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.Approval(nil), s.approvals[requestID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}
