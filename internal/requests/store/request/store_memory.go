// Package request persists Request aggregates.
package request

import (
	"context"
	"sort"
	"sync"
	"time"

	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	"opsflow/pkg/platform/sentinel"
)

// InMemory stores requests in a map. Reads and writes hand out clones.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.Request
}

func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[id.RequestID]*models.Request)}
}

func (s *InMemory) Create(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return sentinel.ErrConflict
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, requestID id.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return req.Clone(), nil
}

// Update replaces the stored request when its version still equals
// req.Version, then advances req.Version.
func (s *InMemory) Update(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Version != req.Version {
		return sentinel.ErrConflict
	}
	req.Version++
	s.requests[req.ID] = req.Clone()
	return nil
}

// List returns newest-first matches for filter, paged.
func (s *InMemory) List(_ context.Context, filter models.ListFilter) (*models.Page, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	var matched []*models.Request
	for _, req := range s.requests {
		if filter.Matches(req) {
			matched = append(matched, req.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := &models.Page{Total: len(matched), Page: filter.Page, Limit: filter.Limit}
	start := filter.Offset()
	if start < len(matched) {
		end := start + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Items = matched[start:end]
	}
	return page, nil
}

// ListLeavesEndedBefore returns APPROVED leaves whose last day is before day,
// keyset-paged by ID.
func (s *InMemory) ListLeavesEndedBefore(_ context.Context, day time.Time, after id.RequestID, limit int) ([]id.RequestID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor := after.String()
	var out []id.RequestID
	for _, req := range s.requests {
		leave, ok := req.Leave()
		if !ok || req.Status != models.StatusApproved || !leave.EndDate.Before(day) {
			continue
		}
		if req.ID.String() <= cursor {
			continue
		}
		out = append(out, req.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
