package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"opsflow/internal/audit"
	id "opsflow/pkg/domain"
)

// InMemoryStore keeps entries in append order. Failing lets tests force the
// append path to error.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []audit.Entry
	failing error
}

var _ audit.Store = (*InMemoryStore)(nil)
var _ audit.Outbox = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// FailWith makes every following Append return err. Pass nil to recover.
func (s *InMemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = err
}

func (s *InMemoryStore) Append(_ context.Context, entry *audit.Entry) error {
	if entry == nil {
		return errors.New("nil audit entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, cloneEntry(*entry))
	return nil
}

func (s *InMemoryStore) ListByRequest(_ context.Context, requestID id.RequestID) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.RequestID == requestID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (s *InMemoryStore) List(_ context.Context, q audit.Query) (*audit.Page, error) {
	q = q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	page := &audit.Page{Page: q.Page, Limit: q.Limit}
	skip := q.Offset()
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !q.Matches(e) {
			continue
		}
		page.Total++
		if skip > 0 {
			skip--
			continue
		}
		if len(page.Entries) < q.Limit {
			page.Entries = append(page.Entries, cloneEntry(e))
		}
	}
	return page, nil
}

func (s *InMemoryStore) ListUnpublished(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, cloneEntry(e))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]struct{}, len(ids))
	for _, i := range ids {
		want[i] = struct{}{}
	}
	for i := range s.entries {
		if _, ok := want[s.entries[i].ID]; ok && s.entries[i].PublishedAt == nil {
			t := at
			s.entries[i].PublishedAt = &t
		}
	}
	return nil
}

func cloneEntry(e audit.Entry) audit.Entry {
	if e.Details != nil {
		d := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			d[k] = v
		}
		e.Details = d
	}
	if e.PublishedAt != nil {
		t := *e.PublishedAt
		e.PublishedAt = &t
	}
	return e
}
