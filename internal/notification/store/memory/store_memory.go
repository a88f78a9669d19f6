package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"opsflow/internal/notification"
	id "opsflow/pkg/domain"
	"opsflow/pkg/platform/sentinel"
)

// InMemoryStore keeps notifications keyed by ID with insertion order preserved.
type InMemoryStore struct {
	mu    sync.RWMutex
	order []id.NotificationID
	rows  map[id.NotificationID]notification.Notification
}

var _ notification.Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[id.NotificationID]notification.Notification)}
}

func (s *InMemoryStore) Enqueue(_ context.Context, n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[n.ID]; exists {
		return sentinel.ErrConflict
	}
	s.rows[n.ID] = clone(n)
	s.order = append(s.order, n.ID)
	return nil
}

func (s *InMemoryStore) ListUnsent(_ context.Context, limit int) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []notification.Notification
	for _, nid := range s.order {
		n := s.rows[nid]
		if n.SentAt != nil {
			continue
		}
		out = append(out, clone(n))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkSent(_ context.Context, notificationID id.NotificationID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[notificationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	t := at
	n.SentAt = &t
	s.rows[notificationID] = n
	return nil
}

// ListByRecipient returns newest first.
func (s *InMemoryStore) ListByRecipient(_ context.Context, recipient id.UserID, limit int) ([]notification.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []notification.Notification
	for _, nid := range s.order {
		if n := s.rows[nid]; n.RecipientID == recipient {
			out = append(out, clone(n))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkRead(_ context.Context, notificationID id.NotificationID, recipient id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[notificationID]
	if !ok || n.RecipientID != recipient {
		return sentinel.ErrNotFound
	}
	n.Read = true
	s.rows[notificationID] = n
	return nil
}

func clone(n notification.Notification) notification.Notification {
	if n.SentAt != nil {
		t := *n.SentAt
		n.SentAt = &t
	}
	return n
}
