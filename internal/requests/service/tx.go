package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"opsflow/internal/audit"
	"opsflow/internal/notification"
	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/platform/sentinel"
)

// numRequestShards spreads per-request locks so unrelated requests rarely
// contend.
const numRequestShards = 128

const defaultTxTimeout = 5 * time.Second

// shardedTx is the in-memory StoreTx. Writers of one request are serialized by
// a shard mutex; the body writes into staging buffers that are applied to the
// base stores only when it returns nil.
type shardedTx struct {
	shards  [numRequestShards]sync.Mutex
	base    Stores
	timeout time.Duration
}

// NewInMemoryTx wraps base stores with per-request locking and staged commit.
func NewInMemoryTx(base Stores) StoreTx {
	return &shardedTx{base: base}
}

func (t *shardedTx) RunInTx(ctx context.Context, key id.RequestID, fn func(ctx context.Context, s Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := hashKey(key.String()) % numRequestShards
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	st := newStaging(t.base)
	if err := fn(ctx, st.stores()); err != nil {
		return err
	}
	return st.commit(ctx, t.base)
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

type staging struct {
	requests      *stagedRequests
	approvals     *stagedApprovals
	billing       *stagedBilling
	audit         *stagedAudit
	notifications *stagedNotifications
}

func newStaging(base Stores) *staging {
	return &staging{
		requests: &stagedRequests{
			base:         base.Requests,
			created:      make(map[id.RequestID]*models.Request),
			updated:      make(map[id.RequestID]*models.Request),
			baseVersions: make(map[id.RequestID]int),
		},
		approvals:     &stagedApprovals{base: base.Approvals},
		billing:       &stagedBilling{base: base.Billing},
		audit:         &stagedAudit{},
		notifications: &stagedNotifications{},
	}
}

func (s *staging) stores() Stores {
	return Stores{
		Requests:      s.requests,
		Approvals:     s.approvals,
		Billing:       s.billing,
		Audit:         s.audit,
		Notifications: s.notifications,
	}
}

// commit applies audit entries first: they are the only write allowed to fail
// after staging, and a failure there must leave every other store untouched.
func (s *staging) commit(ctx context.Context, base Stores) error {
	for _, e := range s.audit.entries {
		if err := base.Audit.Append(ctx, e); err != nil {
			return err
		}
	}
	for _, req := range s.requests.created {
		if err := base.Requests.Create(ctx, req); err != nil {
			return err
		}
	}
	for reqID, req := range s.requests.updated {
		req.Version = s.requests.baseVersions[reqID]
		if err := base.Requests.Update(ctx, req); err != nil {
			return err
		}
	}
	for i := range s.approvals.pending {
		if err := base.Approvals.Append(ctx, &s.approvals.pending[i]); err != nil {
			return err
		}
	}
	for _, b := range s.billing.pending {
		if err := base.Billing.Record(ctx, b); err != nil {
			return err
		}
	}
	for _, n := range s.notifications.pending {
		if err := base.Notifications.Enqueue(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

type stagedRequests struct {
	base         RequestStore
	created      map[id.RequestID]*models.Request
	updated      map[id.RequestID]*models.Request
	baseVersions map[id.RequestID]int
}

func (s *stagedRequests) Create(ctx context.Context, req *models.Request) error {
	if _, ok := s.created[req.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, err := s.base.FindByID(ctx, req.ID); err == nil {
		return sentinel.ErrConflict
	}
	s.created[req.ID] = req.Clone()
	return nil
}

func (s *stagedRequests) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	if req, ok := s.created[requestID]; ok {
		return req.Clone(), nil
	}
	if req, ok := s.updated[requestID]; ok {
		return req.Clone(), nil
	}
	return s.base.FindByID(ctx, requestID)
}

func (s *stagedRequests) Update(ctx context.Context, req *models.Request) error {
	current, err := s.FindByID(ctx, req.ID)
	if err != nil {
		return err
	}
	if current.Version != req.Version {
		return sentinel.ErrConflict
	}
	req.Version++
	if _, ok := s.created[req.ID]; ok {
		s.created[req.ID] = req.Clone()
		return nil
	}
	if _, ok := s.baseVersions[req.ID]; !ok {
		s.baseVersions[req.ID] = current.Version
	}
	s.updated[req.ID] = req.Clone()
	return nil
}

type stagedApprovals struct {
	base    ApprovalStore
	pending []models.Approval
}

func (s *stagedApprovals) Append(ctx context.Context, a *models.Approval) error {
	existing, err := s.ListByRequest(ctx, a.RequestID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Order == a.Order {
			return sentinel.ErrConflict
		}
	}
	s.pending = append(s.pending, *a)
	return nil
}

func (s *stagedApprovals) ListByRequest(ctx context.Context, requestID id.RequestID) ([]models.Approval, error) {
	out, err := s.base.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, a := range s.pending {
		if a.RequestID == requestID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

type stagedBilling struct {
	base    BillingStore
	pending []*models.Billing
}

func (s *stagedBilling) Record(ctx context.Context, b *models.Billing) error {
	if _, err := s.FindByRequest(ctx, b.Shift.RequestID); err == nil {
		return sentinel.ErrConflict
	}
	c := *b
	s.pending = append(s.pending, &c)
	return nil
}

func (s *stagedBilling) FindByRequest(ctx context.Context, requestID id.RequestID) (*models.Billing, error) {
	for _, b := range s.pending {
		if b.Shift.RequestID == requestID {
			c := *b
			return &c, nil
		}
	}
	return s.base.FindByRequest(ctx, requestID)
}

type stagedAudit struct {
	entries []*audit.Entry
}

func (s *stagedAudit) Append(_ context.Context, entry *audit.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type stagedNotifications struct {
	pending []notification.Notification
}

func (s *stagedNotifications) Enqueue(_ context.Context, n notification.Notification) error {
	s.pending = append(s.pending, n)
	return nil
}
