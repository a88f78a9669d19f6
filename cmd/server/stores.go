package main

import (
	"context"
	"database/sql"
	"log/slog"

	"opsflow/internal/audit"
	auditmemory "opsflow/internal/audit/store/memory"
	auditpostgres "opsflow/internal/audit/store/postgres"
	"opsflow/internal/notification"
	notificationmemory "opsflow/internal/notification/store/memory"
	notificationpostgres "opsflow/internal/notification/store/postgres"
	"opsflow/internal/platform/config"
	"opsflow/internal/platform/postgres"
	"opsflow/internal/requests/service"
	approvalstore "opsflow/internal/requests/store/approval"
	billingstore "opsflow/internal/requests/store/billing"
	requeststore "opsflow/internal/requests/store/request"
)

// storeSet is every store the process uses, backed either by postgres or by
// process memory.
type storeSet struct {
	db            *sql.DB
	requests      service.RequestRepository
	approvals     service.ApprovalStore
	notifications notification.Store
	stores        service.Stores
	tx            service.StoreTx
	outbox        audit.Outbox
	auditLog      audit.Reader
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*storeSet, error) {
	if cfg.URL == "" {
		log.Warn("OPSFLOW_DATABASE_URL not set, using in-memory stores")
		requests := requeststore.NewInMemory()
		approvals := approvalstore.NewInMemory()
		notifications := notificationmemory.NewInMemoryStore()
		auditLog := auditmemory.NewInMemoryStore()
		stores := service.Stores{
			Requests:      requests,
			Approvals:     approvals,
			Billing:       billingstore.NewInMemory(),
			Audit:         auditLog,
			Notifications: notifications,
		}
		return &storeSet{
			requests:      requests,
			approvals:     approvals,
			notifications: notifications,
			stores:        stores,
			tx:            service.NewInMemoryTx(stores),
			outbox:        auditLog,
			auditLog:      auditLog,
		}, nil
	}

	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := postgres.ApplySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	requests := requeststore.NewPostgres(db)
	approvals := approvalstore.NewPostgres(db)
	auditLog := auditpostgres.New(db)
	notifications := notificationpostgres.New(db)
	stores := service.Stores{
		Requests:      requests,
		Approvals:     approvals,
		Billing:       billingstore.NewPostgres(db),
		Audit:         auditLog,
		Notifications: notifications,
	}
	return &storeSet{
		db:            db,
		requests:      requests,
		approvals:     approvals,
		notifications: notifications,
		stores:        stores,
		tx:            service.NewPostgresTx(db, stores),
		outbox:        auditLog,
		auditLog:      auditLog,
	}, nil
}

func (s *storeSet) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}
