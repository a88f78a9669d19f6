package service_test

import (
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"opsflow/internal/access"
	"opsflow/internal/audit"
	auditmemory "opsflow/internal/audit/store/memory"
	"opsflow/internal/notification"
	notificationmocks "opsflow/internal/notification/mocks"
	notificationmemory "opsflow/internal/notification/store/memory"
	"opsflow/internal/platform/logger"
	"opsflow/internal/requests/metrics"
	"opsflow/internal/requests/models"
	"opsflow/internal/requests/service"
	approvalstore "opsflow/internal/requests/store/approval"
	billingstore "opsflow/internal/requests/store/billing"
	requeststore "opsflow/internal/requests/store/request"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/platform/sentinel"
	"opsflow/pkg/requestcontext"
)

var fixedNow = time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type ServiceSuite struct {
	suite.Suite
	ctx           context.Context
	svc           *service.Service
	requests      *requeststore.InMemory
	approvals     *approvalstore.InMemory
	billing       *billingstore.InMemory
	audit         *auditmemory.InMemoryStore
	notifications *notificationmemory.InMemoryStore

	employee   access.Actor
	supervisor access.Actor
	otherSup   access.Actor
	hr         access.Actor
	finance    access.Actor
	admin      access.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), fixedNow)
	s.employee = access.Actor{ID: id.NewUserID(), Role: access.RoleEmployee, Department: "ward-a"}
	s.supervisor = access.Actor{ID: id.NewUserID(), Role: access.RoleSupervisor, Department: "ward-a"}
	s.otherSup = access.Actor{ID: id.NewUserID(), Role: access.RoleSupervisor, Department: "ward-b"}
	s.hr = access.Actor{ID: id.NewUserID(), Role: access.RoleHR}
	s.finance = access.Actor{ID: id.NewUserID(), Role: access.RoleFinance}
	s.admin = access.Actor{ID: id.NewUserID(), Role: access.RoleAdmin}
	s.build(nil)
}

// build wires fresh in-memory stores. dispatch, when set, builds the
// dispatcher over the fresh notification store.
func (s *ServiceSuite) build(dispatch func(notification.Store) service.Dispatcher) {
	s.requests = requeststore.NewInMemory()
	s.approvals = approvalstore.NewInMemory()
	s.billing = billingstore.NewInMemory()
	s.audit = auditmemory.NewInMemoryStore()
	s.notifications = notificationmemory.NewInMemoryStore()
	tx := service.NewInMemoryTx(service.Stores{
		Requests:      s.requests,
		Approvals:     s.approvals,
		Billing:       s.billing,
		Audit:         s.audit,
		Notifications: s.notifications,
	})
	opts := []service.Option{
		service.WithLogger(logger.Discard()),
		service.WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	}
	if dispatch != nil {
		opts = append(opts, service.WithDispatcher(dispatch(s.notifications)))
	}
	s.svc = service.New(s.requests, s.approvals, tx, opts...)
}

func (s *ServiceSuite) leave(standIn *models.StandIn) *models.Leave {
	return &models.Leave{
		Type:      models.LeaveAnnual,
		StartDate: day(2025, 6, 1),
		EndDate:   day(2025, 6, 7),
		Reason:    "Family trip",
		StandIn:   standIn,
	}
}

func (s *ServiceSuite) operation(requiresFinance bool, cost int64) *models.Operation {
	return &models.Operation{
		ItemName:           "Infusion pump",
		Justification:      "Replacement for failed unit",
		Urgency:            models.SeverityHigh,
		EstimatedCostCents: cost,
		RequiresFinance:    requiresFinance,
	}
}

func (s *ServiceSuite) submitLeave(standIn *models.StandIn) *models.Request {
	req, err := s.svc.SubmitLeave(s.ctx, s.employee, s.leave(standIn))
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), "unexpected error: %v", err)
}

func (s *ServiceSuite) auditActions(requestID id.RequestID) []audit.Action {
	entries, err := s.audit.ListByRequest(s.ctx, requestID)
	s.Require().NoError(err)
	out := make([]audit.Action, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func (s *ServiceSuite) approvalsOf(requestID id.RequestID) []models.Approval {
	approvals, err := s.approvals.ListByRequest(s.ctx, requestID)
	s.Require().NoError(err)
	return approvals
}

func (s *ServiceSuite) stored(requestID id.RequestID) *models.Request {
	req, err := s.requests.FindByID(s.ctx, requestID)
	s.Require().NoError(err)
	return req
}

func (s *ServiceSuite) TestSubmit() {
	s.Run("leave gets a one-level chain and a creation audit entry", func() {
		req := s.submitLeave(nil)
		s.Equal(models.StatusPending, req.Status)
		s.Equal(models.Chain{models.LevelLineManager}, req.Chain)
		s.Equal("ward-a", req.Department)
		s.Equal([]audit.Action{"LEAVE_REQUEST_CREATED"}, s.auditActions(req.ID))
	})

	s.Run("leave ending before it starts is rejected before anything is stored", func() {
		l := s.leave(nil)
		l.StartDate = day(2025, 6, 7)
		l.EndDate = day(2025, 6, 1)
		_, err := s.svc.SubmitLeave(s.ctx, s.employee, l)
		s.requireCode(err, dErrors.CodeValidation)

		page, err := s.svc.ListMine(s.ctx, s.employee, models.ListFilter{})
		s.Require().NoError(err)
		s.Equal(1, page.Total, "only the leave from the previous case exists")
	})

	s.Run("stand-in rates that could overflow billing are refused", func() {
		_, err := s.svc.SubmitLeave(s.ctx, s.employee, s.leave(&models.StandIn{LocumID: id.NewUserID(), DailyRateCents: math.MaxInt64 / 4}))
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("incident is reported", func() {
		req, err := s.svc.SubmitIncident(s.ctx, s.employee, &models.Incident{
			Title:       "Wet floor",
			Description: "Corridor B flooded",
			Category:    models.IncidentSafety,
			Severity:    models.SeverityMedium,
		})
		s.Require().NoError(err)
		s.Equal([]audit.Action{"INCIDENT_REPORTED"}, s.auditActions(req.ID))
	})

	s.Run("costly operation needs finance", func() {
		req, err := s.svc.SubmitOperation(s.ctx, s.employee, s.operation(false, 250_000))
		s.Require().NoError(err)
		s.Equal(models.Chain{models.LevelLineManager, models.LevelFinanceManager}, req.Chain)
	})

	s.Run("roles without create permission are refused", func() {
		_, err := s.svc.SubmitIncident(s.ctx, s.finance, &models.Incident{
			Title: "x", Description: "y", Category: models.IncidentIT, Severity: models.SeverityLow,
		})
		s.requireCode(err, dErrors.CodeForbidden)
	})
}

func (s *ServiceSuite) TestApproveSingleLevel() {
	req := s.submitLeave(nil)

	detail, err := s.svc.Approve(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "enjoy")
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, detail.Request.Status)
	s.Nil(detail.CurrentLevel)

	approvals := s.approvalsOf(req.ID)
	s.Require().Len(approvals, 1)
	s.Equal(1, approvals[0].Order)
	s.Equal(models.ApprovalCompleted, approvals[0].Status)
	s.Equal(len(req.Chain), models.CompletedCount(approvals))
	s.Equal([]audit.Action{"LEAVE_REQUEST_CREATED", "LEAVE_REQUEST_APPROVED"}, s.auditActions(req.ID))

	inbox, err := s.notifications.ListByRecipient(s.ctx, s.employee.ID, 0)
	s.Require().NoError(err)
	s.Require().Len(inbox, 1)
	s.Equal("Your leave request has been approved", inbox[0].Message)
}

func (s *ServiceSuite) TestOperationRequiringFinanceClearsTwoLevels() {
	req, err := s.svc.SubmitOperation(s.ctx, s.employee, s.operation(true, 5_000))
	s.Require().NoError(err)

	detail, err := s.svc.Approve(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "")
	s.Require().NoError(err)
	s.Equal(models.StatusPending, detail.Request.Status)
	s.Require().NotNil(detail.CurrentLevel)
	s.Equal(models.LevelFinanceManager, *detail.CurrentLevel)

	detail, err = s.svc.Approve(s.ctx, s.finance, req.ID, models.LevelFinanceManager, "within budget")
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, detail.Request.Status)

	approvals := s.approvalsOf(req.ID)
	s.Require().Len(approvals, 2)
	s.Equal(1, approvals[0].Order)
	s.Equal(models.LevelLineManager, approvals[0].Level)
	s.Equal(2, approvals[1].Order)
	s.Equal(models.LevelFinanceManager, approvals[1].Level)
	s.Equal([]audit.Action{
		"OPERATION_REQUEST_CREATED",
		"OPERATION_REQUEST_APPROVAL_RECORDED",
		"OPERATION_REQUEST_APPROVED",
	}, s.auditActions(req.ID))
}

func (s *ServiceSuite) TestLevelChecks() {
	req, err := s.svc.SubmitOperation(s.ctx, s.employee, s.operation(true, 0))
	s.Require().NoError(err)

	s.Run("acting at a later level than current is a conflict", func() {
		_, err := s.svc.Approve(s.ctx, s.finance, req.ID, models.LevelFinanceManager, "")
		s.requireCode(err, dErrors.CodeConflict)
	})

	s.Run("finance cannot act at line manager level", func() {
		_, err := s.svc.Approve(s.ctx, s.finance, req.ID, models.LevelLineManager, "")
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("a level outside the chain is a validation error", func() {
		leave := s.submitLeave(nil)
		_, err := s.svc.Approve(s.ctx, s.finance, leave.ID, models.LevelFinanceManager, "")
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("supervisors only manage their own department", func() {
		_, err := s.svc.Approve(s.ctx, s.otherSup, req.ID, models.LevelLineManager, "")
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("requesters cannot approve their own request", func() {
		own, err := s.svc.SubmitLeave(s.ctx, s.hr, s.leave(nil))
		s.Require().NoError(err)
		_, err = s.svc.Approve(s.ctx, s.hr, own.ID, models.LevelLineManager, "")
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Empty(s.approvalsOf(req.ID))
}

func (s *ServiceSuite) TestPermissionDeniedWritesNothing() {
	req := s.submitLeave(nil)
	peer := access.Actor{ID: id.NewUserID(), Role: access.RoleEmployee, Department: "ward-a"}

	_, err := s.svc.Approve(s.ctx, peer, req.ID, models.LevelLineManager, "")
	s.requireCode(err, dErrors.CodeForbidden)

	s.Empty(s.approvalsOf(req.ID))
	s.Equal([]audit.Action{"LEAVE_REQUEST_CREATED"}, s.auditActions(req.ID))
	s.Equal(req.Version, s.stored(req.ID).Version)
}

func (s *ServiceSuite) TestRejectRequiresReason() {
	req := s.submitLeave(nil)

	for _, reason := range []string{"", "   "} {
		_, err := s.svc.Reject(s.ctx, s.supervisor, req.ID, models.LevelLineManager, reason)
		s.requireCode(err, dErrors.CodeValidation)
	}
	s.Equal(models.StatusPending, s.stored(req.ID).Status)
	s.Empty(s.approvalsOf(req.ID))
	s.Len(s.auditActions(req.ID), 1)

	detail, err := s.svc.Reject(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "Short staffed that week")
	s.Require().NoError(err)
	s.Equal(models.StatusRejected, detail.Request.Status)
	approvals := s.approvalsOf(req.ID)
	s.Require().Len(approvals, 1)
	s.Equal(models.ApprovalRejected, approvals[0].Status)
	s.Equal("Short staffed that week", approvals[0].Comments)
}

func (s *ServiceSuite) TestRejectAtFirstLevelIsTerminal() {
	req, err := s.svc.SubmitOperation(s.ctx, s.employee, s.operation(true, 0))
	s.Require().NoError(err)

	_, err = s.svc.Reject(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "not needed")
	s.Require().NoError(err)

	_, err = s.svc.Approve(s.ctx, s.finance, req.ID, models.LevelFinanceManager, "")
	s.requireCode(err, dErrors.CodeConflict)
	s.True(dErrors.IsRetryable(err))
}

func (s *ServiceSuite) TestConcurrentApprovalsYieldOneWinner() {
	req := s.submitLeave(nil)

	approvers := []access.Actor{s.supervisor, s.hr, s.admin,
		{ID: id.NewUserID(), Role: access.RoleHR},
		{ID: id.NewUserID(), Role: access.RoleSupervisor, Department: "ward-a"},
	}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, a := range approvers {
		wg.Add(1)
		go func(actor access.Actor) {
			defer wg.Done()
			_, err := s.svc.Approve(s.ctx, actor, req.ID, models.LevelLineManager, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts++
			}
		}(a)
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(len(approvers)-1, conflicts)
	s.Len(s.approvalsOf(req.ID), 1)
	s.Equal(models.StatusApproved, s.stored(req.ID).Status)
	s.Equal([]audit.Action{"LEAVE_REQUEST_CREATED", "LEAVE_REQUEST_APPROVED"}, s.auditActions(req.ID))
}

func (s *ServiceSuite) TestConcurrentIntermediateApprovalsYieldOneWinner() {
	req, err := s.svc.SubmitOperation(s.ctx, s.employee, s.operation(true, 0))
	s.Require().NoError(err)

	results := make(chan error, 2)
	for _, a := range []access.Actor{s.supervisor, s.admin} {
		go func(actor access.Actor) {
			_, err := s.svc.Approve(s.ctx, actor, req.ID, models.LevelLineManager, "")
			results <- err
		}(a)
	}
	errs := []error{<-results, <-results}
	s.True((errs[0] == nil) != (errs[1] == nil), "exactly one approval must win: %v", errs)
	for _, err := range errs {
		if err != nil {
			s.requireCode(err, dErrors.CodeConflict)
		}
	}
	s.Len(s.approvalsOf(req.ID), 1)
	s.Equal(models.StatusPending, s.stored(req.ID).Status)
}

func (s *ServiceSuite) TestDecisionsNameTheLevel() {
	req, err := s.svc.SubmitOperation(s.ctx, s.employee, s.operation(true, 0))
	s.Require().NoError(err)
	admins := []access.Actor{s.admin, {ID: id.NewUserID(), Role: access.RoleAdmin}}

	s.Run("omitted level is refused before anything is written", func() {
		_, err := s.svc.Approve(s.ctx, s.admin, req.ID, "", "")
		s.requireCode(err, dErrors.CodeValidation)
		_, err = s.svc.Reject(s.ctx, s.admin, req.ID, "", "not needed")
		s.requireCode(err, dErrors.CodeValidation)
		s.Empty(s.approvalsOf(req.ID))
	})

	s.Run("two admins who read the same level cannot clear two levels", func() {
		var wg sync.WaitGroup
		errs := make([]error, len(admins))
		for i, a := range admins {
			wg.Go(func() {
				_, errs[i] = s.svc.Approve(s.ctx, a, req.ID, models.LevelLineManager, "")
			})
		}
		wg.Wait()

		s.True((errs[0] == nil) != (errs[1] == nil), "exactly one approval must win: %v", errs)
		for _, err := range errs {
			if err != nil {
				s.requireCode(err, dErrors.CodeConflict)
			}
		}
		approvals := s.approvalsOf(req.ID)
		s.Require().Len(approvals, 1)
		s.Equal(models.LevelLineManager, approvals[0].Level)
		s.Equal(models.StatusPending, s.stored(req.ID).Status)
	})

	s.Run("the finance level still needs its own decision", func() {
		detail, err := s.svc.Approve(s.ctx, s.admin, req.ID, models.LevelFinanceManager, "")
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, detail.Request.Status)
	})
}

func (s *ServiceSuite) TestAuditFailureAbortsTransition() {
	req := s.submitLeave(nil)
	before := s.stored(req.ID)
	s.audit.FailWith(errors.New("disk full"))

	_, err := s.svc.Approve(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "")
	s.requireCode(err, dErrors.CodeUnavailable)

	s.audit.FailWith(nil)
	after := s.stored(req.ID)
	s.Equal(before.Status, after.Status)
	s.Equal(before.Version, after.Version)
	s.Equal(before.History, after.History)
	s.Empty(s.approvalsOf(req.ID))
	pending, err := s.notifications.ListUnsent(s.ctx, 0)
	s.Require().NoError(err)
	s.Empty(pending)

	_, err = s.svc.Approve(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "")
	s.Require().NoError(err, "the request is untouched and can still be approved")
}

func (s *ServiceSuite) withTransport(transport notification.Transport) {
	s.build(func(store notification.Store) service.Dispatcher {
		return notification.NewDispatcher(store, transport,
			notification.WithLogger(logger.Discard()),
			notification.WithClock(func() time.Time { return fixedNow }),
		)
	})
}

func (s *ServiceSuite) TestNotificationDelivery() {
	s.Run("delivered after commit and marked sent", func() {
		ctrl := gomock.NewController(s.T())
		transport := notificationmocks.NewMockTransport(ctrl)
		s.withTransport(transport)
		req := s.submitLeave(nil)

		transport.EXPECT().Send(gomock.Any(), s.employee.ID, "Your leave request has been approved").Return(nil)
		_, err := s.svc.Approve(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "")
		s.Require().NoError(err)

		pending, err := s.notifications.ListUnsent(s.ctx, 0)
		s.Require().NoError(err)
		s.Empty(pending)
	})

	s.Run("transport failure does not roll back the transition", func() {
		ctrl := gomock.NewController(s.T())
		transport := notificationmocks.NewMockTransport(ctrl)
		s.withTransport(transport)
		req := s.submitLeave(nil)

		transport.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))
		detail, err := s.svc.Reject(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "Overlaps with audit week")
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, detail.Request.Status)
		s.Equal(models.StatusRejected, s.stored(req.ID).Status)

		pending, err := s.notifications.ListUnsent(s.ctx, 0)
		s.Require().NoError(err)
		s.Require().Len(pending, 1, "left for the retry sweep")
		s.Equal("Your leave request has been rejected: Overlaps with audit week", pending[0].Message)
	})
}

func (s *ServiceSuite) TestCancel() {
	s.Run("requester withdraws a pending leave", func() {
		req := s.submitLeave(nil)
		detail, err := s.svc.Cancel(s.ctx, s.employee, req.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, detail.Request.Status)
		s.Empty(s.approvalsOf(req.ID), "cancel writes no approval")
		s.Equal([]audit.Action{"LEAVE_REQUEST_CREATED", "LEAVE_REQUEST_CANCELLED"}, s.auditActions(req.ID))
	})

	s.Run("only the requester may cancel", func() {
		req := s.submitLeave(nil)
		_, err := s.svc.Cancel(s.ctx, s.admin, req.ID)
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("operations cannot be cancelled", func() {
		req, err := s.svc.SubmitOperation(s.ctx, s.employee, s.operation(false, 0))
		s.Require().NoError(err)
		_, err = s.svc.Cancel(s.ctx, s.employee, req.ID)
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("an approved leave can no longer be cancelled", func() {
		req := s.submitLeave(nil)
		_, err := s.svc.Approve(s.ctx, s.hr, req.ID, models.LevelLineManager, "")
		s.Require().NoError(err)
		_, err = s.svc.Cancel(s.ctx, s.employee, req.ID)
		s.requireCode(err, dErrors.CodeConflict)
	})

	s.Run("unknown request", func() {
		_, err := s.svc.Cancel(s.ctx, s.employee, id.NewRequestID())
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *ServiceSuite) TestUpdatePending() {
	req := s.submitLeave(nil)
	reason := "Wedding"

	s.Run("requester edits content while pending", func() {
		updated, err := s.svc.UpdatePending(s.ctx, s.employee, req.ID, models.ContentEdit{Reason: &reason})
		s.Require().NoError(err)
		leave, ok := updated.Leave()
		s.Require().True(ok)
		s.Equal("Wedding", leave.Reason)
		s.Equal(req.Chain, updated.Chain)
		s.Empty(s.approvalsOf(req.ID))
		s.Equal([]audit.Action{"LEAVE_REQUEST_CREATED", "LEAVE_REQUEST_UPDATED"}, s.auditActions(req.ID))
	})

	s.Run("edits that break date order are validation errors", func() {
		end := day(2025, 5, 1)
		_, err := s.svc.UpdatePending(s.ctx, s.employee, req.ID, models.ContentEdit{EndDate: &end})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("fields of other request types are refused", func() {
		title := "x"
		_, err := s.svc.UpdatePending(s.ctx, s.employee, req.ID, models.ContentEdit{Title: &title})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("empty edit", func() {
		_, err := s.svc.UpdatePending(s.ctx, s.employee, req.ID, models.ContentEdit{})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("others cannot edit", func() {
		_, err := s.svc.UpdatePending(s.ctx, s.hr, req.ID, models.ContentEdit{Reason: &reason})
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("no edits once decided", func() {
		_, err := s.svc.Approve(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "")
		s.Require().NoError(err)
		_, err = s.svc.UpdatePending(s.ctx, s.employee, req.ID, models.ContentEdit{Reason: &reason})
		s.requireCode(err, dErrors.CodeConflict)
	})
}

func (s *ServiceSuite) TestCompleteCoveredLeave() {
	locum := id.NewUserID()
	req := s.submitLeave(&models.StandIn{LocumID: locum, DailyRateCents: 25_000})
	s.Require().Equal(models.Chain{models.LevelLineManager, models.LevelFinanceManager}, req.Chain)

	_, err := s.svc.Approve(s.ctx, s.supervisor, req.ID, models.LevelLineManager, "")
	s.Require().NoError(err)

	_, err = s.svc.Complete(s.ctx, req.ID)
	s.requireCode(err, dErrors.CodeConflict)

	_, err = s.svc.Approve(s.ctx, s.finance, req.ID, models.LevelFinanceManager, "")
	s.Require().NoError(err)

	detail, err := s.svc.Complete(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, detail.Request.Status)

	b, err := s.billing.FindByRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(7, b.Shift.Days)
	s.Equal(int64(175_000), b.Invoice.AmountCents)
	s.Equal(locum, b.Invoice.LocumID)
	s.Equal("ward-a", b.Record.Department)

	_, err = s.svc.Complete(s.ctx, req.ID)
	s.requireCode(err, dErrors.CodeConflict)

	history := s.stored(req.ID).History
	for i := 1; i < len(history); i++ {
		s.LessOrEqual(history[i-1].Status.Rank(), history[i].Status.Rank())
		s.NotEqual(models.StatusPending, history[i].Status)
	}
	s.Equal([]models.Status{models.StatusPending, models.StatusApproved, models.StatusCompleted},
		[]models.Status{history[0].Status, history[1].Status, history[2].Status})
}

func (s *ServiceSuite) TestCompletionIsSystemOnly() {
	req := s.submitLeave(nil)
	_, err := s.svc.Approve(s.ctx, s.hr, req.ID, models.LevelLineManager, "")
	s.Require().NoError(err)

	_, err = s.svc.Engine().Transition(s.ctx, service.TransitionCommand{
		RequestID: req.ID,
		Actor:     s.admin,
		From:      models.StatusApproved,
		To:        models.StatusCompleted,
	})
	s.requireCode(err, dErrors.CodeForbidden)

	_, err = s.svc.Engine().Transition(s.ctx, service.TransitionCommand{
		RequestID: req.ID,
		Actor:     s.admin,
		From:      models.StatusApproved,
		To:        models.StatusPending,
	})
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestCompleteDueLeaves() {
	ended := s.submitLeave(nil)
	ongoing, err := s.svc.SubmitLeave(s.ctx, s.employee, &models.Leave{
		Type:      models.LeaveSick,
		StartDate: day(2025, 6, 5),
		EndDate:   day(2025, 6, 20),
		Reason:    "Surgery recovery",
	})
	s.Require().NoError(err)
	pending := s.submitLeave(nil)

	for _, r := range []*models.Request{ended, ongoing} {
		_, err := s.svc.Approve(s.ctx, s.hr, r.ID, models.LevelLineManager, "")
		s.Require().NoError(err)
	}

	report, err := s.svc.CompleteDueLeaves(context.Background(), time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Equal([]id.RequestID{ended.ID}, report.Completed)
	s.Empty(report.Skipped)

	s.Equal(models.StatusCompleted, s.stored(ended.ID).Status)
	s.Equal(models.StatusApproved, s.stored(ongoing.ID).Status)
	s.Equal(models.StatusPending, s.stored(pending.ID).Status)
	_, err = s.billing.FindByRequest(s.ctx, ended.ID)
	s.Error(err, "uncovered leave produces no billing")
}

// conflictingTx refuses every write to the listed requests as a lost race.
type conflictingTx struct {
	service.StoreTx
	conflicts map[id.RequestID]bool
}

func (c conflictingTx) RunInTx(ctx context.Context, key id.RequestID, fn func(ctx context.Context, s service.Stores) error) error {
	if c.conflicts[key] {
		return sentinel.ErrConflict
	}
	return c.StoreTx.RunInTx(ctx, key, fn)
}

func (s *ServiceSuite) TestCompleteDueLeavesPagesPastSkippedLeaves() {
	var due []id.RequestID
	for range 150 {
		req, err := models.NewRequest(id.NewRequestID(), s.employee, s.leave(nil), models.DefaultFinancePolicy(), fixedNow)
		s.Require().NoError(err)
		req.ApplyStatus(models.StatusApproved, fixedNow)
		s.Require().NoError(s.requests.Create(s.ctx, req))
		due = append(due, req.ID)
	}
	slices.SortFunc(due, func(a, b id.RequestID) int { return strings.Compare(a.String(), b.String()) })

	// The first full batch loses every race.
	conflicts := make(map[id.RequestID]bool)
	for _, requestID := range due[:100] {
		conflicts[requestID] = true
	}
	tx := service.NewInMemoryTx(service.Stores{
		Requests:      s.requests,
		Approvals:     s.approvals,
		Billing:       s.billing,
		Audit:         s.audit,
		Notifications: s.notifications,
	})
	svc := service.New(s.requests, s.approvals, conflictingTx{StoreTx: tx, conflicts: conflicts},
		service.WithLogger(logger.Discard()),
		service.WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)

	report, err := svc.CompleteDueLeaves(context.Background(), time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Equal(due[:100], report.Skipped)
	s.Equal(due[100:], report.Completed)
	for _, requestID := range due[100:] {
		s.Equal(models.StatusCompleted, s.stored(requestID).Status)
	}
	s.Equal(models.StatusApproved, s.stored(due[0]).Status)
}

func (s *ServiceSuite) TestListingAndVisibility() {
	leave := s.submitLeave(nil)
	op, err := s.svc.SubmitOperation(s.ctx, s.employee, s.operation(false, 0))
	s.Require().NoError(err)
	outsider := access.Actor{ID: id.NewUserID(), Role: access.RoleEmployee, Department: "ward-b"}
	_, err = s.svc.SubmitLeave(s.ctx, outsider, s.leave(nil))
	s.Require().NoError(err)

	s.Run("list mine filters by type and pages", func() {
		page, err := s.svc.ListMine(s.ctx, s.employee, models.ListFilter{Variants: []models.Variant{models.VariantLeave}})
		s.Require().NoError(err)
		s.Equal(1, page.Total)
		s.Equal(leave.ID, page.Items[0].ID)

		page, err = s.svc.ListMine(s.ctx, s.employee, models.ListFilter{Limit: 1, Page: 2})
		s.Require().NoError(err)
		s.Equal(2, page.Total)
		s.Len(page.Items, 1)
	})

	s.Run("huge page numbers come back empty", func() {
		page, err := s.svc.ListMine(s.ctx, s.employee, models.ListFilter{Page: math.MaxInt64 / 50, Limit: 100})
		s.Require().NoError(err)
		s.Equal(2, page.Total)
		s.Empty(page.Items)
		s.Equal(models.MaxPage, page.Page)
	})

	s.Run("supervisor reviews own department only", func() {
		page, err := s.svc.ListForReview(s.ctx, s.supervisor, models.ListFilter{})
		s.Require().NoError(err)
		s.Equal(2, page.Total)
	})

	s.Run("finance reviews leave and operations across departments", func() {
		page, err := s.svc.ListForReview(s.ctx, s.finance, models.ListFilter{})
		s.Require().NoError(err)
		s.Equal(3, page.Total)

		_, err = s.svc.ListForReview(s.ctx, s.finance, models.ListFilter{Variants: []models.Variant{models.VariantIncident}})
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("employees have nothing to review", func() {
		_, err := s.svc.ListForReview(s.ctx, s.employee, models.ListFilter{})
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("get", func() {
		detail, err := s.svc.Get(s.ctx, s.employee, op.ID)
		s.Require().NoError(err)
		s.Require().NotNil(detail.CurrentLevel)
		s.Equal(models.LevelLineManager, *detail.CurrentLevel)

		_, err = s.svc.Get(s.ctx, s.otherSup, op.ID)
		s.requireCode(err, dErrors.CodeForbidden)
		_, err = s.svc.Get(s.ctx, outsider, leave.ID)
		s.requireCode(err, dErrors.CodeForbidden)
		_, err = s.svc.Get(s.ctx, s.hr, leave.ID)
		s.Require().NoError(err)
		_, err = s.svc.Get(s.ctx, s.hr, id.NewRequestID())
		s.requireCode(err, dErrors.CodeNotFound)
	})
}
