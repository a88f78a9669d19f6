package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsflow/internal/access"
	"opsflow/internal/audit"
	"opsflow/internal/audit/handler"
	"opsflow/internal/audit/store/memory"
	"opsflow/internal/platform/logger"
	id "opsflow/pkg/domain"
	"opsflow/pkg/testutil"
)

type listBody struct {
	Items []audit.Entry `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

type failingReader struct{}

func (failingReader) List(context.Context, audit.Query) (*audit.Page, error) {
	return nil, errors.New("connection refused")
}

func newRouter(reader audit.Reader) chi.Router {
	r := chi.NewRouter()
	handler.New(reader, access.NewDefaultMatrix(), logger.Discard()).Register(r)
	return r
}

func TestAuditLog(t *testing.T) {
	store := memory.NewInMemoryStore()
	r := newRouter(store)
	admin := testutil.NewActor(access.RoleAdmin, "")
	leave, op := id.NewRequestID(), id.NewRequestID()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, e := range []audit.Entry{
		{RequestID: leave, ActorID: admin.ID, Action: "LEAVE_REQUEST_CREATED"},
		{RequestID: op, ActorID: admin.ID, Action: "OPERATION_REQUEST_CREATED"},
		{RequestID: leave, ActorID: admin.ID, Action: "LEAVE_REQUEST_APPROVED"},
	} {
		e.Timestamp = base.AddDate(0, 0, i)
		require.NoError(t, store.Append(t.Context(), &e))
	}

	get := func(t *testing.T, actor access.Actor, path string) *listBody {
		t.Helper()
		rr := testutil.DoRequest(r, testutil.AsActor(testutil.NewJSONRequest(t, http.MethodGet, path, nil), actor))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		return testutil.UnmarshalResponse[listBody](t, rr)
	}

	t.Run("admin lists newest first", func(t *testing.T) {
		body := get(t, admin, "/v1/audit")
		assert.Equal(t, 3, body.Total)
		require.Len(t, body.Items, 3)
		assert.Equal(t, audit.Action("LEAVE_REQUEST_APPROVED"), body.Items[0].Action)
		assert.Equal(t, audit.DefaultPageLimit, body.Limit)
	})

	t.Run("filters combine", func(t *testing.T) {
		body := get(t, admin, "/v1/audit?request_id="+leave.String()+"&action=leave_request_created")
		require.Len(t, body.Items, 1)
		assert.Equal(t, leave, body.Items[0].RequestID)

		body = get(t, admin, "/v1/audit?from=2025-06-02&to=2025-06-02")
		require.Len(t, body.Items, 1)
		assert.Equal(t, audit.Action("OPERATION_REQUEST_CREATED"), body.Items[0].Action)

		body = get(t, admin, "/v1/audit?limit=2&page=2")
		assert.Equal(t, 3, body.Total)
		assert.Len(t, body.Items, 1)
	})

	t.Run("other roles are refused", func(t *testing.T) {
		for _, role := range []access.Role{access.RoleEmployee, access.RoleSupervisor, access.RoleHR, access.RoleFinance} {
			rr := testutil.DoRequest(r, testutil.AsActor(testutil.NewJSONRequest(t, http.MethodGet, "/v1/audit", nil), testutil.NewActor(role, "ward-a")))
			testutil.AssertError(t, rr, http.StatusForbidden, "forbidden")
		}
		rr := testutil.DoRequest(r, testutil.NewJSONRequest(t, http.MethodGet, "/v1/audit", nil))
		testutil.AssertError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("bad parameters", func(t *testing.T) {
		for _, q := range []string{
			"request_id=nope",
			"from=June",
			"from=2025-06-03&to=2025-06-01",
			"page=0",
			"page=1000001",
			"limit=201",
		} {
			rr := testutil.DoRequest(r, testutil.AsActor(testutil.NewJSONRequest(t, http.MethodGet, "/v1/audit?"+q, nil), admin))
			testutil.AssertError(t, rr, http.StatusBadRequest, "validation_error")
		}
	})

	t.Run("store failure is unavailable", func(t *testing.T) {
		rr := testutil.DoRequest(newRouter(failingReader{}), testutil.AsActor(testutil.NewJSONRequest(t, http.MethodGet, "/v1/audit", nil), admin))
		testutil.AssertError(t, rr, http.StatusServiceUnavailable, "service_unavailable")
	})
}
