package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReady(t *testing.T) {
	ok := func(context.Context) error { return nil }

	t.Run("all checks pass", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Ready(map[string]Check{"postgres": ok})(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("failing check is named", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Ready(map[string]Check{
			"postgres": ok,
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		})(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var body struct {
			Failing map[string]string `json:"failing"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Failing)
	})

	t.Run("checks see a deadline", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Ready(map[string]Check{"kafka": func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("no deadline")
			}
			return nil
		}})(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
