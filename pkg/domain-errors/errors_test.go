package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches wrapped domain error", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeConflict, "stale"))
		assert.True(t, HasCode(err, CodeConflict))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})

	t.Run("wrap keeps cause reachable", func(t *testing.T) {
		cause := errors.New("db down")
		err := Wrap(cause, CodeUnavailable, "storage failure")
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "storage failure: db down", err.Error())
	})

	t.Run("wrap of nil is nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "noop"))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeConflict, "lost race")))
	assert.True(t, IsRetryable(New(CodeUnavailable, "db")))
	assert.False(t, IsRetryable(New(CodeValidation, "bad")))
	assert.False(t, IsRetryable(New(CodeForbidden, "no")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:  http.StatusBadRequest,
		CodeForbidden:   http.StatusForbidden,
		CodeNotFound:    http.StatusNotFound,
		CodeConflict:    http.StatusConflict,
		CodeUnavailable: http.StatusServiceUnavailable,
		CodeInternal:    http.StatusInternalServerError,
		CodeRateLimited: http.StatusTooManyRequests,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), code)
	}
}
