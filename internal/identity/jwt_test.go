package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsflow/internal/access"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
)

func TestJWTAuthenticator(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	authn := NewJWTAuthenticator("secret", "opsflow", WithClock(clock), WithLeeway(0))
	actor := access.Actor{ID: id.UserID(uuid.New()), Role: access.RoleSupervisor, Department: "ops"}

	t.Run("round trip", func(t *testing.T) {
		token, err := authn.Issue(actor, time.Hour)
		require.NoError(t, err)

		got, err := authn.Authenticate(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, actor, got)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := authn.Issue(actor, time.Minute)
		require.NoError(t, err)

		later := NewJWTAuthenticator("secret", "opsflow", WithClock(func() time.Time { return now.Add(time.Hour) }), WithLeeway(0))
		_, err = later.Authenticate(context.Background(), token)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong key", func(t *testing.T) {
		token, err := NewJWTAuthenticator("other", "opsflow", WithClock(clock)).Issue(actor, time.Hour)
		require.NoError(t, err)
		_, err = authn.Authenticate(context.Background(), token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := NewJWTAuthenticator("secret", "elsewhere", WithClock(clock)).Issue(actor, time.Hour)
		require.NoError(t, err)
		_, err = authn.Authenticate(context.Background(), token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("unknown role", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Role: "OVERLORD",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   actor.ID.String(),
				Issuer:    "opsflow",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		})
		signed, err := token.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = authn.Authenticate(context.Background(), signed)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := authn.Authenticate(context.Background(), "not.a.jwt")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
