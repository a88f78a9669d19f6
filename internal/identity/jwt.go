// Package identity resolves bearer tokens into actors. Tokens are HS256 JWTs
// whose subject is the user ID and which carry the caller's role and
// department.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"opsflow/internal/access"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
)

// Claims represents the JWT claims for access tokens.
type Claims struct {
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates and issues access tokens.
type JWTAuthenticator struct {
	signingKey []byte
	issuer     string
	leeway     time.Duration
	now        func() time.Time
}

type Option func(*JWTAuthenticator)

// WithClock overrides the time source used for issuing and validating.
func WithClock(now func() time.Time) Option {
	return func(a *JWTAuthenticator) { a.now = now }
}

func WithLeeway(d time.Duration) Option {
	return func(a *JWTAuthenticator) { a.leeway = d }
}

func NewJWTAuthenticator(signingKey, issuer string, opts ...Option) *JWTAuthenticator {
	a := &JWTAuthenticator{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		leeway:     30 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate resolves token into an Actor. Every failure is CodeUnauthorized.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (access.Actor, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.signingKey, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithLeeway(a.leeway),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return access.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return access.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return access.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return access.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	role, err := access.ParseRole(claims.Role)
	if err != nil {
		return access.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token role")
	}
	return access.Actor{ID: userID, Role: role, Department: claims.Department}, nil
}

// Issue signs a token for actor. Used by development tooling and tests; real
// sessions are issued by the identity provider.
func (a *JWTAuthenticator) Issue(actor access.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:       string(actor.Role),
		Department: actor.Department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "sign token")
	}
	return signed, nil
}
