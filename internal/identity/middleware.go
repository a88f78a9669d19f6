package identity

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"opsflow/internal/access"
	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/platform/httputil"
	"opsflow/pkg/requestcontext"
)

//go:generate mockgen -source=middleware.go -destination=mocks/mocks.go -package=mocks Authenticator

// Authenticator resolves a bearer token into an actor.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (access.Actor, error)
}

type actorKey struct{}

// WithActor stores the authenticated actor. Handler tests use it directly.
func WithActor(ctx context.Context, actor access.Actor) context.Context {
	ctx = requestcontext.WithUserID(ctx, actor.ID)
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor set by RequireAuth.
func ActorFrom(ctx context.Context) (access.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(access.Actor)
	return actor, ok
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			actor, err := authn.Authenticate(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
					err = dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
				}
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(ctx, actor)))
		})
	}
}
