package testutil

import (
	"net/http"

	"opsflow/internal/access"
	"opsflow/internal/identity"
	id "opsflow/pkg/domain"
)

// AsActor attaches actor to the request the way RequireAuth would after a
// successful token check.
func AsActor(req *http.Request, actor access.Actor) *http.Request {
	return req.WithContext(identity.WithActor(req.Context(), actor))
}

// NewActor returns an actor with a fresh ID.
func NewActor(role access.Role, department string) access.Actor {
	return access.Actor{ID: id.NewUserID(), Role: role, Department: department}
}
