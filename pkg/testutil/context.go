package testutil

import (
	"net/http"
	"time"

	"veil/pkg/requestcontext"
)

// WithActor injects an authenticated actor into the request context, the
// same way the auth middleware does after validating a bearer token.
func WithActor(req *http.Request, actorRef string, roles ...string) *http.Request {
	ctx := requestcontext.WithActorRef(req.Context(), actorRef)
	if len(roles) > 0 {
		ctx = requestcontext.WithActorRoles(ctx, roles)
	}
	return req.WithContext(ctx)
}

// WithRequestTime pins the request clock so dwell and retention logic can be
// tested against exact instants.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithRequestID injects a fixed request ID, normally assigned by middleware.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
