// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets values; services read them. Keeping this package free of
// net/http lets services import only what they need. The request-scoped clock
// (Now/WithTime) is the single time source consulted by dwell-time checks, so
// tests inject time here instead of stubbing timers.
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	actorRefKey    struct{}
	actorRolesKey  struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyActorRef    = actorRefKey{}
	ContextKeyActorRoles  = actorRolesKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// ActorRef retrieves the authenticated actor reference (compliance officer,
// emergency responder, onboarding service) from the context.
func ActorRef(ctx context.Context) string {
	if actor, ok := ctx.Value(ContextKeyActorRef).(string); ok {
		return actor
	}
	return ""
}

// WithActorRef injects an actor reference into the context.
func WithActorRef(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ContextKeyActorRef, actor)
}

// ActorRoles retrieves the authenticated actor's roles from the context.
func ActorRoles(ctx context.Context) []string {
	if roles, ok := ctx.Value(ContextKeyActorRoles).([]string); ok {
		return roles
	}
	return nil
}

// WithActorRoles injects actor roles into the context.
func WithActorRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, ContextKeyActorRoles, roles)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the normalized User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (workers, CLI, tests that
// don't care about time).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Dwell-time and retention
// checks read the clock through Now, so tests drive stage timing with this.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
