// Package gatewaycontext carries per-request diagnostic state (request id,
// authentication token, resolved user, matched route, authentication
// method) on the request's context.Context.
//
// Spec §9's redesign note replaces a reactive, thread-local MDC (the
// teacher has none of its own — this is new ambient infrastructure) with
// an explicit, context-carried value, following the stdlib-idiomatic
// pattern of unexported empty-struct keys (as used throughout the
// examples' own context-key types, e.g. the teacher's
// pkg/auth/context.go) so no other package can collide with or forge a key.
package gatewaycontext

import (
	"context"

	"github.com/georchestra/gateway/pkg/model"
)

type requestIDKey struct{}
type authTokenKey struct{}
type userKey struct{}
type routeIDKey struct{}
type authMethodKey struct{}

// WithRequestID binds the per-request id (spec §4.10 step 1).
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the bound request id, or "" if unset.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithAuthToken binds the raw authentication token produced by whichever
// filter authenticated the request (spec §4.10 step 2).
func WithAuthToken(ctx context.Context, tok *model.AuthToken) context.Context {
	return context.WithValue(ctx, authTokenKey{}, tok)
}

// AuthToken returns the bound authentication token, or nil if unauthenticated.
func AuthToken(ctx context.Context) *model.AuthToken {
	tok, _ := ctx.Value(authTokenKey{}).(*model.AuthToken)
	return tok
}

// WithUser binds the canonical resolved user (spec §4.10 step 3).
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// User returns the bound canonical user, or nil if resolution hasn't run.
func User(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey{}).(*model.User)
	return u
}

// WithRouteID binds the id of the route matched by C9 (spec §4.10 step 5).
func WithRouteID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, routeIDKey{}, id)
}

// RouteID returns the bound matched-route id, or "" if no route matched yet.
func RouteID(ctx context.Context) string {
	id, _ := ctx.Value(routeIDKey{}).(string)
	return id
}

// WithAuthMethod binds the name of the authentication source used ("preauth",
// "oidc:<registrationId>", "directory", or "anonymous").
func WithAuthMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, authMethodKey{}, method)
}

// AuthMethod returns the bound authentication method, or "" if unset.
func AuthMethod(ctx context.Context) string {
	m, _ := ctx.Value(authMethodKey{}).(string)
	return m
}
