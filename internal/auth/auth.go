// Package auth carries the caller identity that the edge proxy resolved for a
// request. Token validation happens upstream; this service trusts the headers.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"

	RoleAdmin = "admin"
)

type ctxKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// FromContext returns the anonymous actor when none was attached.
func FromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(ctxKey{}).(domain.Actor)
	return actor
}

func FromRequest(r *http.Request) domain.Actor {
	return domain.Actor{
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Email:  strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
		Admin:  strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderUserRole)), RoleAdmin),
	}
}

// Middleware attaches the request's actor to its context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), FromRequest(r))))
	})
}
