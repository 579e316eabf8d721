package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/vedran77/lobby/internal/domain"
	"github.com/vedran77/lobby/internal/session"
)

type contextKey string

const (
	ActorKey  contextKey = "actor"
	holderKey contextKey = "actor_holder"
)

// actorHolder carries the authenticated actor back out to Logging, which
// wraps the router and so never sees the context Auth builds.
type actorHolder struct {
	actor domain.Actor
	set   bool
}

func withActorHolder(ctx context.Context, h *actorHolder) context.Context {
	return context.WithValue(ctx, holderKey, h)
}

// Authenticator resolves a bearer token to its actor and session mirror.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Actor, *session.Mirror, error)
}

func Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"Missing or invalid token"}}`, http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(header, "Bearer ")

			actor, mirror, err := authn.Authenticate(r.Context(), tokenStr)
			if err != nil {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"Invalid or expired token"}}`, http.StatusUnauthorized)
				return
			}

			if h, ok := r.Context().Value(holderKey).(*actorHolder); ok {
				h.actor, h.set = actor, true
			}

			ctx := context.WithValue(r.Context(), ActorKey, actor)
			ctx = session.NewContext(ctx, mirror)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActor extracts the authenticated actor from request context
func GetActor(ctx context.Context) domain.Actor {
	return ctx.Value(ActorKey).(domain.Actor)
}

// ActorFromContext is GetActor for code that may run before Auth.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(domain.Actor)
	return actor, ok
}
