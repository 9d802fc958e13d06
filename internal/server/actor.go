package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"transitionos/internal/domain"
)

const (
	actorTypeHeader = "X-Actor-Type"
	actorIDHeader   = "X-Actor-Id"
	defaultActorID  = "demo_user"
)

type actorKey struct{}

// actorMiddleware records the caller's self-declared identity for audit
// attribution. Nothing is authenticated.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			Type: strings.ToUpper(strings.TrimSpace(r.Header.Get(actorTypeHeader))),
			ID:   strings.TrimSpace(r.Header.Get(actorIDHeader)),
		}
		if actor.Type == "" {
			actor.Type = domain.ActorUser
		}
		if actor.ID == "" {
			actor.ID = defaultActorID
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFromContext(ctx context.Context) (domain.Actor, huma.StatusError) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	if !ok {
		return domain.Actor{Type: domain.ActorUser, ID: defaultActorID}, nil
	}
	if !domain.ValidActorType(actor.Type) {
		return domain.Actor{}, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+actorTypeHeader, map[string]any{"actor_type": actor.Type})
	}
	return actor, nil
}
