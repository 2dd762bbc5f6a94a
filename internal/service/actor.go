package service

import (
	"context"

	"gemledger/internal/domain"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor stamps the authenticated caller onto the context. The HTTP
// layer sets it after token verification; everything below reads it.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}
