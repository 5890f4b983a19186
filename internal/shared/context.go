package shared

import "context"

// Actor identifies the already-authenticated principal performing a mutation.
// Authentication happens upstream; the engine only records who acted.
type Actor struct {
	ID   int64
	Name string
	Role string
}

// System is the actor recorded for mutations triggered by background jobs.
var System = Actor{ID: 0, Name: "system", Role: "system"}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
