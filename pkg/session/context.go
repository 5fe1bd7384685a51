package session

import "context"

type idKey struct{}

// ContextWithID returns a copy of ctx carrying the session id.
func ContextWithID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, idKey{}, sid)
}

// IDFromContext returns the session id stored in ctx, or "".
func IDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(idKey{}).(string)
	return sid
}
