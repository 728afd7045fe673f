package shared

import "context"

type ctxKeySession struct{}

// ContextWithSession attaches the loaded session for downstream handlers.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, ctxKeySession{}, sess)
}

// SessionFromContext returns the session the middleware attached, or nil
// when the request carried no usable cookie.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(ctxKeySession{}).(*Session)
	return sess
}
