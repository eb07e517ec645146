package auth

import "context"

type clientContextKey struct{}

// ContextWithClient attaches the caller's IP and user agent to the context.
func ContextWithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientContextKey{}, &c)
}

// ClientFromContext extracts the caller attached by ContextWithClient.
func ClientFromContext(ctx context.Context) (Client, bool) {
	if ctx == nil {
		return Client{}, false
	}
	v, ok := ctx.Value(clientContextKey{}).(*Client)
	if !ok || v == nil {
		return Client{}, false
	}
	return *v, true
}
