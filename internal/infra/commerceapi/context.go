package commerceapi

import "context"

type tokenContextKey string

const tokenKey tokenContextKey = "commerce_bearer_token"

// ContextWithToken attaches the caller's bearer token; the client forwards it
// on every backend call. The token itself is issued by the external auth
// collaborator and treated as opaque here.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok && token != ""
}
