package auth

import (
	"context"
	"strings"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	// Identity is the caller's wallet address, lower-cased.
	Identity string
	Email    string
	TokenID  string
}

type callerContextKey struct{}
type tokenContextKey struct{}

// ContextWithCaller attaches the authenticated caller to the context.
func ContextWithCaller(ctx context.Context, c Caller) context.Context {
	c.Identity = strings.ToLower(strings.TrimSpace(c.Identity))
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	return context.WithValue(ctx, callerContextKey{}, &c)
}

// CallerFromContext extracts the authenticated caller from the context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*Caller)
	if !ok || v == nil || v.Identity == "" {
		return Caller{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
