package token

import "context"

type ctxKey struct{}

// WithValidatedTokens attaches the request's verified tokens to ctx.
func WithValidatedTokens(ctx context.Context, tokens *ValidatedTokens) context.Context {
	return context.WithValue(ctx, ctxKey{}, tokens)
}

// FromContext reads the verified tokens attached to ctx.
func FromContext(ctx context.Context) (*ValidatedTokens, bool) {
	v, ok := ctx.Value(ctxKey{}).(*ValidatedTokens)
	return v, ok && v != nil
}
