package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type contextKey string

// contextKeyCaller carries the authenticated caller account.
const contextKeyCaller contextKey = "caller"

// WithCaller binds the authenticated caller to the context. Handlers must
// treat it as an opaque, trusted input.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// CallerFromContext retrieves the authenticated caller from the context.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(common.Address)
	return caller, ok
}
