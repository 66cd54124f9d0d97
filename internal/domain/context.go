package domain

import "context"

type ctxKey string

const chainCtxKey ctxKey = "chain_id"

// ContextWithChainID returns a new context carrying the call-chain ID (ULID).
func ContextWithChainID(ctx context.Context, chainID string) context.Context {
	return context.WithValue(ctx, chainCtxKey, chainID)
}

// ChainIDFromContext extracts the call-chain ID from the context.
// Returns empty string if not set.
func ChainIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(chainCtxKey).(string); ok {
		return v
	}
	return ""
}
