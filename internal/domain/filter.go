package domain

import "context"

// InvocationContext is shared by every filter wrapping one function invocation.
type InvocationContext struct {
	Function  Function
	Arguments Arguments
	Call      FunctionCall
	// Result holds the function's return value once it has run. A filter may replace it.
	Result any

	History  *ChatHistory
	Settings *ExecutionSettings

	RequestSequenceIndex  int
	FunctionSequenceIndex int
	FunctionCount         int
	IsStreaming           bool

	// Terminate stops the remaining calls of the round and ends the completion loop.
	Terminate bool
}

// NextFunc continues the filter chain.
type NextFunc func(ctx context.Context, ic *InvocationContext) error

// InvocationFilter wraps function invocation. A filter that does not call
// next short-circuits the chain, leaving ic.Result as it set it.
type InvocationFilter interface {
	OnFunctionInvocation(ctx context.Context, ic *InvocationContext, next NextFunc) error
}

// InvocationFilterFunc adapts a plain function to InvocationFilter.
type InvocationFilterFunc func(ctx context.Context, ic *InvocationContext, next NextFunc) error

func (f InvocationFilterFunc) OnFunctionInvocation(ctx context.Context, ic *InvocationContext, next NextFunc) error {
	return f(ctx, ic, next)
}
