package tool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"chatcore/internal/domain"
)

// LoggingFilter logs every function invocation with its duration.
type LoggingFilter struct {
	logger *slog.Logger
}

// NewLoggingFilter creates a LoggingFilter.
func NewLoggingFilter(logger *slog.Logger) *LoggingFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingFilter{logger: logger}
}

// OnFunctionInvocation implements domain.InvocationFilter.
func (f *LoggingFilter) OnFunctionInvocation(ctx context.Context, ic *domain.InvocationContext, next domain.NextFunc) error {
	fqn := ic.Call.FullyQualifiedName()
	start := time.Now()
	f.logger.DebugContext(ctx, "function invoking",
		"function", fqn,
		"call_id", ic.Call.ID,
		"request_index", ic.RequestSequenceIndex,
		"function_index", ic.FunctionSequenceIndex,
		"function_count", ic.FunctionCount,
	)

	err := next(ctx, ic)

	attrs := []any{
		"function", fqn,
		"call_id", ic.Call.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		f.logger.WarnContext(ctx, "function failed", append(attrs, "error", err)...)
		return err
	}
	if ic.Terminate {
		attrs = append(attrs, "terminate", true)
	}
	f.logger.InfoContext(ctx, "function invoked", attrs...)
	return nil
}

// RateLimitFilter rejects invocations above a per-minute limit shared by
// every function.
type RateLimitFilter struct {
	limiter *rate.Limiter
}

// NewRateLimitFilter allows perMinute invocations per minute with bursts of
// up to perMinute.
func NewRateLimitFilter(perMinute int) *RateLimitFilter {
	return &RateLimitFilter{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)}
}

// OnFunctionInvocation implements domain.InvocationFilter.
func (f *RateLimitFilter) OnFunctionInvocation(ctx context.Context, ic *domain.InvocationContext, next domain.NextFunc) error {
	if !f.limiter.Allow() {
		return fmt.Errorf("%w: rate limit exceeded for %s", domain.ErrInvocationDenied, ic.Call.FullyQualifiedName())
	}
	return next(ctx, ic)
}

// ApproveFunc decides whether an invocation may run.
type ApproveFunc func(ctx context.Context, ic *domain.InvocationContext) (bool, error)

// DenyAll is an ApproveFunc that never approves.
func DenyAll(context.Context, *domain.InvocationContext) (bool, error) { return false, nil }

// ApprovalFilter gates selected functions behind an approval callback.
// A denied call fails with domain.ErrInvocationDenied, or, when terminate
// is set, ends the completion loop with the denial as the call's result.
type ApprovalFilter struct {
	functions []string
	terminate bool
	approve   ApproveFunc
}

// NewApprovalFilter gates the listed fully-qualified names; "*" gates all.
func NewApprovalFilter(functions []string, terminate bool, approve ApproveFunc) *ApprovalFilter {
	if approve == nil {
		approve = DenyAll
	}
	return &ApprovalFilter{functions: functions, terminate: terminate, approve: approve}
}

// OnFunctionInvocation implements domain.InvocationFilter.
func (f *ApprovalFilter) OnFunctionInvocation(ctx context.Context, ic *domain.InvocationContext, next domain.NextFunc) error {
	fqn := ic.Call.FullyQualifiedName()
	if !lo.Contains(f.functions, "*") && !lo.Contains(f.functions, fqn) {
		return next(ctx, ic)
	}

	ok, err := f.approve(ctx, ic)
	if err != nil {
		return fmt.Errorf("approve %s: %w", fqn, err)
	}
	if ok {
		return next(ctx, ic)
	}

	denied := fmt.Errorf("%w: %s", domain.ErrInvocationDenied, fqn)
	if f.terminate {
		ic.Terminate = true
		ic.Result = "Error: " + denied.Error()
		return nil
	}
	return denied
}
