package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chatcore/internal/domain"
)

// Compile-time interface assertions.
var (
	_ domain.LLMProvider          = (*FailoverProvider)(nil)
	_ domain.StreamingLLMProvider = (*FailoverProvider)(nil)
	_ domain.StreamingReporter    = (*FailoverProvider)(nil)
)

// FailoverProvider wraps a primary LLM provider with fallback providers.
// If the primary fails, it tries each fallback in order.
type FailoverProvider struct {
	primary   domain.LLMProvider
	fallbacks []domain.LLMProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// Name reports the primary's name so telemetry stays attributed to it.
func (f *FailoverProvider) Name() string { return f.primary.Name() }

// Chat tries the primary provider first, then each fallback on failure.
func (f *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var errs []error
	for i, p := range f.chain() {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "failover succeeded", "provider", p.Name())
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if !f.shouldFailover(ctx, p, err) {
			break
		}
	}
	return nil, f.aggregate(errs)
}

// ChatStream tries streaming from the primary, then each fallback that
// supports streaming.
func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	var errs []error
	for i, p := range f.chain() {
		sp, ok := domain.AsStreaming(p)
		if !ok {
			continue
		}
		ch, err := sp.ChatStream(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "streaming failover succeeded", "provider", p.Name())
			}
			return ch, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if !f.shouldFailover(ctx, p, err) {
			break
		}
	}
	if len(errs) == 0 {
		return nil, &domain.CompletionError{Provider: f.Name(), Err: errors.New("no streaming-capable providers available")}
	}
	return nil, f.aggregate(errs)
}

// SupportsStreaming reports whether any provider in the chain can stream.
func (f *FailoverProvider) SupportsStreaming() bool {
	for _, p := range f.chain() {
		if _, ok := domain.AsStreaming(p); ok {
			return true
		}
	}
	return false
}

func (f *FailoverProvider) chain() []domain.LLMProvider {
	return append([]domain.LLMProvider{f.primary}, f.fallbacks...)
}

// shouldFailover reports whether the next provider should be tried.
func (f *FailoverProvider) shouldFailover(ctx context.Context, p domain.LLMProvider, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	f.logger.WarnContext(ctx, "llm provider failed, trying next",
		"provider", p.Name(), "retryable", domain.IsRetryableError(err), "error", err)
	return true
}

// aggregate keeps the last failure's CompletionError metadata and joins
// every provider's error into its cause.
func (f *FailoverProvider) aggregate(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	last := errs[len(errs)-1]
	out := &domain.CompletionError{Provider: f.Name(), Err: fmt.Errorf("all providers failed: %w", errors.Join(errs...))}
	var ce *domain.CompletionError
	if errors.As(last, &ce) {
		out.StatusCode = ce.StatusCode
		out.ResponseID = ce.ResponseID
		out.Usage = ce.Usage
	}
	return out
}
