// Package telemetry reports completion usage and failures to OpenTelemetry
// metrics, the structured log and the event bus.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"chatcore/internal/domain"
)

const meterName = "chatcore"

// Deps holds the notifier's collaborators.
type Deps struct {
	Logger        *slog.Logger
	Bus           domain.EventBus      // optional, nil = no events
	MeterProvider metric.MeterProvider // optional, nil = global provider
	// LogUsage logs every usage report at info level instead of debug.
	LogUsage bool
}

// Notifier implements domain.TelemetryNotifier. It never blocks: metric
// instruments are synchronous counters and bus handlers run asynchronously.
type Notifier struct {
	logger   *slog.Logger
	bus      domain.EventBus
	logLevel slog.Level

	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	totalTokens      metric.Int64Counter
	rounds           metric.Int64Counter
	failures         metric.Int64Counter
}

var _ domain.TelemetryNotifier = (*Notifier)(nil)

// FailurePayload is the event payload published for a failed completion.
type FailurePayload struct {
	Provider     string        `json:"provider"`
	ModelID      string        `json:"model_id"`
	ResponseID   string        `json:"response_id,omitempty"`
	RequestIndex int           `json:"request_index"`
	Streaming    bool          `json:"streaming"`
	Usage        *domain.Usage `json:"usage,omitempty"`
	Code         string        `json:"code"`
	Error        string        `json:"error"`
}

// NewNotifier creates a notifier and registers its metric instruments.
func NewNotifier(deps Deps) (*Notifier, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	mp := deps.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	n := &Notifier{logger: deps.Logger, bus: deps.Bus, logLevel: slog.LevelDebug}
	if deps.LogUsage {
		n.logLevel = slog.LevelInfo
	}

	var err error
	if n.promptTokens, err = meter.Int64Counter("chatcore.completion.prompt_tokens",
		metric.WithDescription("Prompt tokens consumed by completion rounds"), metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if n.completionTokens, err = meter.Int64Counter("chatcore.completion.completion_tokens",
		metric.WithDescription("Completion tokens produced by completion rounds"), metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if n.totalTokens, err = meter.Int64Counter("chatcore.completion.total_tokens",
		metric.WithDescription("Total tokens of completion rounds"), metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if n.rounds, err = meter.Int64Counter("chatcore.completion.rounds",
		metric.WithDescription("Completed completion rounds")); err != nil {
		return nil, err
	}
	if n.failures, err = meter.Int64Counter("chatcore.completion.failures",
		metric.WithDescription("Failed completion requests")); err != nil {
		return nil, err
	}
	return n, nil
}

// UsageReported implements domain.TelemetryNotifier.
func (n *Notifier) UsageReported(ctx context.Context, r domain.UsageReport) {
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", r.Provider),
		attribute.String("llm.model", r.ModelID),
		attribute.Bool("completion.streaming", r.Streaming),
	)
	n.promptTokens.Add(ctx, int64(r.Usage.PromptTokens), attrs)
	n.completionTokens.Add(ctx, int64(r.Usage.CompletionTokens), attrs)
	n.totalTokens.Add(ctx, int64(r.Usage.TotalTokens), attrs)
	n.rounds.Add(ctx, 1, attrs)

	n.logger.Log(ctx, n.logLevel, "completion usage",
		"provider", r.Provider,
		"model", r.ModelID,
		"response_id", r.ResponseID,
		"request_index", r.RequestIndex,
		"prompt_tokens", r.Usage.PromptTokens,
		"completion_tokens", r.Usage.CompletionTokens,
		"total_tokens", r.Usage.TotalTokens,
	)

	if n.bus != nil {
		n.bus.Publish(ctx, domain.NewEvent(ctx, domain.EventUsageReported, r))
	}
}

// CompletionFailed implements domain.TelemetryNotifier.
func (n *Notifier) CompletionFailed(ctx context.Context, f domain.CompletionFailure) {
	code := domain.ErrorCodeOf(f.Err)
	n.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.provider", f.Provider),
		attribute.String("llm.model", f.ModelID),
		attribute.String("error.code", string(code)),
	))
	if f.Usage != nil {
		attrs := metric.WithAttributes(
			attribute.String("llm.provider", f.Provider),
			attribute.String("llm.model", f.ModelID),
			attribute.Bool("completion.streaming", f.Streaming),
		)
		n.promptTokens.Add(ctx, int64(f.Usage.PromptTokens), attrs)
		n.completionTokens.Add(ctx, int64(f.Usage.CompletionTokens), attrs)
		n.totalTokens.Add(ctx, int64(f.Usage.TotalTokens), attrs)
	}

	errText := ""
	if f.Err != nil {
		errText = f.Err.Error()
	}
	n.logger.WarnContext(ctx, "completion failed",
		"provider", f.Provider,
		"model", f.ModelID,
		"response_id", f.ResponseID,
		"request_index", f.RequestIndex,
		"code", string(code),
		"error", errText,
	)

	if n.bus != nil {
		n.bus.Publish(ctx, domain.NewEvent(ctx, domain.EventCompletionFailed, FailurePayload{
			Provider:     f.Provider,
			ModelID:      f.ModelID,
			ResponseID:   f.ResponseID,
			RequestIndex: f.RequestIndex,
			Streaming:    f.Streaming,
			Usage:        f.Usage,
			Code:         string(code),
			Error:        errText,
		}))
	}
}
