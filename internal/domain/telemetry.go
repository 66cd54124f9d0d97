package domain

import "context"

// UsageReport is emitted after every round.
type UsageReport struct {
	Provider     string `json:"provider"`
	ModelID      string `json:"model_id"`
	ResponseID   string `json:"response_id,omitempty"`
	RequestIndex int    `json:"request_index"`
	Streaming    bool   `json:"streaming"`
	Usage        Usage  `json:"usage"`
}

// CompletionFailure is emitted when a completion request fails.
type CompletionFailure struct {
	Provider     string `json:"provider"`
	ModelID      string `json:"model_id"`
	ResponseID   string `json:"response_id,omitempty"`
	RequestIndex int    `json:"request_index"`
	Streaming    bool   `json:"streaming"`
	Usage        *Usage `json:"usage,omitempty"`
	Err          error  `json:"-"`
}

// TelemetryNotifier receives usage and failure notifications from the completion loop.
// Implementations must not block.
type TelemetryNotifier interface {
	UsageReported(ctx context.Context, r UsageReport)
	CompletionFailed(ctx context.Context, f CompletionFailure)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) UsageReported(context.Context, UsageReport)         {}
func (NopNotifier) CompletionFailed(context.Context, CompletionFailure) {}
