package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventRoundStarted       EventType = "completion.round.started"
	EventRoundCompleted     EventType = "completion.round.completed"
	EventFunctionInvoking   EventType = "completion.function.invoking"
	EventFunctionInvoked    EventType = "completion.function.invoked"
	EventStreamDelta        EventType = "completion.stream.delta"
	EventUsageReported      EventType = "completion.usage"
	EventCompletionFailed   EventType = "completion.failed"
	EventLoopTerminated     EventType = "completion.terminated"
	EventAutoInvokeDisabled EventType = "completion.auto_invoke.disabled"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ChainID   string          `json:"chain_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// RoundPayload is the payload for EventRoundStarted and EventRoundCompleted.
type RoundPayload struct {
	RequestIndex  int    `json:"request_index"`
	Tools         int    `json:"tools"`
	AutoInvoke    bool   `json:"auto_invoke"`
	FunctionCalls int    `json:"function_calls,omitempty"`
	FinishReason  string `json:"finish_reason,omitempty"`
	Streaming     bool   `json:"streaming"`
}

// FunctionPayload is the payload for EventFunctionInvoking and EventFunctionInvoked.
type FunctionPayload struct {
	RequestIndex int    `json:"request_index"`
	CallID       string `json:"call_id"`
	Function     string `json:"function"`
	Error        string `json:"error,omitempty"`
	Terminate    bool   `json:"terminate,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
}

// StreamDeltaPayload is the payload for EventStreamDelta events.
type StreamDeltaPayload struct {
	RequestIndex int    `json:"request_index"`
	Content      string `json:"content,omitempty"`
	ToolCalls    int    `json:"tool_calls,omitempty"`
}

// NewEvent marshals payload into an Event stamped with the current time.
func NewEvent(ctx context.Context, t EventType, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), ChainID: ChainIDFromContext(ctx)}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}
