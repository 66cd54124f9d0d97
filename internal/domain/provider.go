package domain

import (
	"context"
	"encoding/json"
	"time"
)

// ToolTypeFunction is the only tool type the completion loop can invoke.
const ToolTypeFunction = "function"

// ToolDefinition describes a tool for the LLM function-calling protocol.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict,omitempty"`
}

// ToolChoice is the tool_choice request field: a mode or a forced function name.
type ToolChoice struct {
	Mode     FunctionChoice `json:"mode"`
	Function string         `json:"function,omitempty"`
}

// ContentPart is one part of a multi-modal wire message.
type ContentPart struct {
	Type     string `json:"type"` // text, image_url, input_audio, file
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// ToolCall is a complete wire-level tool call.
type ToolCall struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// WireMessage is one message as sent to the provider.
type WireMessage struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	Name       string        `json:"name,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ChatRequest is the provider-neutral request payload.
type ChatRequest struct {
	Model             string           `json:"model"`
	Messages          []WireMessage    `json:"messages"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolChoice        *ToolChoice      `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool            `json:"parallel_tool_calls,omitempty"`
	MaxTokens         *int             `json:"max_tokens,omitempty"`
	Temperature       *float64         `json:"temperature,omitempty"`
	TopP              *float64         `json:"top_p,omitempty"`
	PresencePenalty   *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty  *float64         `json:"frequency_penalty,omitempty"`
	Stop              []string         `json:"stop,omitempty"`
	Seed              *int64           `json:"seed,omitempty"`
	N                 int              `json:"n,omitempty"`
	User              string           `json:"user,omitempty"`
	Logprobs          bool             `json:"logprobs,omitempty"`
	TopLogprobs       *int             `json:"top_logprobs,omitempty"`
	ResponseFormat    *ResponseFormat  `json:"response_format,omitempty"`
	Stream            bool             `json:"stream,omitempty"`
}

// Choice is one candidate completion in a buffered response.
type Choice struct {
	Index        int         `json:"index"`
	Message      WireMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ChatResponse is the provider-neutral buffered response.
type ChatResponse struct {
	ID                string    `json:"id"`
	Model             string    `json:"model"`
	Created           time.Time `json:"created"`
	Choices           []Choice  `json:"choices"`
	Usage             Usage     `json:"usage"`
	SystemFingerprint string    `json:"system_fingerprint,omitempty"`
}

// ToolCallDelta is a fragment of a streamed tool call. Any field may be empty;
// fragments sharing an Index belong to the same call.
type ToolCallDelta struct {
	Index             int    `json:"index"`
	ID                string `json:"id,omitempty"`
	Type              string `json:"type,omitempty"`
	Name              string `json:"name,omitempty"`
	ArgumentsFragment string `json:"arguments,omitempty"`
}

// StreamDelta is a single incremental chunk from a streaming LLM response.
// A delta with Err set is the last one on the channel.
type StreamDelta struct {
	ResponseID   string          `json:"response_id,omitempty"`
	Model        string          `json:"model,omitempty"`
	ChoiceIndex  int             `json:"choice_index"`
	Role         Role            `json:"role,omitempty"`
	AuthorName   string          `json:"author_name,omitempty"`
	Content      string          `json:"content,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	Err          error           `json:"-"`
}

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "bedrock").
	Name() string
}

// StreamingLLMProvider extends LLMProvider with streaming support.
type StreamingLLMProvider interface {
	LLMProvider
	// ChatStream sends a request and returns a channel of incremental deltas.
	// The channel is closed when the stream ends or ctx is cancelled.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}

// StreamingReporter is implemented by wrappers that have a ChatStream method
// but can only stream when what they wrap can.
type StreamingReporter interface {
	SupportsStreaming() bool
}

// AsStreaming returns p as a StreamingLLMProvider if it can actually stream.
func AsStreaming(p LLMProvider) (StreamingLLMProvider, bool) {
	sp, ok := p.(StreamingLLMProvider)
	if !ok {
		return nil, false
	}
	if r, ok := p.(StreamingReporter); ok && !r.SupportsStreaming() {
		return nil, false
	}
	return sp, true
}
