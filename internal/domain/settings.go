package domain

import "encoding/json"

// Bounds for ExecutionSettings.ResultsPerPrompt.
const (
	MinResultsPerPrompt = 1
	MaxResultsPerPrompt = 128
)

// ResponseFormatType selects the shape of the model's reply.
type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat constrains the model's reply.
type ResponseFormat struct {
	Type   ResponseFormatType `json:"type"`
	Name   string             `json:"name,omitempty"`
	Schema json.RawMessage    `json:"schema,omitempty"`
	Strict bool               `json:"strict,omitempty"`
}

// ExecutionSettings are the per-call knobs for a chat completion.
// Pointer fields are optional; nil means "provider default".
type ExecutionSettings struct {
	ModelID          string
	MaxTokens        *int
	Temperature      *float64
	TopP             *float64
	PresencePenalty  *float64
	FrequencyPenalty *float64
	StopSequences    []string
	Seed             *int64
	User             string
	Logprobs         bool
	TopLogprobs      *int
	// ResultsPerPrompt is the number of candidate completions; 0 means 1.
	ResultsPerPrompt int
	ResponseFormat   *ResponseFormat

	// ChatSystemPrompt is prepended as a system message unless the history already has one.
	ChatSystemPrompt string
	// ChatDeveloperPrompt is prepended as a developer message unless the history already has one.
	ChatDeveloperPrompt string

	// At most one of the two tool behaviors may be set.
	ToolCallBehavior       *ToolCallBehavior
	FunctionChoiceBehavior *FunctionChoiceBehavior
}

// Candidates returns the effective number of results per prompt.
func (s *ExecutionSettings) Candidates() int {
	if s == nil || s.ResultsPerPrompt == 0 {
		return 1
	}
	return s.ResultsPerPrompt
}
