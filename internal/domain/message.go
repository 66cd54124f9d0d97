package domain

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

// Role constants for message roles.
const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleDeveloper, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Metadata keys used on Message.Metadata.
const (
	MetadataToolCallID = "tool_call_id"
	MetadataResponseID = "response_id"
)

// Message represents a single turn in a conversation.
//
// A message normally carries either Content or Items. Assistant messages
// produced by the model may carry both: the text reply in Content and the
// requested function calls in Items.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content,omitempty"`
	Items      []Item            `json:"-"`
	AuthorName string            `json:"author_name,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ModelID    string            `json:"model_id,omitempty"`
	Completion *CompletionInfo   `json:"completion,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// CompletionInfo holds the provider response fields attached to a model-produced message.
type CompletionInfo struct {
	ResponseID        string    `json:"response_id,omitempty"`
	ChoiceIndex       int       `json:"choice_index"`
	FinishReason      string    `json:"finish_reason,omitempty"`
	SystemFingerprint string    `json:"system_fingerprint,omitempty"`
	Created           time.Time `json:"created"`
	Usage             *Usage    `json:"usage,omitempty"`
}

// NewTextMessage creates a message with plain text content.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: text, Timestamp: time.Now()}
}

// Text returns the scalar content, or the concatenated text items when Content is empty.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var sb strings.Builder
	for _, it := range m.Items {
		if t, ok := it.(TextItem); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// FunctionCalls returns the function-call items of the message in order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, it := range m.Items {
		if fc, ok := it.(FunctionCall); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

// FunctionResults returns the function-result items of the message in order.
func (m Message) FunctionResults() []FunctionResult {
	var results []FunctionResult
	for _, it := range m.Items {
		if fr, ok := it.(FunctionResult); ok {
			results = append(results, fr)
		}
	}
	return results
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}
