package domain

// FunctionCallUpdate is a streamed tool-call fragment surfaced to the caller.
type FunctionCallUpdate struct {
	Index             int    `json:"index"`
	CallID            string `json:"call_id,omitempty"`
	Name              string `json:"name,omitempty"`
	ArgumentsFragment string `json:"arguments,omitempty"`
}

// StreamingMessage is one item of a streaming completion.
//
// Content carries text as it arrives. Calls carries tool-call fragments.
// Message is set on the synthesized final item when a filter terminates the
// loop, and on each item produced by a provider without streaming support.
// Err is set on the last item when the completion request failed.
type StreamingMessage struct {
	Role         Role                 `json:"role,omitempty"`
	AuthorName   string               `json:"author_name,omitempty"`
	Content      string               `json:"content,omitempty"`
	Calls        []FunctionCallUpdate `json:"calls,omitempty"`
	FinishReason string               `json:"finish_reason,omitempty"`
	ModelID      string               `json:"model_id,omitempty"`
	ResponseID   string               `json:"response_id,omitempty"`
	ChoiceIndex  int                  `json:"choice_index"`
	Usage        *Usage               `json:"usage,omitempty"`
	RequestIndex int                  `json:"request_index"`
	Message      *Message             `json:"-"`
	Err          error                `json:"-"`
}
