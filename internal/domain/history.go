package domain

// ChatHistory is an ordered conversation log.
//
// ChatHistory is not safe for concurrent use. A single completion call owns
// the history for its duration and appends assistant and tool turns to it;
// callers sharing a history across goroutines must synchronize externally.
type ChatHistory struct {
	messages []Message
}

// NewChatHistory creates a history seeded with msgs.
func NewChatHistory(msgs ...Message) *ChatHistory {
	h := &ChatHistory{}
	h.messages = append(h.messages, msgs...)
	return h
}

// Add appends a message.
func (h *ChatHistory) Add(m Message) {
	h.messages = append(h.messages, m)
}

// AddUserMessage appends a user text turn.
func (h *ChatHistory) AddUserMessage(text string) {
	h.Add(NewTextMessage(RoleUser, text))
}

// AddSystemMessage appends a system text turn.
func (h *ChatHistory) AddSystemMessage(text string) {
	h.Add(NewTextMessage(RoleSystem, text))
}

// AddAssistantMessage appends an assistant text turn.
func (h *ChatHistory) AddAssistantMessage(text string) {
	h.Add(NewTextMessage(RoleAssistant, text))
}

// Messages returns a copy of the messages in chronological order.
func (h *ChatHistory) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *ChatHistory) Len() int { return len(h.messages) }

// At returns the message at index i.
func (h *ChatHistory) At(i int) Message { return h.messages[i] }

// Last returns the most recent message.
func (h *ChatHistory) Last() (Message, bool) {
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// HasRole reports whether any message has the given role.
func (h *ChatHistory) HasRole(role Role) bool {
	for _, m := range h.messages {
		if m.Role == role {
			return true
		}
	}
	return false
}

// HasFunctionCalls reports whether any message carries a function call.
func (h *ChatHistory) HasFunctionCalls() bool {
	for _, m := range h.messages {
		for _, it := range m.Items {
			if it.Kind() == ItemFunctionCall {
				return true
			}
		}
	}
	return false
}
