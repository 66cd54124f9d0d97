package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// Config holds integration test configuration from environment
type Config struct {
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	TestTimeout   time.Duration
	SkipSlow      bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	cfg := &Config{
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		TestTimeout:   60 * time.Second,
		SkipSlow:      os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	return cfg
}

// SkipIfNoAPIKey skips the test if the required API key is not set
func SkipIfNoAPIKey(t *testing.T, key, name string) {
	t.Helper()
	if key == "" {
		t.Skipf("Skipping %s integration test: %s_API_KEY not set", name, name)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// ScriptedReply is one canned chat-completions answer. Exactly one of
// JSON, Chunks or Status is used: Status > 0 replies with that HTTP error,
// Chunks replies as a server-sent event stream, JSON as a buffered body.
type ScriptedReply struct {
	JSON   string
	Chunks []string
	Status int
}

// ScriptedServer is an OpenAI-compatible /chat/completions endpoint that
// answers with its replies in order and records every request body.
type ScriptedServer struct {
	*httptest.Server

	mu       sync.Mutex
	replies  []ScriptedReply
	requests []map[string]any
}

// NewScriptedServer starts a server; it is closed when t finishes.
func NewScriptedServer(t *testing.T, replies ...ScriptedReply) *ScriptedServer {
	t.Helper()
	s := &ScriptedServer{replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *ScriptedServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var reply ScriptedReply
	if len(s.replies) > 0 {
		reply, s.replies = s.replies[0], s.replies[1:]
	} else {
		reply.Status = http.StatusGone
	}
	s.mu.Unlock()

	switch {
	case reply.Status > 0:
		http.Error(w, `{"error":{"message":"scripted failure"}}`, reply.Status)
	case reply.Chunks != nil:
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, c := range reply.Chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	default:
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, reply.JSON)
	}
}

// Requests returns the decoded request bodies received so far.
func (s *ScriptedServer) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.requests...)
}

// TextReply builds a buffered reply carrying assistant text.
func TextReply(id, text string, promptTokens, completionTokens int) ScriptedReply {
	content, _ := json.Marshal(text)
	return ScriptedReply{JSON: fmt.Sprintf(
		`{"id":%q,"model":"scripted","created":1700000000,"choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}],"usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`,
		id, content, promptTokens, completionTokens, promptTokens+completionTokens)}
}

// ToolCallReply builds a buffered reply asking for one function call.
func ToolCallReply(id, callID, name, args string) ScriptedReply {
	quoted, _ := json.Marshal(args)
	return ScriptedReply{JSON: fmt.Sprintf(
		`{"id":%q,"model":"scripted","choices":[{"index":0,"message":{"role":"assistant","tool_calls":[{"id":%q,"type":"function","function":{"name":%q,"arguments":%s}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`,
		id, callID, name, quoted)}
}

// StreamTextReply splits text into one content chunk per word.
func StreamTextReply(id, text string) ScriptedReply {
	chunks := []string{fmt.Sprintf(`{"id":%q,"model":"scripted","choices":[{"index":0,"delta":{"role":"assistant"}}]}`, id)}
	for i, word := range strings.Fields(text) {
		if i > 0 {
			word = " " + word
		}
		content, _ := json.Marshal(word)
		chunks = append(chunks, fmt.Sprintf(`{"id":%q,"model":"scripted","choices":[{"index":0,"delta":{"content":%s}}]}`, id, content))
	}
	chunks = append(chunks,
		fmt.Sprintf(`{"id":%q,"model":"scripted","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`, id),
		fmt.Sprintf(`{"id":%q,"model":"scripted","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`, id),
	)
	return ScriptedReply{Chunks: chunks}
}

// StreamToolCallReply streams one function call with its arguments split in two.
func StreamToolCallReply(id, callID, name, args string) ScriptedReply {
	half := len(args) / 2
	first, _ := json.Marshal(args[:half])
	second, _ := json.Marshal(args[half:])
	return ScriptedReply{Chunks: []string{
		fmt.Sprintf(`{"id":%q,"model":"scripted","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":%q,"type":"function","function":{"name":%q,"arguments":%s}}]}}]}`, id, callID, name, first),
		fmt.Sprintf(`{"id":%q,"model":"scripted","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":%s}}]}}]}`, id, second),
		fmt.Sprintf(`{"id":%q,"model":"scripted","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`, id),
	}}
}
