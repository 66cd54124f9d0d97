package completion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chatcore/internal/domain"
)

// --- Mocks ---

type mockLLM struct {
	mu        sync.Mutex
	responses []domain.ChatResponse
	callIdx   int
	requests  []domain.ChatRequest
	err       error
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.callIdx >= len(m.responses) {
		return new(textResponse("fallback", "fallback")), nil
	}
	idx := m.callIdx
	m.callIdx++
	return new(m.responses[idx]), nil
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChatRequest(nil), m.requests...)
}

// mockStreamingLLM implements domain.StreamingLLMProvider with controlled deltas.
type mockStreamingLLM struct {
	mockLLM
	streams   [][]domain.StreamDelta // one slice of deltas per ChatStream call
	streamIdx int
	streamErr error
}

func (m *mockStreamingLLM) Name() string { return "mock-streaming" }

func (m *mockStreamingLLM) ChatStream(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	var deltas []domain.StreamDelta
	if m.streamIdx < len(m.streams) {
		deltas = m.streams[m.streamIdx]
		m.streamIdx++
	} else {
		deltas = []domain.StreamDelta{{Content: "fallback", FinishReason: "stop"}}
	}

	ch := make(chan domain.StreamDelta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

// bufferedOnlyWrapper mimics a resilience wrapper that has a ChatStream
// method but reports that what it wraps cannot stream.
type bufferedOnlyWrapper struct {
	*mockLLM
	streamCalls int
}

func (w *bufferedOnlyWrapper) ChatStream(context.Context, domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	w.streamCalls++
	return nil, fmt.Errorf("provider %q does not support streaming", w.Name())
}

func (w *bufferedOnlyWrapper) SupportsStreaming() bool { return false }

type fakeFunction struct {
	meta domain.FunctionMetadata
	fn   func(ctx context.Context, args domain.Arguments) (any, error)

	mu    sync.Mutex
	calls []domain.Arguments
}

func newFakeFunction(plugin, name string, fn func(ctx context.Context, args domain.Arguments) (any, error)) *fakeFunction {
	return &fakeFunction{
		meta: domain.FunctionMetadata{PluginName: plugin, Name: name, Description: name + " test function"},
		fn:   fn,
	}
}

func (f *fakeFunction) Metadata() domain.FunctionMetadata { return f.meta }

func (f *fakeFunction) Invoke(ctx context.Context, args domain.Arguments) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	return f.fn(ctx, args)
}

func (f *fakeFunction) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProvider struct {
	mu  sync.Mutex
	fns map[string]*fakeFunction
}

func newFakeProvider(fns ...*fakeFunction) *fakeProvider {
	p := &fakeProvider{fns: make(map[string]*fakeFunction)}
	for _, f := range fns {
		p.add(f)
	}
	return p
}

func (p *fakeProvider) add(f *fakeFunction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fns[f.meta.FullyQualifiedName()] = f
}

func (p *fakeProvider) Functions(context.Context) []domain.FunctionMetadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.FunctionMetadata, 0, len(p.fns))
	for _, f := range p.fns {
		out = append(out, f.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullyQualifiedName() < out[j].FullyQualifiedName() })
	return out
}

func (p *fakeProvider) Function(_ context.Context, plugin, name string) (domain.Function, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.fns[domain.FullyQualifiedName(plugin, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFunctionNotFound, domain.FullyQualifiedName(plugin, name))
	}
	return f, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	usage    []domain.UsageReport
	failures []domain.CompletionFailure
}

func (n *recordingNotifier) UsageReported(_ context.Context, r domain.UsageReport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.usage = append(n.usage, r)
}

func (n *recordingNotifier) CompletionFailed(_ context.Context, f domain.CompletionFailure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                  {}

func (b *recordingBus) count(t domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.Default()
}

func textResponse(id, text string) domain.ChatResponse {
	return domain.ChatResponse{
		ID:    id,
		Model: "test-model",
		Choices: []domain.Choice{{
			Message:      domain.WireMessage{Role: domain.RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
		Usage: domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func callResponse(id string, calls ...domain.ToolCall) domain.ChatResponse {
	for i := range calls {
		calls[i].Index = i
		if calls[i].Type == "" {
			calls[i].Type = domain.ToolTypeFunction
		}
	}
	return domain.ChatResponse{
		ID:    id,
		Model: "test-model",
		Choices: []domain.Choice{{
			Message:      domain.WireMessage{Role: domain.RoleAssistant, ToolCalls: calls},
			FinishReason: "tool_calls",
		}},
		Usage: domain.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
	}
}

func addFunction() *fakeFunction {
	return newFakeFunction("math", "add", func(_ context.Context, args domain.Arguments) (any, error) {
		var a, b int
		if _, err := fmt.Sscan(fmt.Sprint(args["a"]), &a); err != nil {
			return nil, fmt.Errorf("bad a: %w", err)
		}
		if _, err := fmt.Sscan(fmt.Sprint(args["b"]), &b); err != nil {
			return nil, fmt.Errorf("bad b: %w", err)
		}
		return a + b, nil
	})
}

func newTestService(llm domain.LLMProvider, fns domain.FunctionProvider, opts ...func(*Deps)) *Service {
	deps := Deps{
		LLM:          llm,
		Functions:    fns,
		Logger:       newTestLogger(),
		DefaultModel: "test-model",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return NewService(deps)
}

// toolResults returns every function result recorded in history, in order.
func toolResults(h *domain.ChatHistory) []domain.FunctionResult {
	var out []domain.FunctionResult
	for _, m := range h.Messages() {
		if m.Role == domain.RoleTool {
			out = append(out, m.FunctionResults()...)
		}
	}
	return out
}

// drain collects every item of a streaming completion.
func drain(ch <-chan domain.StreamingMessage) []domain.StreamingMessage {
	var out []domain.StreamingMessage
	for m := range ch {
		out = append(out, m)
	}
	return out
}
