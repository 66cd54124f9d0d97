package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"chatcore/internal/adapter/tool"
	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
	"chatcore/internal/usecase/completion"
)

func TestParseFlags(t *testing.T) {
	f := parseFlags([]string{"--config", "/etc/chat.yaml", "--model=gpt-4o", "--stream", "what", "is", "2+2?"})
	if f.ConfigPath != "/etc/chat.yaml" || f.Model != "gpt-4o" || !f.Stream || f.NoTools {
		t.Errorf("flags = %+v", f)
	}
	if f.Prompt != "what is 2+2?" {
		t.Errorf("Prompt = %q", f.Prompt)
	}

	def := parseFlags(nil)
	if def.ConfigPath != "config.yaml" || def.Prompt != "" {
		t.Errorf("defaults = %+v", def)
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt("  hi  ", strings.NewReader("ignored"))
	if err != nil || got != "hi" {
		t.Errorf("args prompt = %q, %v", got, err)
	}

	got, err = readPrompt("", strings.NewReader("from stdin\n"))
	if err != nil || got != "from stdin" {
		t.Errorf("stdin prompt = %q, %v", got, err)
	}

	if _, err := readPrompt("", strings.NewReader("  \n")); err == nil {
		t.Error("empty prompt should fail")
	}
}

func TestPromptApprover(t *testing.T) {
	var out bytes.Buffer
	approve := promptApprover(strings.NewReader("y\nno\n"), &out)
	ic := &domain.InvocationContext{Call: domain.FunctionCall{PluginName: "math", FunctionName: "add", RawArguments: `{"a":1}`}}

	ok, err := approve(context.Background(), ic)
	if err != nil || !ok {
		t.Errorf("first answer = %v, %v", ok, err)
	}
	ok, err = approve(context.Background(), ic)
	if err != nil || ok {
		t.Errorf("second answer = %v, %v", ok, err)
	}
	ok, err = approve(context.Background(), ic)
	if err != nil || ok {
		t.Errorf("EOF should deny: %v, %v", ok, err)
	}
	if !strings.Contains(out.String(), `Allow math-add({"a":1})? [y/N]`) {
		t.Errorf("prompt = %q", out.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := approve(ctx, ic); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx err = %v", err)
	}
}

func TestExecutionSettings(t *testing.T) {
	reg := tool.NewRegistry(slog.Default(), false)
	if err := tool.RegisterBuiltins(reg, []string{tool.PluginMath}); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	cfg := config.Defaults().Completion
	cfg.MaxTokens = 256
	s, err := executionSettings(ctx, cfg, reg)
	if err != nil {
		t.Fatalf("executionSettings: %v", err)
	}
	if s.MaxTokens == nil || *s.MaxTokens != 256 || s.ChatSystemPrompt != cfg.SystemPrompt {
		t.Errorf("settings = %+v", s)
	}
	fcb := s.FunctionChoiceBehavior
	if fcb == nil || fcb.Choice != domain.FunctionChoiceAuto || !fcb.AutoInvoke || s.ToolCallBehavior != nil {
		t.Fatalf("behavior = %+v", fcb)
	}

	cfg.ToolBehavior = config.ToolBehaviorNone
	if s, _ := executionSettings(ctx, cfg, reg); s.FunctionChoiceBehavior != nil || s.ToolCallBehavior != nil {
		t.Error("none should set no behavior")
	}

	cfg.ToolBehavior = config.ToolBehaviorLegacyAuto
	s, err = executionSettings(ctx, cfg, reg)
	if err != nil {
		t.Fatal(err)
	}
	if b := s.ToolCallBehavior; b == nil || b.Mode != domain.ToolCallAutoInvokeKernelFunctions || b.MaxAutoInvokeAttempts != cfg.MaxAutoInvokeAttempts {
		t.Errorf("legacy auto = %+v", b)
	}

	cfg.ToolBehavior = config.ToolBehaviorLegacyEnable
	cfg.Functions = []string{"math-add"}
	s, err = executionSettings(ctx, cfg, reg)
	if err != nil {
		t.Fatal(err)
	}
	if b := s.ToolCallBehavior; b == nil || b.Mode != domain.ToolCallEnableFunctions || b.MaxAutoInvokeAttempts != 0 || len(b.Functions) != 1 || b.Functions[0].PluginName != "math" {
		t.Errorf("legacy enable = %+v", b)
	}

	cfg.Functions = []string{"math-sqrt"}
	if _, err := executionSettings(ctx, cfg, reg); !errors.Is(err, domain.ErrFunctionNotFound) {
		t.Errorf("unknown function err = %v", err)
	}

	cfg.ToolBehavior = "sometimes"
	if _, err := executionSettings(ctx, cfg, reg); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("unknown behavior err = %v", err)
	}
}

func TestCreateLLMProvider(t *testing.T) {
	p, err := createLLMProvider(config.ProviderConfig{Name: "primary", Type: "openai", APIKey: "k"}, slog.Default())
	if err != nil || p.Name() != "primary" {
		t.Fatalf("openai = %v, %v", p, err)
	}
	if _, ok := p.(domain.StreamingLLMProvider); !ok {
		t.Error("openai provider should stream")
	}

	if _, err := createLLMProvider(config.ProviderConfig{Name: "x", Type: "carrier"}, slog.Default()); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("unknown type err = %v", err)
	}
}

func TestInitLLM(t *testing.T) {
	cfg := config.Defaults()
	cfg.LLM.DefaultProvider = "a"
	cfg.LLM.Providers = []config.ProviderConfig{{Name: "a", Type: "openai"}, {Name: "b", Type: "openai"}}
	cfg.LLM.CircuitBreaker.Enabled = true
	cfg.LLM.Failover = config.FailoverConfig{Enabled: true, Fallbacks: []string{"b"}}

	c, err := initLLM(cfg, slog.Default())
	if err != nil {
		t.Fatalf("initLLM: %v", err)
	}
	if c.DefaultLLM.Name() != "a" {
		t.Errorf("default = %q", c.DefaultLLM.Name())
	}
	if got := c.Registry.List(); len(got) != 2 {
		t.Errorf("registry = %v", got)
	}

	cfg.LLM.Failover.Fallbacks = []string{"missing"}
	if _, err := initLLM(cfg, slog.Default()); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Errorf("missing fallback err = %v", err)
	}
}

func TestInitFunctions(t *testing.T) {
	cfg := config.Defaults()
	cfg.Functions.RateLimitPerMinute = 10
	cfg.Functions.ApprovalRequired = []string{"time-now"}

	fc, err := initFunctions(context.Background(), cfg, tool.DenyAll, slog.Default())
	if err != nil {
		t.Fatalf("initFunctions: %v", err)
	}
	defer fc.Close()

	if got := fc.Registry.Plugins(); len(got) != 2 {
		t.Errorf("plugins = %v", got)
	}
	if len(fc.Filters) != 3 {
		t.Errorf("filters = %d, want 3", len(fc.Filters))
	}
}

// fakeLLM answers every request with a fixed reply.
type fakeLLM struct{ reply string }

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{
		ID:      "r1",
		Model:   "m",
		Choices: []domain.Choice{{Message: domain.WireMessage{Role: domain.RoleAssistant, Content: f.reply}, FinishReason: "stop"}},
	}, nil
}

func TestPrintAndStreamReply(t *testing.T) {
	svc := completion.NewService(completion.Deps{LLM: &fakeLLM{reply: "hello"}, DefaultModel: "m"})
	settings := &domain.ExecutionSettings{}

	var buf bytes.Buffer
	if err := printReply(context.Background(), svc, domain.NewChatHistory(domain.NewTextMessage(domain.RoleUser, "hi")), settings, &buf); err != nil {
		t.Fatalf("printReply: %v", err)
	}
	if buf.String() != "hello\n" {
		t.Errorf("buffered output = %q", buf.String())
	}

	buf.Reset()
	// The fake cannot stream, so the streaming API falls back to whole messages.
	if err := streamReply(context.Background(), svc, domain.NewChatHistory(domain.NewTextMessage(domain.RoleUser, "hi")), settings, &buf); err != nil {
		t.Fatalf("streamReply: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "hello\n") {
		t.Errorf("stream output = %q", buf.String())
	}
}

// stallingLLM streams one fragment and then waits for the caller to give up.
type stallingLLM struct{ fakeLLM }

func (s *stallingLLM) ChatStream(ctx context.Context, _ domain.ChatRequest) (<-chan domain.StreamDelta, error) {
	ch := make(chan domain.StreamDelta)
	go func() {
		defer close(ch)
		select {
		case ch <- domain.StreamDelta{ResponseID: "r1", Role: domain.RoleAssistant, Content: "par"}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func TestStreamReplyReportsCancellation(t *testing.T) {
	svc := completion.NewService(completion.Deps{LLM: &stallingLLM{}, DefaultModel: "m"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	err := streamReply(ctx, svc, domain.NewChatHistory(domain.NewTextMessage(domain.RoleUser, "hi")), &domain.ExecutionSettings{}, &buf)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("streamReply err = %v, want deadline exceeded", err)
	}
	if !strings.HasPrefix(buf.String(), "par") {
		t.Errorf("stream output = %q", buf.String())
	}
}
