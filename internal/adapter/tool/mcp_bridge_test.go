package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// mockMCPClient implements mcpClient for testing.
type mockMCPClient struct {
	tools    []mcp.Tool
	callFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	closed   bool
	listErr  error
}

func (m *mockMCPClient) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &mcp.ListToolsResult{Tools: m.tools}, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("called %s", req.Params.Name))},
	}, nil
}

func (m *mockMCPClient) Close() error {
	m.closed = true
	return nil
}

func mcpTestLogger() *slog.Logger { return slog.Default() }

func TestMCPBridgeSync(t *testing.T) {
	docs := &mockMCPClient{tools: []mcp.Tool{
		{Name: "search-docs", Description: "Search docs"},
		{Name: "fetch"},
	}}
	git := &mockMCPClient{tools: []mcp.Tool{{Name: "log"}}}
	bridge := newMCPBridgeWithClients([]mcpServerConn{{name: "docs", client: docs}, {name: "git.hub", client: git}}, mcpTestLogger())

	reg := NewRegistry(nil, false)
	if err := bridge.Sync(context.Background(), reg); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var names []string
	for _, m := range reg.Functions(context.Background()) {
		names = append(names, m.FullyQualifiedName())
	}
	want := []string{"mcp_docs-fetch", "mcp_docs-search_docs", "mcp_git_hub-log"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("functions = %v, want %v", names, want)
	}

	fn, err := reg.Function(context.Background(), "mcp_docs", "search_docs")
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	got, err := fn.Invoke(context.Background(), domain.Arguments{})
	if err != nil || got != "called search-docs" {
		t.Errorf("Invoke = %v, %v", got, err)
	}
}

func TestMCPBridgeSyncReplacesCatalogue(t *testing.T) {
	client := &mockMCPClient{tools: []mcp.Tool{{Name: "a"}, {Name: "b"}}}
	bridge := newMCPBridgeWithClients([]mcpServerConn{{name: "srv", client: client}}, mcpTestLogger())
	reg := NewRegistry(nil, false)

	if err := bridge.Sync(context.Background(), reg); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	client.tools = []mcp.Tool{{Name: "c"}}
	if err := bridge.Sync(context.Background(), reg); err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	fns := reg.Functions(context.Background())
	if len(fns) != 1 || fns[0].Name != "c" {
		t.Errorf("functions = %+v", fns)
	}
}

func TestMCPBridgePartialDiscoveryFailure(t *testing.T) {
	good := &mockMCPClient{tools: []mcp.Tool{{Name: "ok"}}}
	bad := &mockMCPClient{listErr: errors.New("connection refused")}
	bridge := newMCPBridgeWithClients([]mcpServerConn{{name: "good", client: good}, {name: "bad", client: bad}}, mcpTestLogger())

	reg := NewRegistry(nil, false)
	if err := bridge.Sync(context.Background(), reg); err != nil {
		t.Fatalf("partial failure should not fail Sync: %v", err)
	}
	if got := reg.Plugins(); len(got) != 1 || got[0] != "mcp_good" {
		t.Errorf("plugins = %v", got)
	}
}

func TestMCPBridgeAllServersFailDiscovery(t *testing.T) {
	bridge := newMCPBridgeWithClients([]mcpServerConn{
		{name: "a", client: &mockMCPClient{listErr: errors.New("down")}},
		{name: "b", client: &mockMCPClient{listErr: errors.New("down")}},
	}, mcpTestLogger())

	err := bridge.Sync(context.Background(), NewRegistry(nil, false))
	if err == nil {
		t.Fatal("expected error when all servers fail")
	}
}

func TestMCPBridgeClose(t *testing.T) {
	c1, c2 := &mockMCPClient{}, &mockMCPClient{}
	bridge := newMCPBridgeWithClients([]mcpServerConn{{name: "a", client: c1}, {name: "b", client: c2}}, mcpTestLogger())
	bridge.Close()
	if !c1.closed || !c2.closed {
		t.Error("all clients should be closed")
	}
}

func TestNewMCPBridgeUnsupportedTransport(t *testing.T) {
	_, err := NewMCPBridge(context.Background(), []config.MCPServer{{Name: "x", Transport: "carrier-pigeon"}}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported transport")
	}
}

func TestMCPFunctionMetadata(t *testing.T) {
	tool := mcp.Tool{Name: "query"}
	tool.InputSchema.Type = "object"
	tool.InputSchema.Properties = map[string]any{"limit": map[string]any{"type": "integer"}}
	tool.InputSchema.Required = []string{"limit"}

	fn := newMCPFunction("db", &mockMCPClient{}, tool, mcpTestLogger())
	meta := fn.Metadata()
	if meta.PluginName != "mcp_db" || meta.Name != "query" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Description != `MCP tool "query" from server "db"` {
		t.Errorf("Description = %q", meta.Description)
	}
	if !fn.decodable["limit"] {
		t.Error("integer property should be decodable")
	}

	empty := newMCPFunction("db", &mockMCPClient{}, mcp.Tool{Name: "ping"}, mcpTestLogger())
	if string(empty.Metadata().Parameters) != `{"type":"object","properties":{}}` {
		t.Errorf("Parameters = %s", empty.Metadata().Parameters)
	}
}

func TestMCPFunctionInvoke(t *testing.T) {
	var gotArgs any
	client := &mockMCPClient{
		callFunc: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("expected context with deadline (timeout)")
			}
			gotArgs = req.Params.Arguments
			return &mcp.CallToolResult{Content: []mcp.Content{
				mcp.NewTextContent("line 1"),
				mcp.NewTextContent("line 2"),
			}}, nil
		},
	}
	tool := mcp.Tool{Name: "query"}
	tool.InputSchema.Properties = map[string]any{"limit": map[string]any{"type": "integer"}, "q": map[string]any{"type": "string"}}
	fn := newMCPFunction("db", client, tool, mcpTestLogger())

	got, err := fn.Invoke(context.Background(), domain.Arguments{"limit": "5", "q": "7"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "line 1\nline 2" {
		t.Errorf("result = %q", got)
	}
	args := gotArgs.(map[string]any)
	if args["limit"] != float64(5) || args["q"] != "7" {
		t.Errorf("arguments = %#v", args)
	}
}

func TestMCPFunctionInvokeErrors(t *testing.T) {
	failing := newMCPFunction("s", &mockMCPClient{
		callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, errors.New("broken pipe")
		},
	}, mcp.Tool{Name: "t"}, mcpTestLogger())
	if _, err := failing.Invoke(context.Background(), nil); err == nil {
		t.Error("transport error should fail the invocation")
	}

	toolErr := newMCPFunction("s", &mockMCPClient{
		callFunc: func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.NewTextContent("no such row")}}, nil
		},
	}, mcp.Tool{Name: "t"}, mcpTestLogger())
	_, err := toolErr.Invoke(context.Background(), nil)
	if !errors.Is(err, domain.ErrFunctionFailed) {
		t.Errorf("err = %v, want ErrFunctionFailed", err)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", "simple"},
		{"with-dash", "with_dash"},
		{"with.dot", "with_dot"},
		{"with spaces", "with_spaces"},
		{"CamelCase", "CamelCase"},
		{"special!@#$%", "special_____"},
	}

	for _, tt := range tests {
		if got := sanitizeName(tt.input); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEnvSlice(t *testing.T) {
	if result := envSlice(nil); result != nil {
		t.Errorf("envSlice(nil) = %v, want nil", result)
	}

	result := envSlice(map[string]string{"KEY1": "val1", "KEY2": "val2"})
	found := make(map[string]bool)
	for _, v := range result {
		found[v] = true
	}
	if len(result) != 2 || !found["KEY1=val1"] || !found["KEY2=val2"] {
		t.Errorf("envSlice = %v", result)
	}
}

func TestExtractMCPContentEmpty(t *testing.T) {
	if content := extractMCPContent(&mcp.CallToolResult{}); content != "" {
		t.Errorf("expected empty content, got %q", content)
	}
}
