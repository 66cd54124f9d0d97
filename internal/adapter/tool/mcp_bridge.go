package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// mcpCallTimeout is the default per-call timeout for MCP tool execution.
const mcpCallTimeout = 30 * time.Second

// mcpPluginPrefix prefixes the plugin name of every MCP server.
const mcpPluginPrefix = "mcp_"

// MCPBridge connects to MCP servers and exposes each server's tools as one
// plugin of a Registry.
type MCPBridge struct {
	mu      sync.Mutex
	servers []mcpServerConn
	logger  *slog.Logger
}

type mcpServerConn struct {
	name   string
	client mcpClient
}

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// NewMCPBridge connects to every configured MCP server.
func NewMCPBridge(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{logger: logger}
	if b.logger == nil {
		b.logger = slog.Default()
	}

	for _, srv := range servers {
		conn, err := b.connectServer(ctx, srv)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		b.servers = append(b.servers, *conn)
	}
	return b, nil
}

// newMCPBridgeWithClients creates an MCPBridge with pre-built clients (for testing).
func newMCPBridgeWithClients(servers []mcpServerConn, logger *slog.Logger) *MCPBridge {
	return &MCPBridge{servers: servers, logger: logger}
}

func (b *MCPBridge) connectServer(ctx context.Context, srv config.MCPServer) (*mcpServerConn, error) {
	var c mcpClient

	switch srv.Transport {
	case "stdio":
		stdio, err := mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
		c = stdio
	case "http":
		t, err := transport.NewStreamableHTTP(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		httpClient := mcpclient.NewClient(t)
		if err := httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = httpClient
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "chatcore",
		Version: "1.0.0",
	}

	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err := ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, domain.WrapOp("initialize", err)
		}
	}

	b.logger.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
	return &mcpServerConn{name: srv.Name, client: c}, nil
}

// PluginName returns the registry plugin name of an MCP server.
func PluginName(server string) string {
	return mcpPluginPrefix + sanitizeName(server)
}

// Sync discovers every server's tools and (re)registers them in reg, one
// plugin per server. Servers that fail discovery are skipped and their
// previous functions removed; Sync fails only when every server fails.
func (b *MCPBridge) Sync(ctx context.Context, reg *Registry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, srv := range b.servers {
		plugin := PluginName(srv.name)
		reg.RemovePlugin(plugin)

		result, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			b.logger.WarnContext(ctx, "mcp server discovery failed, skipping", "server", srv.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", srv.name, err))
			continue
		}

		fns := make([]domain.Function, 0, len(result.Tools))
		for _, t := range result.Tools {
			fns = append(fns, newMCPFunction(srv.name, srv.client, t, b.logger))
		}
		if err := reg.AddPlugin(plugin, fns...); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", srv.name, err))
			continue
		}
		b.logger.InfoContext(ctx, "mcp tools discovered", "server", srv.name, "plugin", plugin, "count", len(fns))
	}

	if len(errs) > 0 && len(errs) == len(b.servers) {
		return fmt.Errorf("all mcp servers failed discovery: %w", errors.Join(errs...))
	}
	return nil
}

// Close shuts down all MCP server connections.
func (b *MCPBridge) Close() {
	for _, srv := range b.servers {
		if err := srv.client.Close(); err != nil {
			b.logger.Warn("mcp server close error", "server", srv.name, "error", err)
		}
	}
}

// --- MCP function ---

// mcpFunction exposes a single MCP tool as a domain.Function.
type mcpFunction struct {
	serverName string
	client     mcpClient
	tool       mcp.Tool
	meta       domain.FunctionMetadata
	decodable  map[string]bool
	logger     *slog.Logger
}

func newMCPFunction(serverName string, client mcpClient, t mcp.Tool, logger *slog.Logger) *mcpFunction {
	desc := t.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool %q from server %q", t.Name, serverName)
	}
	params := json.RawMessage(`{"type":"object","properties":{}}`)
	if t.InputSchema.Properties != nil || t.InputSchema.Required != nil {
		if data, err := json.Marshal(t.InputSchema); err == nil {
			params = data
		}
	}

	return &mcpFunction{
		serverName: serverName,
		client:     client,
		tool:       t,
		meta: domain.FunctionMetadata{
			PluginName:  PluginName(serverName),
			Name:        sanitizeName(t.Name),
			Description: desc,
			Parameters:  params,
		},
		decodable: decodableProperties(params),
		logger:    logger,
	}
}

func (f *mcpFunction) Metadata() domain.FunctionMetadata { return f.meta }

// Invoke calls the MCP tool. Tool-reported errors fail with
// domain.ErrFunctionFailed carrying the tool's text.
func (f *mcpFunction) Invoke(ctx context.Context, args domain.Arguments) (any, error) {
	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = f.tool.Name
	callReq.Params.Arguments = normalizeArguments(args, f.decodable)

	f.logger.DebugContext(ctx, "mcp tool call", "server", f.serverName, "tool", f.tool.Name)

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := f.client.CallTool(callCtx, callReq)
	if err != nil {
		return nil, fmt.Errorf("mcp %s/%s: %w", f.serverName, f.tool.Name, err)
	}

	content := extractMCPContent(result)
	if result.IsError {
		return nil, fmt.Errorf("%w: %s", domain.ErrFunctionFailed, content)
	}
	return content, nil
}

// extractMCPContent converts MCP CallToolResult content to a string.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// --- Helpers ---

// sanitizeName replaces characters that aren't valid in function names.
// The plugin separator is replaced too.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// envSlice converts a map of env vars to KEY=VALUE slices.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
