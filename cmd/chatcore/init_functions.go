package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"chatcore/internal/adapter/tool"
	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// FunctionComponents holds the function registry and the invocation filters.
type FunctionComponents struct {
	Registry *tool.Registry
	Filters  []domain.InvocationFilter
	mcp      *tool.MCPBridge
}

// Close releases MCP server connections.
func (c *FunctionComponents) Close() {
	if c.mcp != nil {
		c.mcp.Close()
	}
}

// initFunctions registers builtin and MCP functions and builds the filter chain.
func initFunctions(ctx context.Context, cfg *config.Config, approve tool.ApproveFunc, log *slog.Logger) (*FunctionComponents, error) {
	fc := &FunctionComponents{Registry: tool.NewRegistry(log, cfg.Functions.ValidateArguments)}

	if err := tool.RegisterBuiltins(fc.Registry, cfg.Functions.Builtins); err != nil {
		return nil, fmt.Errorf("builtin functions: %w", err)
	}

	if cfg.Functions.MCPEnabled && len(cfg.Functions.MCPServers) > 0 {
		bridge, err := tool.NewMCPBridge(ctx, cfg.Functions.MCPServers, log)
		if err != nil {
			return nil, fmt.Errorf("mcp: %w", err)
		}
		fc.mcp = bridge
		if err := bridge.Sync(ctx, fc.Registry); err != nil {
			fc.Close()
			return nil, fmt.Errorf("mcp: %w", err)
		}
	}

	if cfg.Functions.LogInvocations {
		fc.Filters = append(fc.Filters, tool.NewLoggingFilter(log))
	}
	if n := cfg.Functions.RateLimitPerMinute; n > 0 {
		fc.Filters = append(fc.Filters, tool.NewRateLimitFilter(n))
	}
	if len(cfg.Functions.ApprovalRequired) > 0 {
		fc.Filters = append(fc.Filters,
			tool.NewApprovalFilter(cfg.Functions.ApprovalRequired, cfg.Functions.ApprovalTerminate, approve))
	}

	log.Info("functions registered",
		"plugins", fc.Registry.Plugins(),
		"count", len(fc.Registry.Functions(ctx)),
		"filters", len(fc.Filters),
	)
	return fc, nil
}

// promptApprover asks on out and reads a y/n answer from in.
// Concurrent invocations are serialized so prompts do not interleave.
func promptApprover(in io.Reader, out io.Writer) tool.ApproveFunc {
	var mu sync.Mutex
	scanner := bufio.NewScanner(in)
	return func(ctx context.Context, ic *domain.InvocationContext) (bool, error) {
		mu.Lock()
		defer mu.Unlock()

		if err := ctx.Err(); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Allow %s(%s)? [y/N] ", ic.Call.FullyQualifiedName(), ic.Call.RawArguments)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return false, fmt.Errorf("read approval: %w", err)
			}
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return answer == "y" || answer == "yes", nil
	}
}
