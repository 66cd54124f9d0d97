package completion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"chatcore/internal/domain"
)

// NonInvocableTool is advertised in place of an empty tool list once the
// history holds function calls, because some providers reject a request that
// has tool messages but no tools. The model is never allowed to call it.
var NonInvocableTool = domain.ToolDefinition{
	Name:        "NonInvocableTool",
	Description: "A placeholder tool used when no real tools are available. It cannot be called.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
}

// ToolCallingConfig is the tool configuration of one round. It is recomputed
// every round and never outlives a completion call.
type ToolCallingConfig struct {
	Tools []domain.ToolDefinition
	// Choice is FunctionChoiceNone when no behavior is configured.
	Choice domain.FunctionChoice
	// RequiredFunction forces a call to one named function.
	RequiredFunction string
	AutoInvoke       bool
	// AllowAnyRequestedFunction lets calls to functions outside Tools reach the provider.
	AllowAnyRequestedFunction bool
	ParallelToolCalls         *bool
	RetainArgumentTypes       bool

	// Configured reports whether a tool behavior was set.
	Configured bool
	// RecursionLimited is set when auto-invoke was disabled by the in-flight ceiling.
	RecursionLimited bool
}

// ToolChoice returns the tool_choice to send, or nil when no tools are sent.
func (c ToolCallingConfig) ToolChoice() *domain.ToolChoice {
	if len(c.Tools) == 0 {
		return nil
	}
	if c.RequiredFunction != "" && c.Choice == domain.FunctionChoiceRequired {
		return &domain.ToolChoice{Mode: domain.FunctionChoiceRequired, Function: c.RequiredFunction}
	}
	return &domain.ToolChoice{Mode: c.Choice}
}

// HasTool reports whether a tool named fqn was advertised.
func (c ToolCallingConfig) HasTool(fqn string) bool {
	return lo.ContainsBy(c.Tools, func(t domain.ToolDefinition) bool {
		return t.Name == fqn && t.Name != NonInvocableTool.Name
	})
}

// ResolveToolConfig decides which tools to advertise for round requestIndex
// and whether their calls are executed automatically. functions may be nil.
func ResolveToolConfig(
	ctx context.Context,
	functions domain.FunctionProvider,
	settings *domain.ExecutionSettings,
	history *domain.ChatHistory,
	requestIndex int,
) (ToolCallingConfig, error) {
	const op = "completion.ResolveToolConfig"

	cfg := ToolCallingConfig{Choice: domain.FunctionChoiceNone}
	if settings == nil || (settings.ToolCallBehavior == nil && settings.FunctionChoiceBehavior == nil) {
		return cfg, nil
	}
	if settings.ToolCallBehavior != nil && settings.FunctionChoiceBehavior != nil {
		return cfg, domain.NewDomainError(op, domain.ErrConfigurationConflict, "")
	}
	cfg.Configured = true

	var (
		maxAutoInvoke int
		maxUse        int
		err           error
	)
	if b := settings.ToolCallBehavior; b != nil {
		maxAutoInvoke, maxUse = b.MaxAutoInvokeAttempts, b.UseAttempts()
		resolveLegacy(ctx, functions, b, &cfg)
	} else {
		b := settings.FunctionChoiceBehavior
		maxAutoInvoke, maxUse = b.AutoInvokeAttempts(), b.UseAttempts()
		if !b.AutoInvoke || b.Choice == domain.FunctionChoiceNone {
			maxAutoInvoke = 0
		}
		if err = resolveChoice(ctx, functions, b, &cfg); err != nil {
			return ToolCallingConfig{Choice: domain.FunctionChoiceNone}, domain.NewDomainError(op, domain.ErrInvalidConfiguration, err.Error())
		}
	}

	cfg.AutoInvoke = functions != nil && maxAutoInvoke > 0
	if cfg.AutoInvoke {
		if chain := chainFromContext(ctx); chain != nil && !chain.canAutoInvoke() {
			cfg.AutoInvoke = false
			cfg.RecursionLimited = true
		}
	}

	if requestIndex >= maxUse {
		cfg.Tools = nil
		cfg.Choice = domain.FunctionChoiceNone
		cfg.RequiredFunction = ""
		cfg.AutoInvoke = false
	} else if requestIndex >= maxAutoInvoke {
		cfg.AutoInvoke = false
	}

	if len(cfg.Tools) == 0 && history != nil && history.HasFunctionCalls() {
		cfg.Tools = []domain.ToolDefinition{NonInvocableTool}
		cfg.Choice = domain.FunctionChoiceNone
		cfg.RequiredFunction = ""
	}
	return cfg, nil
}

func resolveLegacy(ctx context.Context, functions domain.FunctionProvider, b *domain.ToolCallBehavior, cfg *ToolCallingConfig) {
	cfg.Choice = domain.FunctionChoiceAuto
	cfg.AllowAnyRequestedFunction = b.AllowAnyRequestedFunction()

	switch b.Mode {
	case domain.ToolCallEnableKernelFunctions, domain.ToolCallAutoInvokeKernelFunctions:
		if functions != nil {
			cfg.Tools = toolDefinitions(functions.Functions(ctx), false)
		}
	case domain.ToolCallRequireFunction:
		cfg.Tools = toolDefinitions(b.Functions, false)
		if len(cfg.Tools) > 0 {
			cfg.Choice = domain.FunctionChoiceRequired
			cfg.RequiredFunction = cfg.Tools[0].Name
		}
	default:
		cfg.Tools = toolDefinitions(b.Functions, false)
	}
}

func resolveChoice(ctx context.Context, functions domain.FunctionProvider, b *domain.FunctionChoiceBehavior, cfg *ToolCallingConfig) error {
	cfg.Choice = b.Choice
	if cfg.Choice == "" {
		cfg.Choice = domain.FunctionChoiceNone
	}
	cfg.ParallelToolCalls = b.Options.AllowParallelCalls
	cfg.RetainArgumentTypes = b.Options.RetainArgumentTypes

	var catalogue []domain.FunctionMetadata
	if functions != nil {
		catalogue = functions.Functions(ctx)
	}
	if b.Functions == nil {
		cfg.Tools = toolDefinitions(catalogue, b.Options.AllowStrictSchemaAdherence)
		return nil
	}

	// Names the provider cannot resolve are only an error when they would be invoked.
	autoInvoke := b.AutoInvoke && cfg.Choice != domain.FunctionChoiceNone
	byName := lo.KeyBy(catalogue, func(m domain.FunctionMetadata) string { return m.FullyQualifiedName() })
	selected := make([]domain.FunctionMetadata, 0, len(b.Functions))
	for _, fqn := range b.Functions {
		meta, ok := byName[fqn]
		if !ok {
			if !autoInvoke {
				continue
			}
			if functions == nil {
				return fmt.Errorf("function %s requires a function provider to auto-invoke", fqn)
			}
			return fmt.Errorf("function %s is not available", fqn)
		}
		selected = append(selected, meta)
	}
	cfg.Tools = toolDefinitions(selected, b.Options.AllowStrictSchemaAdherence)
	return nil
}

func toolDefinitions(fns []domain.FunctionMetadata, strict bool) []domain.ToolDefinition {
	if len(fns) == 0 {
		return nil
	}
	return lo.Map(fns, func(m domain.FunctionMetadata, _ int) domain.ToolDefinition {
		def := m.ToolDefinition()
		def.Strict = strict
		return def
	})
}
