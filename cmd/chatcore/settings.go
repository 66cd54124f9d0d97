package main

import (
	"context"
	"fmt"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// executionSettings maps the completion config section onto the loop's
// per-call settings. Legacy behaviors that name functions resolve them
// through functions.
func executionSettings(ctx context.Context, cfg config.CompletionConfig, functions domain.FunctionProvider) (*domain.ExecutionSettings, error) {
	s := &domain.ExecutionSettings{
		ModelID:          cfg.Model,
		Temperature:      cfg.Temperature,
		ResultsPerPrompt: cfg.ResultsPerPrompt,
		ChatSystemPrompt: cfg.SystemPrompt,

		ChatDeveloperPrompt: cfg.DeveloperPrompt,
	}
	if cfg.MaxTokens > 0 {
		s.MaxTokens = new(cfg.MaxTokens)
	}

	switch cfg.ToolBehavior {
	case config.ToolBehaviorNone, "":
	case config.ToolBehaviorAuto, config.ToolBehaviorRequired:
		choice := domain.FunctionChoiceAuto
		if cfg.ToolBehavior == config.ToolBehaviorRequired {
			choice = domain.FunctionChoiceRequired
		}
		s.FunctionChoiceBehavior = &domain.FunctionChoiceBehavior{
			Choice:                choice,
			Functions:             cfg.Functions,
			AutoInvoke:            cfg.AutoInvoke,
			MaxAutoInvokeAttempts: cfg.MaxAutoInvokeAttempts,
			MaxUseAttempts:        cfg.MaxUseAttempts,
			Options: domain.FunctionChoiceOptions{
				AllowParallelCalls:         cfg.AllowParallelCalls,
				AllowStrictSchemaAdherence: cfg.StrictSchemas,
				RetainArgumentTypes:        cfg.RetainArgumentTypes,
			},
		}
	case config.ToolBehaviorLegacyAuto, config.ToolBehaviorLegacyEnable:
		b, err := legacyBehavior(ctx, cfg, functions)
		if err != nil {
			return nil, err
		}
		s.ToolCallBehavior = b
	default:
		return nil, domain.NewDomainError("main.executionSettings", domain.ErrInvalidConfiguration,
			fmt.Sprintf("unknown tool behavior %q", cfg.ToolBehavior))
	}
	return s, nil
}

func legacyBehavior(ctx context.Context, cfg config.CompletionConfig, functions domain.FunctionProvider) (*domain.ToolCallBehavior, error) {
	autoInvoke := cfg.ToolBehavior == config.ToolBehaviorLegacyAuto && cfg.AutoInvoke

	var b *domain.ToolCallBehavior
	if len(cfg.Functions) == 0 {
		b = domain.EnableKernelFunctions()
		if autoInvoke {
			b = domain.AutoInvokeKernelFunctions()
		}
	} else {
		metas := make([]domain.FunctionMetadata, 0, len(cfg.Functions))
		for _, fqn := range cfg.Functions {
			plugin, name := domain.ParseFullyQualifiedName(fqn)
			fn, err := functions.Function(ctx, plugin, name)
			if err != nil {
				return nil, fmt.Errorf("completion.functions: %w", err)
			}
			metas = append(metas, fn.Metadata())
		}
		b = domain.EnableFunctions(metas, autoInvoke)
	}

	if autoInvoke && cfg.MaxAutoInvokeAttempts > 0 {
		b.MaxAutoInvokeAttempts = cfg.MaxAutoInvokeAttempts
	}
	b.MaxUseAttempts = cfg.MaxUseAttempts
	return b, nil
}
