//go:build bedrock

package main

import (
	"log/slog"

	"chatcore/internal/adapter/llm"
	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	return llm.NewBedrockProvider(pc, log)
}
