//go:build !bedrock

package main

import (
	"log/slog"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

func createBedrockProvider(_ config.ProviderConfig, _ *slog.Logger) (domain.LLMProvider, error) {
	return nil, domain.NewDomainError("main.createBedrockProvider", domain.ErrInvalidConfiguration,
		"bedrock provider requires build with -tags bedrock")
}
