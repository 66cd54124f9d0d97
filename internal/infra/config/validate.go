package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateCompletion(cfg, ve)
	validateFunctions(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProviderTypes = map[string]bool{
	"openai":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, bedrock)", i, p.Type)
		}
		if p.APIKey == "" && p.Type != "bedrock" && p.BaseURL == "" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via CHATCORE_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				ve.Add("llm.providers[%d] (%s): base_url %q is not an absolute URL", i, p.Name, p.BaseURL)
			}
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
			if fb == cfg.LLM.DefaultProvider {
				ve.Add("llm.failover.fallbacks: %q is already the default provider", fb)
			}
		}
	}
}

var validToolBehaviors = map[string]bool{
	ToolBehaviorNone:         true,
	ToolBehaviorAuto:         true,
	ToolBehaviorRequired:     true,
	ToolBehaviorLegacyAuto:   true,
	ToolBehaviorLegacyEnable: true,
}

func validateCompletion(cfg *Config, ve *ValidationError) {
	c := cfg.Completion
	if c.MaxTokens < 0 {
		ve.Add("completion.max_tokens must be >= 0 (0 = provider default)")
	}
	if c.ResultsPerPrompt < 0 || c.ResultsPerPrompt > 128 {
		ve.Add("completion.results_per_prompt must be in [1, 128]")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		ve.Add("completion.temperature must be in [0, 2]")
	}
	if c.Timeout <= 0 {
		ve.Add("completion.timeout must be > 0")
	}
	if c.ToolBehavior != "" && !validToolBehaviors[c.ToolBehavior] {
		ve.Add("completion.tool_behavior %q is invalid (want: none, auto, required, legacy_auto, legacy_enable)", c.ToolBehavior)
	}
	if c.MaxAutoInvokeAttempts < 0 {
		ve.Add("completion.max_auto_invoke_attempts must be >= 0")
	}
	if c.MaxUseAttempts < 0 {
		ve.Add("completion.max_use_attempts must be >= 0")
	}
	if c.AutoInvoke && c.ResultsPerPrompt > 1 {
		ve.Add("completion.auto_invoke requires results_per_prompt = 1")
	}
	for i, fn := range c.Functions {
		if strings.TrimSpace(fn) == "" {
			ve.Add("completion.functions[%d] must not be empty", i)
		}
	}
}

var validBuiltins = map[string]bool{
	"math": true,
	"time": true,
}

func validateFunctions(cfg *Config, ve *ValidationError) {
	f := cfg.Functions
	for _, b := range f.Builtins {
		if !validBuiltins[b] {
			ve.Add("functions.builtins: unknown plugin %q (want: math, time)", b)
		}
	}
	if f.RateLimitPerMinute < 0 {
		ve.Add("functions.rate_limit_per_minute must be >= 0")
	}
	if !f.MCPEnabled {
		return
	}
	seen := make(map[string]bool)
	for i, s := range f.MCPServers {
		if s.Name == "" {
			ve.Add("functions.mcp_servers[%d].name must not be empty", i)
			continue
		}
		if seen[s.Name] {
			ve.Add("functions.mcp_servers[%d]: duplicate server name %q", i, s.Name)
		}
		seen[s.Name] = true
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				ve.Add("functions.mcp_servers[%d] (%s): command is required for stdio transport", i, s.Name)
			}
		case "http":
			if s.URL == "" {
				ve.Add("functions.mcp_servers[%d] (%s): url is required for http transport", i, s.Name)
			}
		default:
			ve.Add("functions.mcp_servers[%d] (%s): transport %q is invalid (want: stdio, http)", i, s.Name, s.Transport)
		}
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
	validExporters  = map[string]bool{"noop": true, "stdout": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
