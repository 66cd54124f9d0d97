package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix of every environment override.
const envPrefix = "CHATCORE_"

// Config is the top-level application configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Completion CompletionConfig `yaml:"completion"`
	Functions  FunctionsConfig  `yaml:"functions"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Includes   []string         `yaml:"includes,omitempty"`
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // openai (any compatible API) or bedrock
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	// StreamUsage asks OpenAI-compatible APIs for a final usage chunk.
	StreamUsage bool `yaml:"stream_usage"`
}

// Tool behaviors accepted by CompletionConfig.ToolBehavior.
const (
	ToolBehaviorNone         = "none"
	ToolBehaviorAuto         = "auto"
	ToolBehaviorRequired     = "required"
	ToolBehaviorLegacyAuto   = "legacy_auto"
	ToolBehaviorLegacyEnable = "legacy_enable"
)

// CompletionConfig holds the default execution settings of a completion.
type CompletionConfig struct {
	Model            string        `yaml:"model"`
	SystemPrompt     string        `yaml:"system_prompt"`
	DeveloperPrompt  string        `yaml:"developer_prompt"`
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      *float64      `yaml:"temperature,omitempty"`
	ResultsPerPrompt int           `yaml:"results_per_prompt"`
	Timeout          time.Duration `yaml:"timeout"`
	Stream           bool          `yaml:"stream"`

	ToolBehavior          string   `yaml:"tool_behavior"`
	Functions             []string `yaml:"functions,omitempty"` // fully-qualified names; empty = all
	AutoInvoke            bool     `yaml:"auto_invoke"`
	MaxAutoInvokeAttempts int      `yaml:"max_auto_invoke_attempts"`
	MaxUseAttempts        int      `yaml:"max_use_attempts"`
	RetainArgumentTypes   bool     `yaml:"retain_argument_types"`
	AllowParallelCalls    *bool    `yaml:"allow_parallel_calls,omitempty"`
	StrictSchemas         bool     `yaml:"strict_schemas"`
}

// FunctionsConfig holds the capability provider settings.
type FunctionsConfig struct {
	Builtins           []string `yaml:"builtins"` // math, time
	ValidateArguments  bool     `yaml:"validate_arguments"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"` // 0 = unlimited
	LogInvocations     bool     `yaml:"log_invocations"`

	// ApprovalRequired lists fully-qualified names that are denied unless approved.
	ApprovalRequired  []string `yaml:"approval_required,omitempty"`
	ApprovalTerminate bool     `yaml:"approval_terminate"`

	MCPEnabled bool        `yaml:"mcp_enabled"`
	MCPServers []MCPServer `yaml:"mcp_servers,omitempty"`
}

// MCPServer configures an MCP server connection.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// TelemetryConfig holds usage reporting settings.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
	// LogUsage logs every usage report at info level.
	LogUsage bool `yaml:"log_usage"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "openai",
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Completion: CompletionConfig{
			SystemPrompt:          "You are a helpful assistant.",
			ResultsPerPrompt:      1,
			Timeout:               120 * time.Second,
			ToolBehavior:          ToolBehaviorAuto,
			AutoInvoke:            true,
			MaxAutoInvokeAttempts: 128,
		},
		Functions: FunctionsConfig{
			Builtins:          []string{"math", "time"},
			ValidateArguments: true,
			LogInvocations:    true,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(envPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps CHATCORE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv(envPrefix + "LLM_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.LLM.CircuitBreaker.Enabled = v == "true"
	}
	if v := os.Getenv(envPrefix + "LLM_FAILOVER_FALLBACKS"); v != "" {
		cfg.LLM.Failover.Enabled = true
		cfg.LLM.Failover.Fallbacks = splitAndTrim(v, ",")
	}

	if v := os.Getenv(envPrefix + "COMPLETION_MODEL"); v != "" {
		cfg.Completion.Model = v
	}
	if v := os.Getenv(envPrefix + "COMPLETION_SYSTEM_PROMPT"); v != "" {
		cfg.Completion.SystemPrompt = v
	}
	if v := os.Getenv(envPrefix + "COMPLETION_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Completion.MaxTokens = n
		}
	}
	if v := os.Getenv(envPrefix + "COMPLETION_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Completion.Temperature = &f
		}
	}
	if v := os.Getenv(envPrefix + "COMPLETION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Completion.Timeout = d
		}
	}
	if v := os.Getenv(envPrefix + "COMPLETION_STREAM"); v != "" {
		cfg.Completion.Stream = v == "true"
	}
	if v := os.Getenv(envPrefix + "COMPLETION_TOOL_BEHAVIOR"); v != "" {
		cfg.Completion.ToolBehavior = v
	}
	if v := os.Getenv(envPrefix + "COMPLETION_AUTO_INVOKE"); v != "" {
		cfg.Completion.AutoInvoke = v == "true"
	}
	if v := os.Getenv(envPrefix + "COMPLETION_MAX_AUTO_INVOKE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Completion.MaxAutoInvokeAttempts = n
		}
	}
	if v := os.Getenv(envPrefix + "COMPLETION_RETAIN_ARGUMENT_TYPES"); v == "true" {
		cfg.Completion.RetainArgumentTypes = true
	}

	if v := os.Getenv(envPrefix + "FUNCTIONS_BUILTINS"); v != "" {
		cfg.Functions.Builtins = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envPrefix + "FUNCTIONS_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Functions.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv(envPrefix + "FUNCTIONS_APPROVAL_REQUIRED"); v != "" {
		cfg.Functions.ApprovalRequired = splitAndTrim(v, ",")
	}
	if v := os.Getenv(envPrefix + "FUNCTIONS_MCP_ENABLED"); v == "true" {
		cfg.Functions.MCPEnabled = true
	}

	if v := os.Getenv(envPrefix + "LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(envPrefix + "LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv(envPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv(envPrefix + "TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv(envPrefix + "TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true"
	}

	// Per-provider API key overrides: CHATCORE_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("%sLLM_PROVIDER_%s_API_KEY", envPrefix,
			strings.ToUpper(strings.ReplaceAll(cfg.LLM.Providers[i].Name, "-", "_")))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." values in provider API keys and MCP server
// environments and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
			}
			cfg.LLM.Providers[i].APIKey = decrypted
		}
	}

	for i := range cfg.Functions.MCPServers {
		srv := &cfg.Functions.MCPServers[i]
		for k, v := range srv.Env {
			if !strings.HasPrefix(v, "enc:") {
				continue
			}
			decrypted, err := DecryptValue(strings.TrimPrefix(v, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("mcp server %s env %s: %w", srv.Name, k, err)
			}
			srv.Env[k] = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
