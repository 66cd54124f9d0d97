package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.LLM.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "openai")
	}
	if cfg.Completion.ToolBehavior != ToolBehaviorAuto || !cfg.Completion.AutoInvoke {
		t.Errorf("Completion tool behavior = %q auto=%v", cfg.Completion.ToolBehavior, cfg.Completion.AutoInvoke)
	}
	if cfg.Completion.MaxAutoInvokeAttempts != 128 {
		t.Errorf("MaxAutoInvokeAttempts = %d, want 128", cfg.Completion.MaxAutoInvokeAttempts)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Completion.Timeout != 120*time.Second {
		t.Errorf("expected defaults, got Timeout=%v", cfg.Completion.Timeout)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  default_provider: "groq"
  providers:
    - name: "groq"
      base_url: "https://api.groq.com/openai/v1"
      api_key: "test-key"
      model: "llama3-8b"
completion:
  max_tokens: 256
  temperature: 0.3
  tool_behavior: "required"
  functions: ["math-add"]
  retain_argument_types: true
functions:
  builtins: ["math"]
  approval_required: ["time-now"]
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.DefaultProvider != "groq" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "groq")
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].APIKey != "test-key" {
		t.Errorf("Providers mismatch: %+v", cfg.LLM.Providers)
	}
	c := cfg.Completion
	if c.MaxTokens != 256 || c.Temperature == nil || *c.Temperature != 0.3 {
		t.Errorf("sampling settings not loaded: %+v", c)
	}
	if c.ToolBehavior != ToolBehaviorRequired || len(c.Functions) != 1 || !c.RetainArgumentTypes {
		t.Errorf("tool settings not loaded: %+v", c)
	}
	if len(cfg.Functions.Builtins) != 1 || cfg.Functions.ApprovalRequired[0] != "time-now" {
		t.Errorf("functions not loaded: %+v", cfg.Functions)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATCORE_LLM_DEFAULT_PROVIDER", "local")
	t.Setenv("CHATCORE_LOGGER_LEVEL", "debug")
	t.Setenv("CHATCORE_COMPLETION_MODEL", "gpt-4o")
	t.Setenv("CHATCORE_COMPLETION_TEMPERATURE", "0.7")
	t.Setenv("CHATCORE_COMPLETION_TIMEOUT", "10s")
	t.Setenv("CHATCORE_COMPLETION_STREAM", "true")
	t.Setenv("CHATCORE_COMPLETION_AUTO_INVOKE", "false")
	t.Setenv("CHATCORE_FUNCTIONS_BUILTINS", "time, ")
	t.Setenv("CHATCORE_LLM_FAILOVER_FALLBACKS", "a,b")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.DefaultProvider != "local" {
		t.Errorf("DefaultProvider = %q", cfg.LLM.DefaultProvider)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if cfg.Completion.Model != "gpt-4o" || *cfg.Completion.Temperature != 0.7 || cfg.Completion.Timeout != 10*time.Second {
		t.Errorf("completion overrides not applied: %+v", cfg.Completion)
	}
	if !cfg.Completion.Stream || cfg.Completion.AutoInvoke {
		t.Errorf("stream=%v auto=%v", cfg.Completion.Stream, cfg.Completion.AutoInvoke)
	}
	if len(cfg.Functions.Builtins) != 1 || cfg.Functions.Builtins[0] != "time" {
		t.Errorf("Builtins = %v", cfg.Functions.Builtins)
	}
	if !cfg.LLM.Failover.Enabled || len(cfg.LLM.Failover.Fallbacks) != 2 {
		t.Errorf("Failover = %+v", cfg.LLM.Failover)
	}
}

func TestEnvOverridesInvalidValuesIgnored(t *testing.T) {
	t.Setenv("CHATCORE_COMPLETION_MAX_TOKENS", "lots")
	t.Setenv("CHATCORE_COMPLETION_TIMEOUT", "-5s")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Completion.MaxTokens != 0 || cfg.Completion.Timeout != 120*time.Second {
		t.Errorf("invalid overrides should be ignored: %+v", cfg.Completion)
	}
}

func TestApplyEnvOverridesProviderAPIKey(t *testing.T) {
	t.Setenv("CHATCORE_LLM_PROVIDER_MY_OPENAI_API_KEY", "sk-env")

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "my-openai"}}
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Providers[0].APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want %q", cfg.LLM.Providers[0].APIKey, "sk-env")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueInvalidInput(t *testing.T) {
	for _, in := range []string{"no-separator", "zz:00", "00:zz", "00:00"} {
		if _, err := DecryptValue(in, "pass"); err == nil {
			t.Errorf("DecryptValue(%q) should fail", in)
		}
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encKey, err := EncryptValue("sk-secret123456", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	encToken, err := EncryptValue("ghp-token", passphrase)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "openai", APIKey: "enc:" + encKey},
		{Name: "plain", APIKey: "sk-plain-key"},
	}
	cfg.Functions.MCPServers = []MCPServer{{
		Name: "github",
		Env:  map[string]string{"TOKEN": "enc:" + encToken, "MODE": "ro"},
	}}

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-secret123456" {
		t.Errorf("APIKey = %q", cfg.LLM.Providers[0].APIKey)
	}
	if cfg.LLM.Providers[1].APIKey != "sk-plain-key" {
		t.Error("plain APIKey should remain unchanged")
	}
	if cfg.Functions.MCPServers[0].Env["TOKEN"] != "ghp-token" || cfg.Functions.MCPServers[0].Env["MODE"] != "ro" {
		t.Errorf("MCP env = %v", cfg.Functions.MCPServers[0].Env)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "openai", APIKey: "enc:notvalidhex"}}

	if err := decryptSecrets(cfg, "passphrase"); err == nil {
		t.Error("expected error for invalid ciphertext")
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "test-load-key"
	encrypted, err := EncryptValue("sk-loadtest", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  providers:
    - name: "openai"
      api_key: "enc:` + encrypted + `"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHATCORE_CONFIG_KEY", passphrase)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-loadtest" {
		t.Errorf("APIKey = %q, want %q", cfg.LLM.Providers[0].APIKey, "sk-loadtest")
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  providers:
    - name: "openai"
      api_key: "enc:invalid-not-hex"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHATCORE_CONFIG_KEY", "some-passphrase")
	if _, err := Load(path); err == nil {
		t.Error("expected error from decrypt secrets")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("invalid: [yaml: bad"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("completion:\n  tool_behavior: \"sometimes\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, mode os.FileMode) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("test"), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(p, mode); err != nil {
			t.Fatal(err)
		}
		return p
	}

	if err := validatePermissions(write("good.yaml", 0600)); err != nil {
		t.Errorf("0600 should pass: %v", err)
	}
	if err := validatePermissions(write("readable.yaml", 0644)); err != nil {
		t.Errorf("0644 should pass: %v", err)
	}
	if err := validatePermissions(write("bad.yaml", 0666)); err == nil {
		t.Error("0666 should fail")
	}
	if err := validatePermissions(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for non-existent file")
	}
}
