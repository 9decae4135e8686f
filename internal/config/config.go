// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Reasoning providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// LLMEndpoint represents one OpenAI-compatible provider in the fallback chain
type LLMEndpoint struct {
	URL       string `yaml:"url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"` // env var name for API key
	APIKey    string `yaml:"-"`           // resolved at load time
}

// GeminiConfig selects the Gemini model and the env var holding its key
type GeminiConfig struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	APIKey    string `yaml:"-"`
}

// ReasoningConfig configures script generation
type ReasoningConfig struct {
	Provider       string        `yaml:"provider"`
	Endpoints      []LLMEndpoint `yaml:"endpoints"` // fallback chain
	Gemini         GeminiConfig  `yaml:"gemini"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxTokens      int           `yaml:"max_tokens"`
}

// ServerConfig for the HTTP API
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	MaxPayloadBytes int64  `yaml:"max_payload_bytes"`
	TLSCert         string `yaml:"tls_cert"`
	TLSKey          string `yaml:"tls_key"`
	APIKey          string `yaml:"-"` // client auth, from env
}

// SandboxConfig bounds each script execution
type SandboxConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MemoryLimitMB  int           `yaml:"memory_limit_mb"`
	MaxSourceBytes int           `yaml:"max_source_bytes"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// KernelConfig bounds each invocation
type KernelConfig struct {
	MaxSelfDirectedTurns int           `yaml:"max_self_directed_turns"`
	MaxRepairAttempts    int           `yaml:"max_repair_attempts"`
	LeaseTTL             time.Duration `yaml:"lease_ttl"`
}

// ContextConfig caps the history sent to the reasoning service. Zero means unbounded.
type ContextConfig struct {
	MaxHistoryTurns int `yaml:"max_history_turns"`
	MaxTokens       int `yaml:"max_tokens"`
}

// LogConfig selects level and encoding
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// TelemetryConfig toggles trace export
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Config is the full leafdoc configuration
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Server    ServerConfig    `yaml:"server"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Context   ContextConfig   `yaml:"context"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		DBPath: "./leafdoc.db",
		Server: ServerConfig{
			ListenAddr:      ":8080",
			MaxPayloadBytes: 64 * 1024,
		},
		Reasoning: ReasoningConfig{
			Provider: ProviderOpenAI,
			Gemini: GeminiConfig{
				Model:     "gemini-2.5-flash",
				APIKeyEnv: "GEMINI_API_KEY",
			},
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
			RequestTimeout: 60 * time.Second,
			MaxTokens:      2048,
		},
		Sandbox: SandboxConfig{
			Timeout:        2 * time.Second,
			MemoryLimitMB:  64,
			MaxSourceBytes: 64 * 1024,
			MaxOutputBytes: 16 * 1024,
		},
		Kernel: KernelConfig{
			MaxSelfDirectedTurns: 10,
			MaxRepairAttempts:    2,
			LeaseTTL:             2 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "leafdoc",
		},
	}
}

// Load reads config from a YAML file over the defaults and applies env
// overrides. An empty path yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Env overrides
	if v := os.Getenv("LEAFDOC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEAFDOC_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("LEAFDOC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("LEAFDOC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LEAFDOC_REASONING_PROVIDER"); v != "" {
		cfg.Reasoning.Provider = strings.ToLower(v)
	}

	// Resolve API keys for each LLM endpoint from env vars
	for i := range cfg.Reasoning.Endpoints {
		if cfg.Reasoning.Endpoints[i].APIKeyEnv != "" {
			cfg.Reasoning.Endpoints[i].APIKey = os.Getenv(cfg.Reasoning.Endpoints[i].APIKeyEnv)
		}
	}
	if cfg.Reasoning.Gemini.APIKeyEnv != "" {
		cfg.Reasoning.Gemini.APIKey = os.Getenv(cfg.Reasoning.Gemini.APIKeyEnv)
	}

	return cfg, nil
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db_path is required"))
	}

	switch c.Reasoning.Provider {
	case ProviderOpenAI:
		if len(c.Reasoning.Endpoints) == 0 {
			errs = append(errs, errors.New("reasoning.endpoints: at least one endpoint is required for the openai provider"))
		}
		for i, ep := range c.Reasoning.Endpoints {
			if ep.URL == "" || ep.Model == "" {
				errs = append(errs, fmt.Errorf("reasoning.endpoints[%d]: url and model are required", i))
			}
		}
	case ProviderGemini:
		if c.Reasoning.Gemini.Model == "" {
			errs = append(errs, errors.New("reasoning.gemini.model is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("reasoning.provider: unknown provider %q", c.Reasoning.Provider))
	}

	if c.Reasoning.MaxAttempts < 1 {
		errs = append(errs, errors.New("reasoning.max_attempts must be positive"))
	}
	if c.Reasoning.InitialBackoff <= 0 || c.Reasoning.MaxBackoff <= 0 {
		errs = append(errs, errors.New("reasoning backoff durations must be positive"))
	}
	if c.Reasoning.RequestTimeout <= 0 {
		errs = append(errs, errors.New("reasoning.request_timeout must be positive"))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, errors.New("sandbox.timeout must be positive"))
	}
	if c.Sandbox.MemoryLimitMB <= 0 || c.Sandbox.MaxSourceBytes <= 0 || c.Sandbox.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("sandbox limits must be positive"))
	}
	if c.Kernel.MaxSelfDirectedTurns <= 0 {
		errs = append(errs, errors.New("kernel.max_self_directed_turns must be positive"))
	}
	if c.Kernel.MaxRepairAttempts < 0 {
		errs = append(errs, errors.New("kernel.max_repair_attempts must not be negative"))
	}
	if c.Kernel.LeaseTTL <= 0 {
		errs = append(errs, errors.New("kernel.lease_ttl must be positive"))
	}
	if c.Context.MaxHistoryTurns < 0 || c.Context.MaxTokens < 0 {
		errs = append(errs, errors.New("context caps must not be negative"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	return errors.Join(errs...)
}
