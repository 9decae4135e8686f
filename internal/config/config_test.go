// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leafdoc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/leafdoc/leafdoc.db
server:
  listen_addr: ":9311"
  max_payload_bytes: 1024
reasoning:
  provider: openai
  endpoints:
    - url: https://api.openai.com/v1
      model: gpt-4o-mini
      api_key_env: TEST_OPENAI_KEY
    - url: http://localhost:11434/v1
      model: llama3
  max_attempts: 3
  initial_backoff: 250ms
sandbox:
  timeout: 5s
kernel:
  max_self_directed_turns: 4
  lease_ttl: 30s
context:
  max_history_turns: 20
`)
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/leafdoc/leafdoc.db", cfg.DBPath)
	assert.Equal(t, ":9311", cfg.Server.ListenAddr)
	assert.Equal(t, int64(1024), cfg.Server.MaxPayloadBytes)
	require.Len(t, cfg.Reasoning.Endpoints, 2)
	assert.Equal(t, "sk-test", cfg.Reasoning.Endpoints[0].APIKey)
	assert.Empty(t, cfg.Reasoning.Endpoints[1].APIKey)
	assert.Equal(t, 3, cfg.Reasoning.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Reasoning.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 4, cfg.Kernel.MaxSelfDirectedTurns)
	assert.Equal(t, 30*time.Second, cfg.Kernel.LeaseTTL)
	assert.Equal(t, 20, cfg.Context.MaxHistoryTurns)

	// Unset fields keep their defaults
	assert.Equal(t, 8*time.Second, cfg.Reasoning.MaxBackoff)
	assert.Equal(t, 64, cfg.Sandbox.MemoryLimitMB)
	assert.Equal(t, 2, cfg.Kernel.MaxRepairAttempts)
	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	for _, key := range []string{"LEAFDOC_DB_PATH", "LEAFDOC_LISTEN_ADDR", "LEAFDOC_API_KEY",
		"LEAFDOC_LOG_LEVEL", "LEAFDOC_REASONING_PROVIDER", "GEMINI_API_KEY"} {
		t.Setenv(key, "")
	}
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
db_path: ./from-file.db
reasoning:
  provider: openai
  gemini:
    api_key_env: TEST_GEMINI_KEY
`)
	t.Setenv("LEAFDOC_DB_PATH", "/tmp/env.db")
	t.Setenv("LEAFDOC_LISTEN_ADDR", "127.0.0.1:7000")
	t.Setenv("LEAFDOC_API_KEY", "client-secret")
	t.Setenv("LEAFDOC_LOG_LEVEL", "debug")
	t.Setenv("LEAFDOC_REASONING_PROVIDER", "Gemini")
	t.Setenv("TEST_GEMINI_KEY", "g-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddr)
	assert.Equal(t, "client-secret", cfg.Server.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ProviderGemini, cfg.Reasoning.Provider)
	assert.Equal(t, "g-key", cfg.Reasoning.Gemini.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "kernel: [not, a, map\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Reasoning.Endpoints = []LLMEndpoint{{URL: "http://llm.test/v1", Model: "m"}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty db path", func(c *Config) { c.DBPath = " " }, "db_path"},
		{"unknown provider", func(c *Config) { c.Reasoning.Provider = "claude" }, "unknown provider"},
		{"openai without endpoints", func(c *Config) { c.Reasoning.Endpoints = nil }, "at least one endpoint"},
		{"endpoint without model", func(c *Config) { c.Reasoning.Endpoints[0].Model = "" }, "url and model"},
		{"zero attempts", func(c *Config) { c.Reasoning.MaxAttempts = 0 }, "max_attempts"},
		{"zero sandbox timeout", func(c *Config) { c.Sandbox.Timeout = 0 }, "sandbox.timeout"},
		{"zero memory limit", func(c *Config) { c.Sandbox.MemoryLimitMB = 0 }, "sandbox limits"},
		{"zero loop ceiling", func(c *Config) { c.Kernel.MaxSelfDirectedTurns = 0 }, "max_self_directed_turns"},
		{"negative repairs", func(c *Config) { c.Kernel.MaxRepairAttempts = -1 }, "max_repair_attempts"},
		{"zero lease", func(c *Config) { c.Kernel.LeaseTTL = 0 }, "lease_ttl"},
		{"half TLS", func(c *Config) { c.Server.TLSCert = "cert.pem" }, "tls_cert"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.DBPath = ""
	cfg.Kernel.LeaseTTL = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_path")
	assert.Contains(t, err.Error(), "lease_ttl")
	assert.Contains(t, err.Error(), "at least one endpoint")
}
