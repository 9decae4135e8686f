// cmd/leafdoc/app.go
package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/leafdoc/internal/config"
	"github.com/signalnine/leafdoc/internal/kernel"
	"github.com/signalnine/leafdoc/internal/logging"
	"github.com/signalnine/leafdoc/internal/reasoning"
	"github.com/signalnine/leafdoc/internal/render"
	"github.com/signalnine/leafdoc/internal/sandbox"
	"github.com/signalnine/leafdoc/internal/store"
	"github.com/signalnine/leafdoc/internal/telemetry"
)

// app holds what a command needs; built per invocation
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *store.DB
	plants   *store.PlantStore
	sessions *store.SessionStore
	printer  *render.Printer
	shutdown telemetry.Shutdown
}

// newApp loads config, logging, telemetry and the database
func newApp(cmd *cobra.Command) (*app, error) {
	format, err := render.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log, verbose)
	if err != nil {
		return nil, err
	}
	shutdown, err := telemetry.Init(cfg.Telemetry, cmd.ErrOrStderr(), logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	db, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		plants:   store.NewPlantStore(db),
		sessions: store.NewSessionStore(db),
		printer:  render.NewPrinter(cmd.OutOrStdout(), format),
		shutdown: shutdown,
	}, nil
}

func (a *app) Close() {
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// kernel validates the full config and wires reasoning, sandbox and store
func (a *app) kernel(ctx context.Context) (*kernel.Kernel, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	gen, err := newGenerator(ctx, a.cfg.Reasoning, a.logger)
	if err != nil {
		return nil, err
	}

	limits := sandbox.Limits{
		Timeout:        a.cfg.Sandbox.Timeout,
		MemoryLimit:    uint64(a.cfg.Sandbox.MemoryLimitMB) << 20,
		MaxSourceBytes: a.cfg.Sandbox.MaxSourceBytes,
		MaxOutputBytes: a.cfg.Sandbox.MaxOutputBytes,
	}
	opts := []kernel.Option{
		kernel.WithLogger(a.logger),
		kernel.WithMaxSelfDirectedTurns(a.cfg.Kernel.MaxSelfDirectedTurns),
		kernel.WithMaxRepairAttempts(a.cfg.Kernel.MaxRepairAttempts),
		kernel.WithLeaseTTL(a.cfg.Kernel.LeaseTTL),
		kernel.WithContextPolicy(kernel.ContextPolicy{
			MaxHistoryTurns: a.cfg.Context.MaxHistoryTurns,
			MaxTokens:       a.cfg.Context.MaxTokens,
		}),
	}
	if a.cfg.Context.MaxTokens > 0 {
		counter, err := kernel.NewTokenCounter()
		if err != nil {
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		opts = append(opts, kernel.WithTokenCounter(counter))
	}
	return kernel.New(a.sessions, a.plants, gen, sandbox.New(limits, a.logger), opts...), nil
}

// readOnlyKernel serves history and transcripts, which need neither the
// reasoning service nor the sandbox, so the reasoning config is not required
func (a *app) readOnlyKernel() *kernel.Kernel {
	return kernel.New(a.sessions, a.plants, nil, nil, kernel.WithLogger(a.logger))
}

// newGenerator builds the configured provider wrapped in retries
func newGenerator(ctx context.Context, cfg config.ReasoningConfig, logger *zap.Logger) (reasoning.Generator, error) {
	var base reasoning.Generator
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err := reasoning.NewGeminiClient(ctx, reasoning.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Gemini.Model,
			BaseURL: cfg.Gemini.BaseURL,
			HTTP:    &http.Client{Timeout: cfg.RequestTimeout},
		}, logger)
		if err != nil {
			return nil, err
		}
		base = g
	default:
		endpoints := make([]reasoning.Endpoint, 0, len(cfg.Endpoints))
		for _, ep := range cfg.Endpoints {
			endpoints = append(endpoints, reasoning.Endpoint{URL: ep.URL, Model: ep.Model, APIKey: ep.APIKey})
		}
		base = reasoning.NewOpenAIClient(endpoints, cfg.RequestTimeout, logger, reasoning.WithMaxTokens(cfg.MaxTokens))
	}

	policy := reasoning.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
	return reasoning.NewRetrier(base, policy, logger), nil
}
