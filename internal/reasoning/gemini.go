// internal/reasoning/gemini.go
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient generates scripts with Google's Gemini API
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// GeminiConfig configures a GeminiClient
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string       // optional, for proxies and tests
	HTTP    *http.Client // optional
}

// NewGeminiClient creates a Gemini-backed generator
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTP,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model, logger: logger}, nil
}

// Generate asks Gemini for the next decision script
func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Script, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(string(req.Payload), genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyGenAI(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, transientf("empty response from Gemini")
	}
	return &Script{Source: ExtractSource(text), Provider: "gemini", Model: g.model}, nil
}

func classifyGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: classifyStatus(apiErr.Code), Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &Error{Kind: classifyStatus(apiErrPtr.Code), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Transient, Err: err}
	}
	// Anything else (bad config, malformed request) will not fix itself
	return &Error{Kind: Permanent, Err: err}
}
