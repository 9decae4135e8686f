// internal/reasoning/openai.go
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Endpoint represents a single OpenAI-compatible provider
type Endpoint struct {
	URL    string
	Model  string
	APIKey string
}

// OpenAIClient calls chat completion APIs with fallback across endpoints
type OpenAIClient struct {
	endpoints []Endpoint
	client    *http.Client
	logger    *zap.Logger
	maxTokens int
}

// OpenAIOption customizes an OpenAIClient
type OpenAIOption func(*OpenAIClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(o *OpenAIClient) { o.client = c }
}

// WithMaxTokens caps the completion length
func WithMaxTokens(n int) OpenAIOption {
	return func(o *OpenAIClient) { o.maxTokens = n }
}

// NewOpenAIClient creates a client that tries endpoints in order
func NewOpenAIClient(endpoints []Endpoint, timeout time.Duration, logger *zap.Logger, opts ...OpenAIOption) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &OpenAIClient{
		endpoints: endpoints,
		logger:    logger,
		maxTokens: 2048,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends the payload to each endpoint in order until one answers.
// A transient failure moves on to the next endpoint; a permanent one stops.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Script, error) {
	if len(c.endpoints) == 0 {
		return nil, &Error{Kind: Permanent, Err: ErrNoEndpoints}
	}

	var lastErr error
	for i, ep := range c.endpoints {
		script, err := c.tryEndpoint(ctx, ep, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("reasoning fallback succeeded",
					zap.Int("endpoint", i+1),
					zap.String("model", ep.Model),
					zap.Int("failures", i))
			}
			return script, nil
		}

		lastErr = err
		if IsTransient(err) {
			c.logger.Warn("reasoning endpoint unavailable, trying next",
				zap.Int("endpoint", i+1),
				zap.String("model", ep.Model),
				zap.Error(err))
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) tryEndpoint(ctx context.Context, ep Endpoint, req Request) (*Script, error) {
	body, err := json.Marshal(chatRequest{
		Model: ep.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(req.Payload)},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, &Error{Kind: Permanent, Err: err}
	}

	url := strings.TrimSuffix(ep.URL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: Permanent, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// The caller giving up is not the service's fault
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, transientf("connection failed: %w", err)
		}
		return nil, transientf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{
			Kind: classifyStatus(resp.StatusCode),
			Err:  fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, transientf("decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 || strings.TrimSpace(apiResp.Choices[0].Message.Content) == "" {
		return nil, transientf("empty response from API")
	}

	return &Script{
		Source:   ExtractSource(apiResp.Choices[0].Message.Content),
		Provider: "openai",
		Model:    ep.Model,
	}, nil
}
