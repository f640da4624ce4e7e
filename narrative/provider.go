package narrative

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vigil/core"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Prompt is the structured input to a completion call.
type Prompt struct {
	System string
	User   string
}

// Provider is an outbound narrative-completion service.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ProviderConfig describes one configured completion endpoint. Credential is
// the resolved secret, never a reference.
type ProviderConfig struct {
	Name       string
	Endpoint   string
	ModelID    string
	Credential string
	// RequestsPerMinute bounds outbound calls; 0 disables the limit
	RequestsPerMinute float64
	Burst             int
	MaxTokens         int
	Temperature       float64
}

const maxErrorBody = 512

// HTTPProvider calls an OpenAI-compatible chat-completions endpoint.
type HTTPProvider struct {
	cfg     ProviderConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewHTTPProvider creates a provider with its own circuit breaker and rate limiter.
func NewHTTPProvider(cfg ProviderConfig, breakerCfg core.CircuitBreakerConfig, logger *zap.SugaredLogger) (*HTTPProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("provider %s: endpoint is required", cfg.Name)
	}
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("provider %s: model_id is required", cfg.Name)
	}

	breaker, err := core.NewCircuitBreaker(cfg.Name, breakerCfg)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst)
	}

	return &HTTPProvider{
		cfg: cfg,
		client: &http.Client{
			// Per-call deadlines come from the caller's context.
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Name returns the configured provider name
func (p *HTTPProvider) Name() string {
	return p.cfg.Name
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat-completion request. It never retries.
func (p *HTTPProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if err := p.breaker.Allow(); err != nil {
		return "", err
	}
	if !p.limiter.Allow() {
		return "", fmt.Errorf("%w: %s", ErrRateLimited, p.cfg.Name)
	}

	text, err := p.complete(ctx, prompt)
	if err != nil {
		if opened := p.breaker.RecordFailure(); opened {
			p.logger.Warnw("Narrative provider circuit open", "provider", p.cfg.Name, "error", err)
		}
		return "", err
	}
	p.breaker.RecordSuccess()
	return text, nil
}

func (p *HTTPProvider) complete(ctx context.Context, prompt Prompt) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.cfg.ModelID,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.cfg.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.Credential)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to %s failed: %w", p.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var decoded chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response from %s: %w", p.cfg.Name, err)
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return decoded.Choices[0].Message.Content, nil
}
