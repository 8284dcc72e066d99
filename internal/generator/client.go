// Package generator drafts reply text through an OpenAI-compatible chat-completions backend.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"replygate/pkg/circuitbreaker"
	"replygate/pkg/logger"
	"replygate/pkg/metrics"
	"replygate/pkg/trace"
	"replygate/pkg/util"
)

const (
	DefaultBaseURL       = "https://api.openai.com/v1"
	DefaultModel         = "gpt-3.5-turbo"
	DefaultMaxInputChars = 8000
	DefaultTimeout       = 30 * time.Second

	systemPrompt = "You are a helpful assistant responding to emails."
	userPrefix   = "Please generate a response to this email: "

	// cap on how much of an error body we keep for logs
	maxErrorBody = 512
)

// Drafter produces a candidate reply for an email body, or false when none could be produced.
type Drafter interface {
	Generate(ctx context.Context, body string) (string, bool)
}

type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxInputChars int
	Timeout       time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

var errNoChoices = errors.New("completion has no choices")

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	cbConfig := circuitbreaker.DefaultConfig()
	cbConfig.OnStateChange = func(from, to circuitbreaker.State) {
		log.Warn("generator circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         circuitbreaker.New(cbConfig),
		logger:     log,
	}
}

// WithBreaker swaps the circuit breaker; used by tests.
func (c *Client) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Client {
	c.cb = cb
	return c
}

// Generate never returns an error: every failure is logged and reported as no draft.
func (c *Client) Generate(ctx context.Context, body string) (string, bool) {
	log := logger.WithTrace(ctx, c.logger)

	var draft string
	err := c.cb.Execute(func() error {
		var callErr error
		draft, callErr = c.complete(ctx, truncate(body, c.cfg.MaxInputChars))
		return callErr
	})
	if err != nil {
		retryable, kind := util.ClassifyError(err)
		log.Warn("draft generation failed",
			zap.String("error_type", kind),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
		return "", false
	}
	return draft, true
}

func (c *Client) complete(ctx context.Context, body string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrefix + body},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordGeneratorCallLatency("error", time.Since(start))
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := fmt.Sprintf("%d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			status = "5xx"
		}
		metrics.RecordGeneratorCallLatency(status, time.Since(start))
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("generation backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	metrics.RecordGeneratorCallLatency("success", time.Since(start))

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errNoChoices
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("completion content is empty")
	}
	return content, nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
