// Package llm implements the structured-output client for the
// OpenAI-compatible language-model backend: prompt dispatch with retry and
// rate limiting, JSON extraction and repair, and the transport error
// taxonomy the pipeline's failure handling is built on.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/util"
)

// Client sends prompts to an OpenAI-compatible backend and parses structured
// responses. All methods are safe for sequential pipeline use; the limiter
// pool additionally makes them safe across goroutines.
type Client struct {
	httpClient *http.Client
	limiters   *limiterPool
	cfg        config.LLMConfig
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a client for the configured backend.
func NewClient(cfg config.LLMConfig, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		},
		limiters: newLimiterPool(),
		cfg:      cfg,
		apiKey:   apiKey,
		logger:   logger,
	}
}

// Generate sends a prompt constrained by schema and returns the parsed
// mapping with keys normalized to lower case. Malformed model JSON is
// repaired where possible; unrecoverable JSON yields an empty mapping and a
// warning, never an error. Transport and backend failures return a
// *RequestError after the retry budget is spent.
func (c *Client) Generate(ctx context.Context, prompt string, schema *Schema, system string) (map[string]any, error) {
	if schema != nil {
		prompt = prompt + "\n\n" + schema.PromptBlock()
	}

	content, err := c.complete(ctx, prompt, system, schema != nil)
	if err != nil {
		return nil, err
	}

	return c.parseStructured(content), nil
}

// GenerateText sends a prompt without a schema and returns the raw response.
func (c *Client) GenerateText(ctx context.Context, prompt, system string) (string, error) {
	return c.complete(ctx, prompt, system, false)
}

// complete runs the retry loop around a single chat completion.
func (c *Client) complete(ctx context.Context, prompt, system string, jsonMode bool) (string, error) {
	msgs := make([]message, 0, 2)
	if system != "" {
		msgs = append(msgs, message{Role: "system", Content: system})
	}
	msgs = append(msgs, message{Role: "user", Content: prompt})

	req := chatCompletionRequest{
		Model:       c.cfg.ModelName,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxOutputTokens,
		N:           1,
	}
	if jsonMode && c.cfg.UseJSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var lastErr *RequestError
	attempts := c.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.retryDelay(attempt)
			c.logger.Warn("retrying model request",
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", delay,
				"kind", lastErr.Kind.String())
			metrics.RecordLLMRetry(c.cfg.ModelName)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		content, err := c.doRequest(ctx, req)
		if err == nil {
			metrics.ObserveLLMRequest(c.cfg.ModelName, "success", time.Since(start))
			return content, nil
		}
		metrics.ObserveLLMRequest(c.cfg.ModelName, "error", time.Since(start))

		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			// Not part of the taxonomy means not retryable; context
			// cancellation lands here.
			return "", err
		}
		lastErr = reqErr
	}

	return "", lastErr.exhausted(attempts)
}

// retryDelay is the base delay linearly increased by the backoff factor:
// base * (1 + factor*(attempt-2)) for the attempt about to run. A factor of
// zero gives a fixed delay.
func (c *Client) retryDelay(attempt int) time.Duration {
	base := c.cfg.RetryBaseDelay()
	scale := 1.0 + c.cfg.RetryBackoffFactor*float64(attempt-2)
	if scale < 1.0 {
		scale = 1.0
	}
	return time.Duration(float64(base) * scale)
}

func (c *Client) doRequest(ctx context.Context, req chatCompletionRequest) (string, error) {
	if err := c.limiters.wait(ctx, c.cfg.BaseURL, c.cfg.RateLimitPerMinute); err != nil {
		return "", err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", wrapError(fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", wrapError(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", wrapError(err)
	}
	defer func() {
		if cerr := httpResp.Body.Close(); cerr != nil {
			c.logger.Warn("failed to close response body", "error", cerr)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", wrapError(fmt.Errorf("failed to read response: %w", err))
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return "", newRequestError(KindRateLimit, httpResp.StatusCode,
			"backend throttled the request: %s", backendMessage(respBody))
	}
	if httpResp.StatusCode == http.StatusBadGateway ||
		httpResp.StatusCode == http.StatusServiceUnavailable ||
		httpResp.StatusCode == http.StatusGatewayTimeout {
		return "", newRequestError(KindGateway, httpResp.StatusCode,
			"gateway failure: %s", backendMessage(respBody))
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", newRequestError(KindRequest, httpResp.StatusCode,
			"request failed: %s", backendMessage(respBody))
	}

	// Some proxies return edge error pages with a 200 status; those must be
	// classified as gateway failures, not parse failures.
	if looksLikeGatewayPage(respBody) {
		return "", newRequestError(KindGateway, httpResp.StatusCode,
			"gateway error page in 200 response: %s", util.TruncateString(string(respBody), 120))
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", wrapError(fmt.Errorf("failed to parse completion envelope: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", newRequestError(KindRequest, httpResp.StatusCode, "no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

// backendMessage extracts the backend's error message when the body is the
// conventional error envelope, falling back to the truncated raw body.
func backendMessage(body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return util.TruncateString(string(body), 200)
}

// parseStructured extracts, repairs and parses the model's JSON. The repair
// pass runs before the first parse; delimiter balancing only after a parse
// failure. An unparseable body degrades to an empty mapping with a warning.
func (c *Client) parseStructured(content string) map[string]any {
	candidate := util.RepairJSON(util.ExtractJSON(content))

	var parsed map[string]any
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		balanced := util.BalanceDelimiters(candidate)
		if err2 := json.Unmarshal([]byte(balanced), &parsed); err2 != nil {
			c.logger.Warn("unparseable structured response, treating as empty",
				"error", err2,
				"response", util.TruncateString(content, 200))
			return map[string]any{}
		}
	}

	return normalizeKeys(parsed)
}

// normalizeKeys lower-cases mapping keys recursively so downstream lookups
// have a canonical case.
func normalizeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeKeys(t)
	case []any:
		for i, elem := range t {
			t[i] = normalizeValue(elem)
		}
		return t
	default:
		return v
	}
}
