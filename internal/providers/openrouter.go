package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	openRouterDefaultModel = "anthropic/claude-3.5-haiku"
	openRouterMaxBackoff   = 10 * time.Second
)

// OpenRouterConfig configures an OpenRouterClient. Zero values take defaults:
// 120s timeout, 120 requests per minute, 3 attempts, 1s base retry delay.
type OpenRouterConfig struct {
	APIKey            string
	BaseURL           string
	DefaultModel      string
	Timeout           time.Duration
	RequestsPerMinute int
	MaxRetries        int
	RetryDelay        time.Duration
}

func (cfg OpenRouterConfig) withDefaults() OpenRouterConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openRouterDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return cfg
}

// OpenRouterClient talks to the OpenRouter chat completions API over plain
// HTTP so the usage.cost extension comes back with every response.
type OpenRouterClient struct {
	cfg     OpenRouterConfig
	client  *http.Client
	limiter *RateLimiter
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	cfg = cfg.withDefaults()
	return &OpenRouterClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RequestsPerMinute),
	}
}

func (c *OpenRouterClient) Name() string { return OpenRouterName }

func (c *OpenRouterClient) RequestsPerMinute() int { return c.cfg.RequestsPerMinute }

func (c *OpenRouterClient) MaxRetries() int { return c.cfg.MaxRetries }

func (c *OpenRouterClient) RetryDelayBase() time.Duration { return c.cfg.RetryDelay }

// RateLimitStatus reports the outbound limiter state.
func (c *OpenRouterClient) RateLimitStatus() RateLimiterStatus {
	return c.limiter.Status()
}

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	return c.doChat(ctx, req, nil)
}

// ChatWithTools sends a chat request with tool definitions.
func (c *OpenRouterClient) ChatWithTools(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	return c.doChat(ctx, req, tools)
}

func (c *OpenRouterClient) doChat(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	start := time.Now()
	result := &ChatResult{
		RequestID: req.RequestID,
		Provider:  OpenRouterName,
		Attempts:  1,
	}
	if result.RequestID == "" {
		result.RequestID = uuid.New().String()
	}
	fail := func(kind string, err error) (*ChatResult, error) {
		result.Success = false
		result.ErrorType = kind
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}
	body, err := buildOpenRouterRequest(model, req, tools)
	if err != nil {
		return fail("schema_error", err)
	}

	resp, attempts, err := c.post(ctx, "/chat/completions", body)
	result.Attempts = attempts
	if err != nil {
		return fail("http_error", err)
	}
	if resp.Error != nil && len(resp.Choices) == 0 {
		return fail("api_error", fmt.Errorf("OpenRouter API error: %s", resp.Error.Message))
	}

	choice := resp.Choices[0].Message
	content, err := messageText(choice.Content)
	if err != nil {
		return fail("content_marshal_error", err)
	}

	result.Success = true
	result.Content = content
	result.ModelUsed = resp.Model
	if result.ModelUsed == "" {
		result.ModelUsed = model
	}
	result.PromptTokens = resp.Usage.PromptTokens
	result.CompletionTokens = resp.Usage.CompletionTokens
	result.TotalTokens = resp.Usage.TotalTokens
	result.CostUSD = resp.Usage.Cost

	// Only parse here; schema validation belongs to the caller, which may
	// choose to repair.
	if req.ResponseFormat != nil && content != "" {
		if parsed, err := ParseStructuredJSON(content); err == nil {
			result.ParsedJSON = parsed
		} else {
			result.ErrorType = "json_parse"
			result.ErrorMessage = err.Error()
		}
	}

	for _, tc := range choice.ToolCalls {
		if tc.Type == "" {
			tc.Type = "function"
		}
		result.ToolCalls = append(result.ToolCalls, tc)
	}

	result.ExecutionTime = time.Since(start)
	return result, nil
}

func buildOpenRouterRequest(model string, req *ChatRequest, tools []Tool) (*openRouterRequest, error) {
	rf, err := adaptedResponseFormat(model, req.ResponseFormat)
	if err != nil {
		return nil, err
	}
	out := &openRouterRequest{
		Model:          model,
		Messages:       make([]openRouterMessage, len(req.Messages)),
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: rf,
		Usage:          &openRouterUsageRequest{Include: true},
	}
	for i, m := range req.Messages {
		out.Messages[i] = openRouterMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}
	if len(tools) > 0 {
		out.Tools = tools
	}
	return out, nil
}

// messageText flattens a message content field. Some models return content
// parts as an array instead of a string.
func messageText(content any) (string, error) {
	switch v := content.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal content: %w", err)
		}
		return string(b), nil
	}
}

// post sends body with retries and returns the decoded response and the
// number of attempts made. Retries back off exponentially with jitter; 429s
// also pause the shared limiter for Retry-After. Every retry tags the last
// user message with a nonce so upstream caches don't replay a bad answer.
func (c *OpenRouterClient) post(ctx context.Context, path string, body *openRouterRequest) (*openRouterResponse, int, error) {
	var (
		resp     *openRouterResponse
		attempts int
	)
	err := retry.Do(
		func() error {
			attempts++
			r, err := c.send(ctx, path, body)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxRetries)),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(openRouterMaxBackoff),
		retry.MaxJitter(max(c.cfg.RetryDelay/2, time.Millisecond)),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, _ error) {
			injectNonce(body, int(n)+1)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}
		if attempts >= c.cfg.MaxRetries {
			return nil, attempts, fmt.Errorf("max retries (%d) exceeded: %w", c.cfg.MaxRetries, err)
		}
		return nil, attempts, err
	}
	return resp, attempts, nil
}

// send makes one HTTP round trip. Errors that retrying cannot fix are
// marked unrecoverable.
func (c *OpenRouterClient) send(ctx context.Context, path string, body *openRouterRequest) (*openRouterResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Unrecoverable(err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/tanjia")
	req.Header.Set("X-Title", "Tanjia")

	httpResp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Unrecoverable(ctx.Err())
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	raw, err := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch status := httpResp.StatusCode; {
	case status == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		c.limiter.Record429(retryAfter)
		return nil, &RateLimitError{
			Message:    "OpenRouter rate limited: " + string(raw),
			RetryAfter: retryAfter,
			StatusCode: status,
		}
	case retryableStatus(status):
		return nil, fmt.Errorf("OpenRouter error (status %d): %s", status, raw)
	case status != http.StatusOK:
		return nil, retry.Unrecoverable(fmt.Errorf("OpenRouter error (status %d): %s", status, raw))
	}

	var out openRouterResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if err := transientResponseError(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// retryableStatus covers 5xx (including Cloudflare 52x) and the 413/422
// answers OpenRouter gives for stale cached payloads.
func retryableStatus(status int) bool {
	return status == http.StatusRequestEntityTooLarge ||
		status == http.StatusUnprocessableEntity ||
		status >= 500
}

// transientResponseError returns an error for a 200 response that should be
// retried: an upstream overload reported in the body or no choices at all.
func transientResponseError(resp *openRouterResponse) error {
	if resp.Error != nil {
		switch fmt.Sprint(resp.Error.Code) {
		case "overloaded", "rate_limit_exceeded", "500", "502", "503":
			return fmt.Errorf("OpenRouter API error (retryable): %s", resp.Error.Message)
		}
		return nil
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty choices in response (model=%s, id=%s)", resp.Model, resp.ID)
	}
	return nil
}

func injectNonce(req *openRouterRequest, attempt int) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			req.Messages[i].Content += fmt.Sprintf("\n<!-- retry_%d_id: %s -->", attempt, uuid.New().String()[:16])
			return
		}
	}
}

var _ LLMClient = (*OpenRouterClient)(nil)
