package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockResponse is one scripted reply from a MockClient.
type MockResponse struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
}

// MockClient is an LLMClient for testing.
//
// Replies are chosen in this order: Respond (if set), then the next entry in
// Responses (the last entry repeats once the script runs out), then
// ResponseText / ResponseJSON.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string
	ResponseJSON json.RawMessage

	Responses []MockResponse
	Respond   func(call int, req *ChatRequest, tools []Tool) MockResponse

	// State
	requestCount atomic.Int64
	mu           sync.Mutex
	requests     []ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
	}
}

// NewScriptedClient returns a mock that replays responses in order.
func NewScriptedClient(responses ...MockResponse) *MockClient {
	c := NewMockClient()
	c.Responses = responses
	return c
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat sends a mock chat request.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	return c.doRequest(ctx, req, nil)
}

// ChatWithTools sends a mock chat request with tools.
func (c *MockClient) ChatWithTools(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	return c.doRequest(ctx, req, tools)
}

func (c *MockClient) doRequest(ctx context.Context, req *ChatRequest, tools []Tool) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]Message(nil), req.Messages...)
	c.requests = append(c.requests, snapshot)
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
		Attempts:  1,
	}

	if c.ShouldFail {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = "mock client configured to fail"
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("mock client configured to fail")
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = fmt.Sprintf("mock client failed after %d requests", c.FailAfter)
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("mock client failed after %d requests", c.FailAfter)
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			result.ErrorType = "context_cancelled"
			result.ErrorMessage = ctx.Err().Error()
			result.ExecutionTime = time.Since(start)
			return result, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		result.ErrorType = "context_cancelled"
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	resp := c.next(int(count), req, tools)
	if resp.Err != nil {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = resp.Err.Error()
		result.ExecutionTime = time.Since(start)
		return result, resp.Err
	}

	result.Success = true
	result.Content = resp.Content
	result.ToolCalls = resp.ToolCalls
	result.ExecutionTime = time.Since(start)

	// Rough token estimate
	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4
	}
	result.PromptTokens = promptTokens
	result.CompletionTokens = len(result.Content) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens
	result.CostUSD = 0.001

	if req.ResponseFormat != nil && result.Content != "" {
		if parsed, err := ParseStructuredJSON(result.Content); err == nil {
			result.ParsedJSON = parsed
		}
	}

	return result, nil
}

func (c *MockClient) next(call int, req *ChatRequest, tools []Tool) MockResponse {
	if c.Respond != nil {
		return c.Respond(call, req, tools)
	}
	if n := len(c.Responses); n > 0 {
		idx := call - 1
		if idx >= n {
			idx = n - 1
		}
		return c.Responses[idx]
	}
	if req.ResponseFormat != nil && len(c.ResponseJSON) > 0 {
		return MockResponse{Content: string(c.ResponseJSON)}
	}
	return MockResponse{Content: c.ResponseText}
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns copies of every request received so far.
func (c *MockClient) Requests() []ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChatRequest(nil), c.requests...)
}

// Reset resets the request counter and history.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

// MockToolCall builds a function tool call for scripted responses.
func MockToolCall(id, name, arguments string) ToolCall {
	return ToolCall{
		ID:   id,
		Type: "function",
		Function: ToolCallFunction{
			Name:      name,
			Arguments: arguments,
		},
	}
}

// Verify interface
var _ LLMClient = (*MockClient)(nil)
