// Package llmcall records every model request made on behalf of a lead so
// cost and prompt versions can be traced afterwards.
package llmcall

import (
	"encoding/json"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jackzampolin/tanjia/internal/providers"
)

// maxResponseLen bounds the stored response text.
const maxResponseLen = 20000

// Call is one recorded model request. Response is capped at maxResponseLen
// bytes; PromptCID is the content hash of the prompt text that was sent.
type Call struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	LeadID string `json:"lead_id,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	Task   string `json:"task,omitempty"`

	PromptKey string `json:"prompt_key"`
	PromptCID string `json:"prompt_cid,omitempty"`

	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`

	Response  string          `json:"response"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions ties a call to the lead, run and prompt that produced it.
// All fields are optional; a missing PromptKey is stored as "".
type RecordOptions struct {
	LeadID string
	RunID  string
	Task   string

	PromptKey string
	PromptCID string

	Temperature *float64

	Logger *slog.Logger
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	response := result.Content
	if len(response) > maxResponseLen {
		response = truncateUTF8(response, maxResponseLen)
	}

	call := &Call{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		LatencyMs:    int(result.ExecutionTime.Milliseconds()),
		LeadID:       opts.LeadID,
		RunID:        opts.RunID,
		Task:         opts.Task,
		PromptKey:    opts.PromptKey,
		PromptCID:    opts.PromptCID,
		Provider:     result.Provider,
		Model:        result.ModelUsed,
		Temperature:  opts.Temperature,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		CostUSD:      result.CostUSD,
		Response:     response,
		Success:      result.Success,
	}

	if !result.Success {
		call.Error = result.ErrorMessage
	}

	if len(result.ToolCalls) == 0 {
		return call
	}
	data, err := json.Marshal(result.ToolCalls)
	if err != nil {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("dropping tool calls from llm call record", "error", err, "count", len(result.ToolCalls))
		return call
	}
	call.ToolCalls = data
	return call
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
