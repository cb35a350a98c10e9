package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/providers"
)

const repairSystemPrompt = "You repair malformed JSON. Respond with a single JSON object that satisfies the schema. No prose, no code fences."

// ParseResult is the outcome of TryParseWithRepair.
type ParseResult struct {
	OK       bool
	Value    json.RawMessage
	Err      error
	Repaired bool
}

// ParseAndValidate extracts a JSON object from raw model output and checks it
// against schema. An empty schema only requires valid JSON.
func ParseAndValidate(raw string, schema json.RawMessage) (json.RawMessage, error) {
	v, err := providers.ParseStructuredJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := providers.ValidateStructuredJSON(schema, v); err != nil {
		return nil, err
	}
	return v, nil
}

// SchemaValidator returns a RunRequest.Validate func for schema.
func SchemaValidator(schema json.RawMessage) func(string) (json.RawMessage, error) {
	return func(content string) (json.RawMessage, error) {
		return ParseAndValidate(content, schema)
	}
}

// TryParseWithRepair parses raw directly and, if that fails, asks the model
// exactly once to repair it. A nil client skips the repair call.
func TryParseWithRepair(ctx context.Context, client providers.LLMClient, model, raw string, schema json.RawMessage) ParseResult {
	return tryParseWithRepair(ctx, client, model, raw, schema, nil)
}

// Repair runs TryParseWithRepair with the runner's client and default model
// and records the repair call.
func (r *Runner) Repair(ctx context.Context, raw string, schema json.RawMessage, opts llmcall.RecordOptions) ParseResult {
	if !r.Configured() {
		return tryParseWithRepair(ctx, nil, "", raw, schema, nil)
	}
	onCall := func(res *providers.ChatResult) {
		if r.recorder == nil {
			return
		}
		if opts.Logger == nil {
			opts.Logger = r.logger
		}
		r.recorder.Record(ctx, res, opts)
	}
	return tryParseWithRepair(ctx, r.client, r.tiers.Default.Model, raw, schema, onCall)
}

func tryParseWithRepair(ctx context.Context, client providers.LLMClient, model, raw string, schema json.RawMessage, onCall func(*providers.ChatResult)) ParseResult {
	v, err := ParseAndValidate(raw, schema)
	if err == nil {
		return ParseResult{OK: true, Value: v}
	}
	if client == nil {
		return ParseResult{Err: err}
	}

	res, cerr := client.Chat(ctx, &providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: repairSystemPrompt},
			{Role: providers.RoleUser, Content: providers.StructuredRepairPrompt(schema, raw, err)},
		},
		ResponseFormat: &providers.ResponseFormat{Type: "json_object"},
	})
	if res != nil && onCall != nil {
		onCall(res)
	}
	if cerr != nil {
		return ParseResult{Err: fmt.Errorf("repair call failed: %w (original error: %v)", cerr, err)}
	}
	if res == nil {
		return ParseResult{Err: err}
	}

	v, rerr := ParseAndValidate(res.Content, schema)
	if rerr != nil {
		return ParseResult{Err: fmt.Errorf("repaired output still invalid: %w", rerr)}
	}
	return ParseResult{OK: true, Value: v, Repaired: true}
}
