package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// maxRepairEcho caps how much of a failed output is echoed back in a repair prompt.
const maxRepairEcho = 12000

// ErrNoJSON is returned when model output contains no parseable JSON value.
var ErrNoJSON = errors.New("no JSON found in structured output")

// adaptedResponseFormat returns the response format to send upstream.
// OpenRouter may route anthropic/* models to backends that reject native
// structured outputs, so those rely on the prompt plus local validation.
func adaptedResponseFormat(model string, rf *ResponseFormat) (*openRouterResponseFormat, error) {
	if rf == nil || isAnthropicModel(model) {
		return nil, nil
	}
	if len(rf.JSONSchema) > 0 && !json.Valid(rf.JSONSchema) {
		return nil, fmt.Errorf("invalid structured schema JSON")
	}
	return &openRouterResponseFormat{
		Type:       rf.Type,
		JSONSchema: rf.JSONSchema,
	}, nil
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "anthropic/")
}

// ParseStructuredJSON pulls a JSON value out of model output. It tries the
// whole text, then the body of a markdown code fence, then the first
// balanced object or array in the text. The result is compacted.
func ParseStructuredJSON(content string) (json.RawMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty structured output")
	}

	for _, candidate := range []string{content, fencedBody(content), firstJSONValue(content)} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || !json.Valid([]byte(candidate)) {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(candidate)); err != nil {
			return nil, fmt.Errorf("failed to normalize structured output: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, ErrNoJSON
}

// fencedBody returns the contents of the first ``` fence, ignoring any
// language tag on the opening line.
func fencedBody(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return ""
	}
	rest := content[start+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return ""
	}
	rest = rest[nl+1:]
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// firstJSONValue returns the first balanced {...} or [...] span, skipping
// brackets inside string literals.
func firstJSONValue(content string) string {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// compiled schemas keyed by their canonical bytes; task schemas are fixed,
// so each is compiled once per process.
var schemaCache sync.Map

// ValidateStructuredJSON validates parsed JSON against the canonical schema.
// The schema may be bare or wrapped as {"name","strict","schema"} or
// {"json_schema":{"schema":...}}.
func ValidateStructuredJSON(schemaRaw, parsed json.RawMessage) error {
	if len(schemaRaw) == 0 || len(parsed) == 0 {
		return nil
	}

	schema, err := compileSchema(schemaRaw)
	if err != nil {
		return err
	}

	var doc any
	if err := json.Unmarshal(parsed, &doc); err != nil {
		return fmt.Errorf("failed to decode structured JSON for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("structured output does not match schema: %w", err)
	}
	return nil
}

func compileSchema(schemaRaw json.RawMessage) (*jsonschema.Schema, error) {
	if !gjson.ValidBytes(schemaRaw) {
		return nil, fmt.Errorf("invalid structured schema JSON")
	}
	core := []byte(validationSchema(schemaRaw))
	key := string(core)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(core)); err != nil {
		return nil, fmt.Errorf("failed to load structured schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile structured schema: %w", err)
	}
	schemaCache.Store(key, schema)
	return schema, nil
}

// validationSchema unwraps the chat-completion envelopes around a schema.
func validationSchema(schemaRaw json.RawMessage) string {
	for _, path := range []string{"schema", "json_schema.schema"} {
		if inner := gjson.GetBytes(schemaRaw, path); inner.IsObject() {
			return inner.Raw
		}
	}
	return string(schemaRaw)
}

// StructuredRepairPrompt asks a model to rewrite a previous output as JSON
// matching schemaRaw.
func StructuredRepairPrompt(schemaRaw json.RawMessage, lastOutput string, issue error) string {
	schemaText := validationSchema(schemaRaw)
	if schemaText == "" {
		schemaText = "(any valid JSON object)"
	}
	lastOutput = strings.TrimSpace(lastOutput)
	if len(lastOutput) > maxRepairEcho {
		lastOutput = lastOutput[:maxRepairEcho] + "\n...[truncated]"
	}

	var b strings.Builder
	b.WriteString("Your previous answer could not be used. Reply with ONLY the corrected JSON: ")
	b.WriteString("no markdown, no commentary, nothing before or after it.\n\n")
	fmt.Fprintf(&b, "JSON schema to satisfy:\n%s\n\n", schemaText)
	fmt.Fprintf(&b, "Previous answer:\n%s\n\n", lastOutput)
	fmt.Fprintf(&b, "Problem:\n%v", issue)
	return b.String()
}

// JSONSchemaFormat wraps a bare schema in the {"name","strict","schema"}
// envelope used by chat completion APIs.
func JSONSchemaFormat(name string, schema json.RawMessage) *ResponseFormat {
	wrapped, err := json.Marshal(map[string]any{
		"name":   name,
		"strict": true,
		"schema": schema,
	})
	if err != nil {
		return &ResponseFormat{Type: "json_object"}
	}
	return &ResponseFormat{Type: "json_schema", JSONSchema: wrapped}
}
