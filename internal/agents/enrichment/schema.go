package enrichment

import "encoding/json"

// Result is the structured output of a lead enrichment run.
type Result struct {
	Summary        string   `json:"summary"`
	Industry       string   `json:"industry"`
	Signals        []string `json:"signals"`
	SuggestedStage string   `json:"suggested_stage"`
	Confidence     float64  `json:"confidence"`
}

// Schema validates Result.
var Schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"industry": {"type": "string"},
		"signals": {"type": "array", "items": {"type": "string"}},
		"suggested_stage": {"type": "string", "enum": ["listen", "clarify", "map", "decide", "support"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["summary", "industry", "signals", "suggested_stage", "confidence"],
	"additionalProperties": false
}`)
