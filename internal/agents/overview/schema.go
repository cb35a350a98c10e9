package overview

import "encoding/json"

// Result is a company overview.
type Result struct {
	Name          string   `json:"name"`
	WhatTheyDo    string   `json:"what_they_do"`
	Audience      string   `json:"audience"`
	Offerings     []string `json:"offerings"`
	TalkingPoints []string `json:"talking_points"`
}

// Schema validates Result.
var Schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"what_they_do": {"type": "string", "minLength": 1},
		"audience": {"type": "string"},
		"offerings": {"type": "array", "items": {"type": "string"}},
		"talking_points": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["name", "what_they_do", "audience", "offerings", "talking_points"],
	"additionalProperties": false
}`)
