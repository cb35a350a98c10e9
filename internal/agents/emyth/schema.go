package emyth

import "encoding/json"

// Role names.
const (
	RoleEntrepreneur = "entrepreneur"
	RoleManager      = "manager"
	RoleTechnician   = "technician"
)

// RoleShare is the owner's time in one role.
type RoleShare struct {
	Percent    float64  `json:"percent"`
	Activities []string `json:"activities"`
}

// Result is an E-Myth role map.
type Result struct {
	Summary         string               `json:"summary"`
	DominantRole    string               `json:"dominant_role"`
	Roles           map[string]RoleShare `json:"roles"`
	Recommendations []string             `json:"recommendations"`
}

// Schema validates Result.
var Schema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"dominant_role": {"type": "string", "enum": ["entrepreneur", "manager", "technician"]},
		"roles": {
			"type": "object",
			"properties": {
				"entrepreneur": {"$ref": "#/definitions/share"},
				"manager": {"$ref": "#/definitions/share"},
				"technician": {"$ref": "#/definitions/share"}
			},
			"required": ["entrepreneur", "manager", "technician"],
			"additionalProperties": false
		},
		"recommendations": {"type": "array", "items": {"type": "string"}, "minItems": 1}
	},
	"required": ["summary", "dominant_role", "roles", "recommendations"],
	"additionalProperties": false,
	"definitions": {
		"share": {
			"type": "object",
			"properties": {
				"percent": {"type": "number", "minimum": 0, "maximum": 100},
				"activities": {"type": "array", "items": {"type": "string"}}
			},
			"required": ["percent", "activities"],
			"additionalProperties": false
		}
	}
}`)
