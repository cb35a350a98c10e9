package schema

import (
	"embed"
	"fmt"
	"slices"
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// Schema is the DDL for one table and its indexes.
type Schema struct {
	Name string
	SQL  string
}

// registry lists tables in creation order. Tables with a lead_id foreign
// key come after leads.
var registry = []string{
	"leads",
	"snapshots",
	"drafts",
	"followups",
	"bookings",
	"llm_calls",
	"agent_runs",
	"prompts",
}

// All loads every schema in creation order.
func All() ([]Schema, error) {
	out := make([]Schema, 0, len(registry))
	for _, name := range registry {
		s, err := load(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Get loads one schema by table name.
func Get(name string) (*Schema, error) {
	if !slices.Contains(registry, name) {
		return nil, fmt.Errorf("schema not found: %s", name)
	}
	s, err := load(name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func load(name string) (Schema, error) {
	content, err := schemaFS.ReadFile("schemas/" + name + ".sql")
	if err != nil {
		return Schema{}, fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	return Schema{Name: name, SQL: string(content)}, nil
}
