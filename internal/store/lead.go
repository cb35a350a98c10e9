package store

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Stage is a step of the lead workflow.
type Stage string

const (
	StageListen  Stage = "listen"
	StageClarify Stage = "clarify"
	StageMap     Stage = "map"
	StageDecide  Stage = "decide"
	StageSupport Stage = "support"
)

// Stages lists the workflow in order.
var Stages = []Stage{StageListen, StageClarify, StageMap, StageDecide, StageSupport}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

// Next returns the following stage. Support is terminal and returns itself.
func (s Stage) Next() Stage {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1]
		}
	}
	return StageSupport
}

// ParseStage validates a stage name.
func ParseStage(v string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: stage %q", ErrInvalid, v)
	}
	return s, nil
}

// Lead is a person or company being worked.
type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Company   string    `json:"company,omitempty"`
	Website   string    `json:"website,omitempty"`
	Email     string    `json:"email,omitempty"`
	Source    string    `json:"source,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Stage     Stage     `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required fields and normalizes the stage.
func (l *Lead) Validate() error {
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if l.Stage == "" {
		l.Stage = StageListen
	}
	if !l.Stage.Valid() {
		return fmt.Errorf("%w: stage %q", ErrInvalid, l.Stage)
	}
	if l.Email != "" {
		if _, err := mail.ParseAddress(l.Email); err != nil {
			return fmt.Errorf("%w: email", ErrInvalid)
		}
	}
	return nil
}

// LeadPatch is a partial update. Nil fields are left unchanged.
type LeadPatch struct {
	Name    *string `json:"name,omitempty"`
	Company *string `json:"company,omitempty"`
	Website *string `json:"website,omitempty"`
	Email   *string `json:"email,omitempty"`
	Source  *string `json:"source,omitempty"`
	Notes   *string `json:"notes,omitempty"`
	Stage   *Stage  `json:"stage,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p LeadPatch) Empty() bool {
	return p.Name == nil && p.Company == nil && p.Website == nil &&
		p.Email == nil && p.Source == nil && p.Notes == nil && p.Stage == nil
}

// Apply writes the patch onto l and validates the result.
func (p LeadPatch) Apply(l *Lead) error {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Company != nil {
		l.Company = *p.Company
	}
	if p.Website != nil {
		l.Website = *p.Website
	}
	if p.Email != nil {
		l.Email = *p.Email
	}
	if p.Source != nil {
		l.Source = *p.Source
	}
	if p.Notes != nil {
		l.Notes = *p.Notes
	}
	if p.Stage != nil {
		l.Stage = *p.Stage
	}
	return l.Validate()
}

// LeadFilter narrows ListLeads.
type LeadFilter struct {
	Stage  Stage
	Search string // case-insensitive match on name, company, email
	Limit  int
	Offset int
}

func (l *Lead) matches(f LeadFilter) bool {
	if f.Stage != "" && l.Stage != f.Stage {
		return false
	}
	if f.Search == "" {
		return true
	}
	q := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(l.Name), q) ||
		strings.Contains(strings.ToLower(l.Company), q) ||
		strings.Contains(strings.ToLower(l.Email), q)
}
