package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/tanjia/internal/agent"
	"github.com/jackzampolin/tanjia/internal/agents/outreach"
	"github.com/jackzampolin/tanjia/internal/store"
)

// OutreachInput configures an outreach draft.
type OutreachInput struct {
	Options
	Channel string `json:"channel,omitempty"`
	Goal    string `json:"goal,omitempty"`
}

// OutreachDraft is the result of DraftOutreach.
type OutreachDraft struct {
	Output[string]
	Draft *store.Draft `json:"draft"`
}

// DraftOutreach writes a first-touch message for a lead and stores it as a
// draft. The latest enrichment snapshot, if any, is passed as research.
func (s *Service) DraftOutreach(ctx context.Context, leadID string, in OutreachInput) (*OutreachDraft, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	channel := strings.ToLower(strings.TrimSpace(in.Channel))
	if channel == "" {
		channel = outreach.DefaultChannel
	}

	res, err := s.run(ctx, task{
		name:      agent.TaskOutreachDraft,
		systemKey: outreach.SystemPromptKey,
		userKey:   outreach.UserPromptKey,
		data: outreach.UserPromptData{
			Name:     lead.Name,
			Company:  lead.Company,
			Stage:    string(lead.Stage),
			Channel:  channel,
			Notes:    lead.Notes,
			Research: s.latestResearch(ctx, lead.ID),
			Goal:     in.Goal,
		},
		leadID:      lead.ID,
		opts:        in.Options,
		inputLength: agent.TextLength(lead.Notes, in.Goal),
	})
	if err != nil {
		return nil, err
	}
	out, err := textOutput(res)
	if err != nil {
		return nil, err
	}

	draft := &store.Draft{
		LeadID:  lead.ID,
		Kind:    string(agent.TaskOutreachDraft),
		Channel: channel,
		Content: out.Result,
		Model:   res.Meta.Model,
	}
	if err := s.store.CreateDraft(ctx, draft); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	return &OutreachDraft{Output: *out, Draft: draft}, nil
}
