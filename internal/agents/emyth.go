package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/tanjia/internal/agent"
	"github.com/jackzampolin/tanjia/internal/agents/emyth"
)

// RoleMapInput is the owner's description of their work.
type RoleMapInput struct {
	Options
	Business    string `json:"business,omitempty"`
	Description string `json:"description"`
	Goals       string `json:"goals,omitempty"`
	LeadID      string `json:"lead_id,omitempty"`
}

// RoleMap classifies the owner's work into E-Myth roles.
func (s *Service) RoleMap(ctx context.Context, in RoleMapInput) (*Output[emyth.Result], error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	res, err := s.run(ctx, task{
		name:      agent.TaskEMythRoleMap,
		systemKey: emyth.SystemPromptKey,
		userKey:   emyth.UserPromptKey,
		data: emyth.UserPromptData{
			Business:    in.Business,
			Description: in.Description,
			Goals:       in.Goals,
		},
		schema:      emyth.Schema,
		leadID:      in.LeadID,
		opts:        in.Options,
		inputLength: agent.TextLength(in.Description, in.Goals),
	})
	if err != nil {
		return nil, err
	}
	return decode[emyth.Result](res)
}
