package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/tanjia/internal/agent"
	"github.com/jackzampolin/tanjia/internal/agents/overview"
)

// OverviewInput names the company to research.
type OverviewInput struct {
	Options
	Company string `json:"company"`
	Website string `json:"website,omitempty"`
	Context string `json:"context,omitempty"`
	LeadID  string `json:"lead_id,omitempty"`
}

// CompanyOverview researches a company and returns a structured overview.
func (s *Service) CompanyOverview(ctx context.Context, in OverviewInput) (*Output[overview.Result], error) {
	in.Company = strings.TrimSpace(in.Company)
	in.Website = strings.TrimSpace(in.Website)
	if in.Company == "" && in.Website == "" {
		return nil, fmt.Errorf("%w: company or website is required", ErrInvalidInput)
	}
	if in.Company == "" {
		in.Company = in.Website
	}

	res, err := s.run(ctx, task{
		name:      agent.TaskCompanyOverview,
		systemKey: overview.SystemPromptKey,
		userKey:   overview.UserPromptKey,
		data: overview.UserPromptData{
			Company: in.Company,
			Website: in.Website,
			Context: in.Context,
		},
		tools:       s.researchTools(),
		schema:      overview.Schema,
		leadID:      in.LeadID,
		opts:        in.Options,
		inputLength: agent.TextLength(in.Context),
	})
	if err != nil {
		return nil, err
	}
	return decode[overview.Result](res)
}
