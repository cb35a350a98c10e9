package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/tanjia/internal/agent"
	"github.com/jackzampolin/tanjia/internal/agents/enrichment"
	"github.com/jackzampolin/tanjia/internal/store"
)

// EnrichInput configures a lead enrichment run.
type EnrichInput struct {
	Options
	Focus string `json:"focus,omitempty"`
}

// Enrichment is the result of EnrichLead.
type Enrichment struct {
	Output[enrichment.Result]
	Snapshot *store.Snapshot `json:"snapshot"`
}

// snapshotMeta is stored as the snapshot's metadata.
type snapshotMeta struct {
	RunID string        `json:"run_id"`
	Meta  agent.RunMeta `json:"meta"`
	Trace *agent.Trace  `json:"trace"`
}

// EnrichLead researches a lead's website and stores the result as a snapshot.
func (s *Service) EnrichLead(ctx context.Context, leadID string, in EnrichInput) (*Enrichment, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(lead.Website) == "" && strings.TrimSpace(lead.Company) == "" {
		return nil, fmt.Errorf("%w: lead has no website or company to research", ErrInvalidInput)
	}

	res, err := s.run(ctx, task{
		name:      agent.TaskLeadEnrichment,
		systemKey: enrichment.SystemPromptKey,
		userKey:   enrichment.UserPromptKey,
		data: enrichment.UserPromptData{
			Name:    lead.Name,
			Company: lead.Company,
			Website: lead.Website,
			Email:   lead.Email,
			Source:  lead.Source,
			Notes:   lead.Notes,
			Stage:   string(lead.Stage),
			Focus:   in.Focus,
		},
		tools:       s.researchTools(),
		schema:      enrichment.Schema,
		leadID:      lead.ID,
		opts:        in.Options,
		inputLength: agent.TextLength(lead.Notes, in.Focus),
	})
	if err != nil {
		return nil, err
	}
	out, err := decode[enrichment.Result](res)
	if err != nil {
		return nil, err
	}

	meta, err := json.Marshal(snapshotMeta{RunID: res.ID, Meta: res.Meta, Trace: res.Trace})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot metadata: %w", err)
	}
	snap := &store.Snapshot{
		LeadID:   lead.ID,
		Kind:     string(agent.TaskLeadEnrichment),
		Data:     res.Parsed,
		Metadata: meta,
		Model:    res.Meta.Model,
	}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	s.logger.Info("lead enriched", "lead_id", lead.ID, "run_id", res.ID,
		"model", res.Meta.Model, "snapshot_id", snap.ID)
	return &Enrichment{Output: *out, Snapshot: snap}, nil
}

// latestResearch returns the newest enrichment summary for a lead, or "".
func (s *Service) latestResearch(ctx context.Context, leadID string) string {
	snaps, err := s.store.ListSnapshots(ctx, leadID, 10)
	if err != nil {
		s.logger.Warn("failed to load snapshots", "lead_id", leadID, "error", err)
		return ""
	}
	for _, snap := range snaps {
		if snap.Kind != string(agent.TaskLeadEnrichment) {
			continue
		}
		var r enrichment.Result
		if err := json.Unmarshal(snap.Data, &r); err != nil {
			continue
		}
		if len(r.Signals) == 0 {
			return r.Summary
		}
		return r.Summary + "\nSignals: " + strings.Join(r.Signals, "; ")
	}
	return ""
}
