package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jackzampolin/tanjia/internal/agent/observability"
	"github.com/jackzampolin/tanjia/internal/llmcall"
	"github.com/jackzampolin/tanjia/internal/prompts"
)

const codeForeignKeyViolation = "23503"

// missingParent maps a foreign key violation to ErrNotFound.
func missingParent(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return ErrNotFound
	}
	return err
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (p *Postgres) CreateSnapshot(ctx context.Context, s *Snapshot) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	err := p.pool.QueryRow(ctx, `
		insert into lead_snapshots (id, lead_id, kind, data, metadata, model)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, s.ID, s.LeadID, s.Kind, jsonOrEmpty(s.Data), jsonOrEmpty(s.Metadata), s.Model).Scan(&s.CreatedAt)
	if err != nil {
		return missingParent(err)
	}
	return nil
}

func (p *Postgres) ListSnapshots(ctx context.Context, leadID string, limit int) ([]Snapshot, error) {
	rows, err := p.pool.Query(ctx, `
		select id, lead_id, kind, data, metadata, model, created_at
		from lead_snapshots where lead_id = $1
		order by created_at desc limit $2
	`, leadID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var s Snapshot
		var data, meta []byte
		if err := rows.Scan(&s.ID, &s.LeadID, &s.Kind, &data, &meta, &s.Model, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Data, s.Metadata = data, meta
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateDraft(ctx context.Context, d *Draft) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	err := p.pool.QueryRow(ctx, `
		insert into drafts (id, lead_id, kind, channel, content, model)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, d.ID, d.LeadID, d.Kind, d.Channel, d.Content, d.Model).Scan(&d.CreatedAt)
	if err != nil {
		return missingParent(err)
	}
	return nil
}

func (p *Postgres) ListDrafts(ctx context.Context, leadID string, limit int) ([]Draft, error) {
	rows, err := p.pool.Query(ctx, `
		select id, lead_id, kind, channel, content, model, created_at
		from drafts where lead_id = $1
		order by created_at desc limit $2
	`, leadID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	out := []Draft{}
	for rows.Next() {
		var d Draft
		if err := rows.Scan(&d.ID, &d.LeadID, &d.Kind, &d.Channel, &d.Content, &d.Model, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const followUpColumns = `id, lead_id, due_at, note, completed_at, notified_at, created_at`

func scanFollowUp(row pgx.Row) (*FollowUp, error) {
	var f FollowUp
	err := row.Scan(&f.ID, &f.LeadID, &f.DueAt, &f.Note, &f.CompletedAt, &f.NotifiedAt, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (p *Postgres) CreateFollowUp(ctx context.Context, f *FollowUp) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	err := p.pool.QueryRow(ctx, `
		insert into followups (id, lead_id, due_at, note)
		values ($1, $2, $3, $4)
		returning created_at
	`, f.ID, f.LeadID, f.DueAt, f.Note).Scan(&f.CreatedAt)
	if err != nil {
		return missingParent(err)
	}
	return nil
}

func (p *Postgres) ListFollowUps(ctx context.Context, f FollowUpFilter) ([]FollowUp, error) {
	var (
		conds []string
		args  []any
	)
	if f.LeadID != "" {
		args = append(args, f.LeadID)
		conds = append(conds, fmt.Sprintf("lead_id = $%d", len(args)))
	}
	if f.DueBefore != nil {
		args = append(args, *f.DueBefore)
		conds = append(conds, fmt.Sprintf("due_at <= $%d", len(args)), "completed_at is null")
	} else if !f.IncludeCompleted {
		conds = append(conds, "completed_at is null")
	}
	if f.Unnotified {
		conds = append(conds, "notified_at is null")
	}

	q := `select ` + followUpColumns + ` from followups`
	if len(conds) > 0 {
		q += ` where ` + strings.Join(conds, " and ")
	}
	args = append(args, clampLimit(f.Limit), clampOffset(f.Offset))
	q += fmt.Sprintf(` order by due_at asc, id limit $%d offset $%d`, len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list followups: %w", err)
	}
	defer rows.Close()

	out := []FollowUp{}
	for rows.Next() {
		fu, err := scanFollowUp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *fu)
	}
	return out, rows.Err()
}

func (p *Postgres) CompleteFollowUp(ctx context.Context, id string) (*FollowUp, error) {
	return scanFollowUp(p.pool.QueryRow(ctx, `
		update followups set completed_at = coalesce(completed_at, now())
		where id = $1
		returning `+followUpColumns, id))
}

func (p *Postgres) MarkFollowUpNotified(ctx context.Context, id string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `update followups set notified_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark followup notified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpsertBooking(ctx context.Context, b *Booking) (bool, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	var (
		leadID  *string
		created bool
	)
	err := p.pool.QueryRow(ctx, `
		insert into bookings (id, external_id, lead_id, title, status, trigger_event,
			start_time, end_time, attendee_email, attendee_name, payload)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		on conflict (external_id) do update set
			lead_id = coalesce(excluded.lead_id, bookings.lead_id),
			title = excluded.title,
			status = excluded.status,
			trigger_event = excluded.trigger_event,
			start_time = coalesce(excluded.start_time, bookings.start_time),
			end_time = coalesce(excluded.end_time, bookings.end_time),
			attendee_email = excluded.attendee_email,
			attendee_name = excluded.attendee_name,
			payload = excluded.payload,
			updated_at = now()
		returning id, lead_id, start_time, end_time, created_at, updated_at, (xmax = 0)
	`, b.ID, b.ExternalID, nullableText(b.LeadID), b.Title, b.Status, b.TriggerEvent,
		b.StartTime, b.EndTime, b.AttendeeEmail, b.AttendeeName, jsonOrEmpty(b.Payload),
	).Scan(&b.ID, &leadID, &b.StartTime, &b.EndTime, &b.CreatedAt, &b.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert booking: %w", missingParent(err))
	}
	if leadID != nil {
		b.LeadID = *leadID
	}
	return created, nil
}

func (p *Postgres) ListBookings(ctx context.Context, limit, offset int) ([]Booking, error) {
	rows, err := p.pool.Query(ctx, `
		select id, external_id, lead_id, title, status, trigger_event, start_time, end_time,
			attendee_email, attendee_name, payload, created_at, updated_at
		from bookings
		order by updated_at desc, id
		limit $1 offset $2
	`, clampLimit(limit), clampOffset(offset))
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	out := []Booking{}
	for rows.Next() {
		var b Booking
		var leadID *string
		var payload []byte
		if err := rows.Scan(&b.ID, &b.ExternalID, &leadID, &b.Title, &b.Status, &b.TriggerEvent,
			&b.StartTime, &b.EndTime, &b.AttendeeEmail, &b.AttendeeName, &payload, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		if leadID != nil {
			b.LeadID = *leadID
		}
		b.Payload = payload
		out = append(out, b)
	}
	return out, rows.Err()
}

const llmCallColumns = `id, timestamp, latency_ms, lead_id, run_id, task, prompt_key, prompt_cid,
	provider, model, temperature, input_tokens, output_tokens, cost_usd, response, tool_calls, success, error`

func scanLLMCall(row pgx.Row) (*llmcall.Call, error) {
	var c llmcall.Call
	var toolCalls []byte
	err := row.Scan(&c.ID, &c.Timestamp, &c.LatencyMs, &c.LeadID, &c.RunID, &c.Task, &c.PromptKey, &c.PromptCID,
		&c.Provider, &c.Model, &c.Temperature, &c.InputTokens, &c.OutputTokens, &c.CostUSD, &c.Response,
		&toolCalls, &c.Success, &c.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ToolCalls = toolCalls
	return &c, nil
}

func (p *Postgres) InsertLLMCall(ctx context.Context, c *llmcall.Call) error {
	_, err := p.pool.Exec(ctx, `
		insert into llm_calls (`+llmCallColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, c.ID, c.Timestamp, c.LatencyMs, c.LeadID, c.RunID, c.Task, c.PromptKey, c.PromptCID,
		c.Provider, c.Model, c.Temperature, c.InputTokens, c.OutputTokens, c.CostUSD, c.Response,
		nullableJSON(c.ToolCalls), c.Success, c.Error)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

func (p *Postgres) GetLLMCall(ctx context.Context, id string) (*llmcall.Call, error) {
	return scanLLMCall(p.pool.QueryRow(ctx, `select `+llmCallColumns+` from llm_calls where id = $1`, id))
}

func (p *Postgres) ListLLMCalls(ctx context.Context, f llmcall.QueryFilter) ([]llmcall.Call, error) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if f.LeadID != "" {
		add("lead_id = $%d", f.LeadID)
	}
	if f.RunID != "" {
		add("run_id = $%d", f.RunID)
	}
	if f.PromptKey != "" {
		add("prompt_key = $%d", f.PromptKey)
	}
	if f.Provider != "" {
		add("provider = $%d", f.Provider)
	}
	if f.Model != "" {
		add("model = $%d", f.Model)
	}
	if f.After != nil {
		add("timestamp > $%d", *f.After)
	}
	if f.Before != nil {
		add("timestamp < $%d", *f.Before)
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}

	q := `select ` + llmCallColumns + ` from llm_calls`
	if len(conds) > 0 {
		q += ` where ` + strings.Join(conds, " and ")
	}
	args = append(args, clampLimit(f.Limit), clampOffset(f.Offset))
	q += fmt.Sprintf(` order by timestamp desc limit $%d offset $%d`, len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list llm calls: %w", err)
	}
	defer rows.Close()

	out := []llmcall.Call{}
	for rows.Next() {
		c, err := scanLLMCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const agentRunColumns = `id, task, lead_id, started_at, completed_at, duration_ms, model, attempts,
	escalation_reason, status, success, error, trace`

func scanAgentRun(row pgx.Row) (*observability.AgentRun, error) {
	var r observability.AgentRun
	var trace []byte
	err := row.Scan(&r.ID, &r.Task, &r.LeadID, &r.StartedAt, &r.CompletedAt, &r.DurationMs, &r.Model,
		&r.Attempts, &r.EscalationReason, &r.Status, &r.Success, &r.Error, &trace)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Trace = trace
	return &r, nil
}

func (p *Postgres) InsertAgentRun(ctx context.Context, r *observability.AgentRun) error {
	_, err := p.pool.Exec(ctx, `
		insert into agent_runs (`+agentRunColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.ID, r.Task, r.LeadID, r.StartedAt, r.CompletedAt, r.DurationMs, r.Model, r.Attempts,
		r.EscalationReason, r.Status, r.Success, r.Error, nullableJSON(r.Trace))
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

func (p *Postgres) GetAgentRun(ctx context.Context, id string) (*observability.AgentRun, error) {
	return scanAgentRun(p.pool.QueryRow(ctx, `select `+agentRunColumns+` from agent_runs where id = $1`, id))
}

func (p *Postgres) ListAgentRuns(ctx context.Context, f observability.ListFilter) ([]observability.AgentRun, error) {
	var (
		conds []string
		args  []any
	)
	if f.Task != "" {
		args = append(args, f.Task)
		conds = append(conds, fmt.Sprintf("task = $%d", len(args)))
	}
	if f.LeadID != "" {
		args = append(args, f.LeadID)
		conds = append(conds, fmt.Sprintf("lead_id = $%d", len(args)))
	}

	q := `select ` + agentRunColumns + ` from agent_runs`
	if len(conds) > 0 {
		q += ` where ` + strings.Join(conds, " and ")
	}
	args = append(args, clampLimit(f.Limit), clampOffset(f.Offset))
	q += fmt.Sprintf(` order by started_at desc limit $%d offset $%d`, len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	defer rows.Close()

	out := []observability.AgentRun{}
	for rows.Next() {
		r, err := scanAgentRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPrompt(ctx context.Context, key string) (*prompts.Prompt, error) {
	var pr prompts.Prompt
	var vars []byte
	err := p.pool.QueryRow(ctx, `
		select key, text, description, variables, embedded_hash, updated_at
		from prompts where key = $1
	`, key).Scan(&pr.Key, &pr.Text, &pr.Description, &vars, &pr.EmbeddedHash, &pr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(vars, &pr.Variables); err != nil {
		p.logger.Warn("invalid prompt variables", "key", key, "error", err)
	}
	return &pr, nil
}

func (p *Postgres) UpsertPrompt(ctx context.Context, pr *prompts.Prompt) error {
	vars, err := json.Marshal(pr.Variables)
	if err != nil {
		return err
	}
	if pr.Variables == nil {
		vars = []byte(`[]`)
	}
	err = p.pool.QueryRow(ctx, `
		insert into prompts (key, text, description, variables, embedded_hash)
		values ($1, $2, $3, $4, $5)
		on conflict (key) do update set
			text = excluded.text,
			description = excluded.description,
			variables = excluded.variables,
			embedded_hash = excluded.embedded_hash,
			updated_at = now()
		returning updated_at
	`, pr.Key, pr.Text, pr.Description, vars, pr.EmbeddedHash).Scan(&pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert prompt: %w", err)
	}
	return nil
}

func (p *Postgres) GetPromptOverride(ctx context.Context, key string) (*prompts.Override, error) {
	var o prompts.Override
	err := p.pool.QueryRow(ctx, `
		select key, text, note, created_at, updated_at from prompt_overrides where key = $1
	`, key).Scan(&o.Key, &o.Text, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *Postgres) SetPromptOverride(ctx context.Context, o *prompts.Override) error {
	err := p.pool.QueryRow(ctx, `
		insert into prompt_overrides (key, text, note)
		values ($1, $2, $3)
		on conflict (key) do update set text = excluded.text, note = excluded.note, updated_at = now()
		returning created_at, updated_at
	`, o.Key, o.Text, o.Note).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set prompt override: %w", err)
	}
	return nil
}

func (p *Postgres) ClearPromptOverride(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `delete from prompt_overrides where key = $1`, key); err != nil {
		return fmt.Errorf("clear prompt override: %w", err)
	}
	return nil
}
