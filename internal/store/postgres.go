package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackzampolin/tanjia/internal/schema"
)

// PostgresConfig configures Open.
type PostgresConfig struct {
	URL      string
	MaxConns int32

	// ConnectAttempts bounds the startup ping retries (default 10).
	ConnectAttempts uint
	ConnectDelay    time.Duration

	// Migrate applies the embedded schema after connecting.
	Migrate bool

	Logger *slog.Logger
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to Postgres, waiting for it to accept connections, and
// optionally applies the schema.
func Open(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 10
	}
	delay := cfg.ConnectDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("waiting for database", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("database not reachable: %w", err)
	}

	if cfg.Migrate {
		if err := schema.Initialize(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	logger.Info("connected to database", "max_conns", poolCfg.MaxConns)
	return &Postgres{pool: pool, logger: logger}, nil
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const leadColumns = `id, name, company, website, email, source, notes, stage, created_at, updated_at`

func scanLead(row pgx.Row) (*Lead, error) {
	var l Lead
	var stage string
	err := row.Scan(&l.ID, &l.Name, &l.Company, &l.Website, &l.Email, &l.Source, &l.Notes, &stage, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Stage = Stage(stage)
	return &l, nil
}

func (p *Postgres) CreateLead(ctx context.Context, l *Lead) error {
	if err := l.Validate(); err != nil {
		return err
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	err := p.pool.QueryRow(ctx, `
		insert into leads (id, name, company, website, email, source, notes, stage)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, l.ID, l.Name, l.Company, l.Website, l.Email, l.Source, l.Notes, string(l.Stage)).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (p *Postgres) GetLead(ctx context.Context, id string) (*Lead, error) {
	return scanLead(p.pool.QueryRow(ctx, `select `+leadColumns+` from leads where id = $1`, id))
}

func (p *Postgres) FindLeadByEmail(ctx context.Context, email string) (*Lead, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}
	return scanLead(p.pool.QueryRow(ctx, `
		select `+leadColumns+` from leads
		where lower(email) = lower($1)
		order by created_at asc
		limit 1
	`, email))
}

func (p *Postgres) ListLeads(ctx context.Context, f LeadFilter) ([]Lead, error) {
	var (
		conds []string
		args  []any
	)
	if f.Stage != "" {
		args = append(args, string(f.Stage))
		conds = append(conds, fmt.Sprintf("stage = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(lower(name) like $%d or lower(company) like $%d or lower(email) like $%d)", n, n, n))
	}

	q := `select ` + leadColumns + ` from leads`
	if len(conds) > 0 {
		q += ` where ` + strings.Join(conds, " and ")
	}
	args = append(args, clampLimit(f.Limit), clampOffset(f.Offset))
	q += fmt.Sprintf(` order by updated_at desc, id limit $%d offset $%d`, len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	out := []Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateLead(ctx context.Context, id string, patch LeadPatch) (*Lead, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	l, err := scanLead(tx.QueryRow(ctx, `select `+leadColumns+` from leads where id = $1 for update`, id))
	if err != nil {
		return nil, err
	}
	if err := patch.Apply(l); err != nil {
		return nil, err
	}
	err = tx.QueryRow(ctx, `
		update leads set name = $2, company = $3, website = $4, email = $5,
			source = $6, notes = $7, stage = $8, updated_at = now()
		where id = $1
		returning updated_at
	`, l.ID, l.Name, l.Company, l.Website, l.Email, l.Source, l.Notes, string(l.Stage)).Scan(&l.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (p *Postgres) DeleteLead(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `delete from leads where id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AdvanceLead(ctx context.Context, id string) (*Lead, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	l, err := scanLead(tx.QueryRow(ctx, `select `+leadColumns+` from leads where id = $1 for update`, id))
	if err != nil {
		return nil, err
	}
	next := l.Stage.Next()
	if next == l.Stage {
		return l, nil
	}
	err = tx.QueryRow(ctx, `update leads set stage = $2, updated_at = now() where id = $1 returning updated_at`,
		id, string(next)).Scan(&l.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("advance lead: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	l.Stage = next
	return l, nil
}

var _ Store = (*Postgres)(nil)
