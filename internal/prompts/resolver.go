package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

// ErrNotFound is returned for keys no agent registered.
var ErrNotFound = errors.New("prompt not found")

// validKeyPattern matches valid prompt keys (alphanumeric with dots, underscores).
var validKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._]*$`)

// ValidKey reports whether key is a well-formed prompt key.
func ValidKey(key string) bool {
	return validKeyPattern.MatchString(key)
}

// Store persists mirrored prompts and overrides. Get methods return nil, nil
// when nothing is stored.
type Store interface {
	GetPrompt(ctx context.Context, key string) (*Prompt, error)
	UpsertPrompt(ctx context.Context, p *Prompt) error
	GetPromptOverride(ctx context.Context, key string) (*Override, error)
	SetPromptOverride(ctx context.Context, o *Override) error
	ClearPromptOverride(ctx context.Context, key string) error
}

// Resolver resolves prompts with operator overrides.
// Resolution order: Override > Embedded default
type Resolver struct {
	store    Store
	embedded map[string]EmbeddedPrompt
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewResolver creates a new prompt resolver. store may be nil.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:    store,
		embedded: make(map[string]EmbeddedPrompt),
		logger:   logger,
	}
}

// Register registers an embedded prompt.
// This should be called during initialization by each agent.
func (r *Resolver) Register(prompt EmbeddedPrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prompt.Hash == "" {
		prompt.Hash = HashText(prompt.Text)
	}
	if prompt.Variables == nil {
		prompt.Variables = ExtractVariables(prompt.Text)
	}

	r.embedded[prompt.Key] = prompt
	r.logger.Debug("registered embedded prompt", "key", prompt.Key, "vars", prompt.Variables)
}

// Resolve returns the override for key if one exists, otherwise the embedded
// default. Store errors fall through to the default.
func (r *Resolver) Resolve(ctx context.Context, key string) (*ResolvedPrompt, error) {
	if r.store != nil {
		override, err := r.store.GetPromptOverride(ctx, key)
		if err != nil {
			r.logger.Warn("failed to check prompt override", "key", key, "error", err)
		} else if override != nil {
			return &ResolvedPrompt{
				Key:        key,
				Text:       override.Text,
				Variables:  ExtractVariables(override.Text),
				IsOverride: true,
				CID:        CID(override.Text),
			}, nil
		}
	}

	r.mu.RLock()
	embedded, ok := r.embedded[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return &ResolvedPrompt{
		Key:       key,
		Text:      embedded.Text,
		Variables: embedded.Variables,
		CID:       CID(embedded.Text),
	}, nil
}

// ResolveAndRender resolves key and renders it with data.
func (r *Resolver) ResolveAndRender(ctx context.Context, key string, data any) (string, *ResolvedPrompt, error) {
	p, err := r.Resolve(ctx, key)
	if err != nil {
		return "", nil, err
	}
	text, err := Render(key, p.Text, data)
	if err != nil {
		return "", p, err
	}
	return text, p, nil
}

// GetEmbedded returns the embedded default for a key.
func (r *Resolver) GetEmbedded(key string) (*EmbeddedPrompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.embedded[key]
	return &p, ok
}

// AllEmbedded returns all registered embedded prompts sorted by key.
func (r *Resolver) AllEmbedded() []EmbeddedPrompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]EmbeddedPrompt, 0, len(r.embedded))
	for _, p := range r.embedded {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// SetOverride stores an override for a registered key.
func (r *Resolver) SetOverride(ctx context.Context, key, text, note string) error {
	if r.store == nil {
		return fmt.Errorf("store not configured")
	}
	if _, ok := r.GetEmbedded(key); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := CheckSyntax(key, text); err != nil {
		return err
	}
	return r.store.SetPromptOverride(ctx, &Override{Key: key, Text: text, Note: note})
}

// ClearOverride removes the override for key, if any.
func (r *Resolver) ClearOverride(ctx context.Context, key string) error {
	if r.store == nil {
		return fmt.Errorf("store not configured")
	}
	return r.store.ClearPromptOverride(ctx, key)
}

// SyncAll mirrors all registered embedded prompts to the store.
//
// A missing prompt is created. An existing prompt whose stored hash matches
// its stored text is updated from code. One edited in the database (hash
// differs) is left alone.
func (r *Resolver) SyncAll(ctx context.Context) error {
	if r.store == nil {
		return fmt.Errorf("store not configured")
	}

	all := r.AllEmbedded()
	for _, p := range all {
		if err := r.syncPrompt(ctx, p); err != nil {
			return fmt.Errorf("failed to sync prompt %s: %w", p.Key, err)
		}
	}

	r.logger.Info("synced all prompts to database", "count", len(all))
	return nil
}

func (r *Resolver) syncPrompt(ctx context.Context, embedded EmbeddedPrompt) error {
	existing, err := r.store.GetPrompt(ctx, embedded.Key)
	if err != nil {
		return err
	}

	row := &Prompt{
		Key:          embedded.Key,
		Text:         embedded.Text,
		Description:  embedded.Description,
		Variables:    embedded.Variables,
		EmbeddedHash: embedded.Hash,
	}

	switch {
	case existing == nil:
		r.logger.Debug("synced new prompt", "key", embedded.Key)
		return r.store.UpsertPrompt(ctx, row)
	case existing.EmbeddedHash == HashText(existing.Text):
		if existing.Text == embedded.Text {
			return nil
		}
		r.logger.Debug("auto-updated prompt from code", "key", embedded.Key)
		return r.store.UpsertPrompt(ctx, row)
	default:
		r.logger.Debug("prompt was manually edited, skipping auto-sync",
			"key", embedded.Key,
			"db_hash", existing.EmbeddedHash,
			"current_hash", HashText(existing.Text))
		return nil
	}
}
