package endpoints

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/prompts"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// PromptResponse is a prompt as agents currently run it.
type PromptResponse struct {
	Key         string   `json:"key"`
	Text        string   `json:"text"`
	Description string   `json:"description,omitempty"`
	Variables   []string `json:"variables,omitempty"`
	IsOverride  bool     `json:"is_override"`
	CID         string   `json:"cid,omitempty"`
}

// PromptsListResponse contains all prompts.
type PromptsListResponse struct {
	Prompts []PromptResponse `json:"prompts"`
}

// SetPromptRequest is the request body for setting a prompt override.
type SetPromptRequest struct {
	Text string `json:"text"`
	Note string `json:"note,omitempty"`
}

func resolvedResponse(resolved *prompts.ResolvedPrompt, description string) PromptResponse {
	return PromptResponse{
		Key:         resolved.Key,
		Text:        resolved.Text,
		Description: description,
		Variables:   resolved.Variables,
		IsOverride:  resolved.IsOverride,
		CID:         resolved.CID,
	}
}

// writePromptError maps resolver errors.
func writePromptError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, prompts.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeServiceError(w, r, op, err)
}

// promptKey reads and validates the {key...} path value.
func promptKey(r *http.Request) (string, bool) {
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil || !prompts.ValidKey(key) {
		return "", false
	}
	return key, true
}

// ListPromptsEndpoint handles GET /api/v1/prompts.
type ListPromptsEndpoint struct{}

func (e *ListPromptsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/prompts", e.handler
}

func (e *ListPromptsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List all prompts
//	@Description	Every registered prompt, resolved with overrides applied
//	@Tags			prompts
//	@Produce		json
//	@Success		200	{object}	PromptsListResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/prompts [get]
func (e *ListPromptsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resolver := svcctx.PromptResolverFrom(r.Context())
	if resolver == nil {
		writeError(w, http.StatusInternalServerError, "prompt resolver not available")
		return
	}

	embedded := resolver.AllEmbedded()
	resp := PromptsListResponse{Prompts: make([]PromptResponse, 0, len(embedded))}
	for _, p := range embedded {
		resolved, err := resolver.Resolve(r.Context(), p.Key)
		if err != nil {
			resp.Prompts = append(resp.Prompts, PromptResponse{
				Key:         p.Key,
				Text:        p.Text,
				Description: p.Description,
				Variables:   p.Variables,
			})
			continue
		}
		resp.Prompts = append(resp.Prompts, resolvedResponse(resolved, p.Description))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ListPromptsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PromptsListResponse
			if err := client.Get(cmd.Context(), "/api/v1/prompts", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetPromptEndpoint handles GET /api/v1/prompts/{key...}.
type GetPromptEndpoint struct{}

func (e *GetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/prompts/{key...}", e.handler
}

func (e *GetPromptEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a prompt
//	@Tags		prompts
//	@Produce	json
//	@Param		key	path		string	true	"Prompt key (e.g., agents.enrichment.system)"
//	@Success	200	{object}	PromptResponse
//	@Failure	400	{object}	ErrorResponse
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/v1/prompts/{key} [get]
func (e *GetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, ok := promptKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt key")
		return
	}
	resolver := svcctx.PromptResolverFrom(r.Context())
	resolved, err := resolver.Resolve(r.Context(), key)
	if err != nil {
		writePromptError(w, r, "get prompt", err)
		return
	}
	var description string
	if p, ok := resolver.GetEmbedded(key); ok {
		description = p.Description
	}
	writeJSON(w, http.StatusOK, resolvedResponse(resolved, description))
}

func (e *GetPromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a prompt by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PromptResponse
			if err := client.Get(cmd.Context(), "/api/v1/prompts/"+url.PathEscape(args[0]), &resp); err != nil {
				return err
			}
			return api.OutputText(resp.Text, resp)
		},
	}
}

// SetPromptEndpoint handles PUT /api/v1/prompts/{key...}.
type SetPromptEndpoint struct{}

func (e *SetPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/v1/prompts/{key...}", e.handler
}

func (e *SetPromptEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Override a prompt
//	@Description	Replace a prompt's text until the override is cleared
//	@Tags			prompts
//	@Accept			json
//	@Produce		json
//	@Param			key		path		string				true	"Prompt key"
//	@Param			body	body		SetPromptRequest	true	"Prompt override"
//	@Success		200		{object}	PromptResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/prompts/{key} [put]
func (e *SetPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, ok := promptKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt key")
		return
	}
	var req SetPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	resolver := svcctx.PromptResolverFrom(r.Context())
	if _, ok := resolver.GetEmbedded(key); !ok {
		writeError(w, http.StatusNotFound, "prompt not found: "+key)
		return
	}
	if err := prompts.CheckSyntax(key, req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := resolver.SetOverride(r.Context(), key, req.Text, req.Note); err != nil {
		writePromptError(w, r, "set prompt override", err)
		return
	}
	resolved, err := resolver.Resolve(r.Context(), key)
	if err != nil {
		writePromptError(w, r, "set prompt override", err)
		return
	}
	writeJSON(w, http.StatusOK, resolvedResponse(resolved, ""))
}

func (e *SetPromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "set <key> <text>",
		Short: "Override a prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PromptResponse
			req := SetPromptRequest{Text: args[1], Note: note}
			if err := client.Put(cmd.Context(), "/api/v1/prompts/"+url.PathEscape(args[0]), req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Note about this override")
	return cmd
}

// ClearPromptEndpoint handles DELETE /api/v1/prompts/{key...}.
type ClearPromptEndpoint struct{}

func (e *ClearPromptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/v1/prompts/{key...}", e.handler
}

func (e *ClearPromptEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Clear a prompt override
//	@Description	Revert a prompt to its embedded default
//	@Tags			prompts
//	@Produce		json
//	@Param			key	path		string	true	"Prompt key"
//	@Success		200	{object}	PromptResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/prompts/{key} [delete]
func (e *ClearPromptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, ok := promptKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prompt key")
		return
	}
	resolver := svcctx.PromptResolverFrom(r.Context())
	if _, ok := resolver.GetEmbedded(key); !ok {
		writeError(w, http.StatusNotFound, "prompt not found: "+key)
		return
	}
	if err := resolver.ClearOverride(r.Context(), key); err != nil {
		writePromptError(w, r, "clear prompt override", err)
		return
	}
	resolved, err := resolver.Resolve(r.Context(), key)
	if err != nil {
		writePromptError(w, r, "clear prompt override", err)
		return
	}
	writeJSON(w, http.StatusOK, resolvedResponse(resolved, ""))
}

func (e *ClearPromptEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <key>",
		Short: "Clear a prompt override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/v1/prompts/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			cmd.Println("Override cleared")
			return nil
		},
	}
}
