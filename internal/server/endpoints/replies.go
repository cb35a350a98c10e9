package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/agents"
	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// ReplyResponse is a drafted reply.
type ReplyResponse = agents.Output[string]

// CommentReplyEndpoint handles POST /api/v1/replies/comment.
type CommentReplyEndpoint struct{}

func (e *CommentReplyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/replies/comment", e.handler
}

func (e *CommentReplyEndpoint) RequiresInit() bool { return true }
func (e *CommentReplyEndpoint) Throttled() bool    { return true }

// handler godoc
//
//	@Summary		Draft a comment reply
//	@Description	Draft a short public reply to a comment
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		agents.ReplyInput	true	"Comment"
//	@Success		200		{object}	ReplyResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		429		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/replies/comment [post]
func (e *CommentReplyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var in agents.ReplyInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := svcctx.AgentsFrom(r.Context()).CommentReply(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "comment reply", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *CommentReplyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return replyCommand(getServerURL, "comment", "Draft a reply to a comment", "/api/v1/replies/comment")
}

// DMReplyEndpoint handles POST /api/v1/replies/dm.
type DMReplyEndpoint struct{}

func (e *DMReplyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/replies/dm", e.handler
}

func (e *DMReplyEndpoint) RequiresInit() bool { return true }
func (e *DMReplyEndpoint) Throttled() bool    { return true }

// handler godoc
//
//	@Summary		Draft a DM reply
//	@Description	Draft a reply to a direct message
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		agents.ReplyInput	true	"Message"
//	@Success		200		{object}	ReplyResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		429		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/replies/dm [post]
func (e *DMReplyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var in agents.ReplyInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := svcctx.AgentsFrom(r.Context()).DMReply(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, "dm reply", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *DMReplyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return replyCommand(getServerURL, "dm", "Draft a reply to a direct message", "/api/v1/replies/dm")
}

func replyCommand(getServerURL func() string, use, short, path string) *cobra.Command {
	var in agents.ReplyInput
	cmd := &cobra.Command{
		Use:   use + " <message>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Message = args[0]
			client := api.NewClient(getServerURL())
			var resp ReplyResponse
			if err := client.Post(cmd.Context(), path, in, &resp); err != nil {
				return err
			}
			return api.OutputText(resp.Result, resp)
		},
	}
	cmd.Flags().StringVar(&in.Post, "post", "", "The post being discussed")
	cmd.Flags().StringVar(&in.Author, "author", "", "Who wrote the message")
	cmd.Flags().StringVar(&in.Tone, "tone", "", "Desired tone")
	cmd.Flags().StringVar(&in.LeadID, "lead", "", "Lead the message is from")
	addOptionFlags(cmd, &in.Options)
	return cmd
}
