package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/tanjia/internal/agent"
	"github.com/jackzampolin/tanjia/internal/agents/replies"
)

// ReplyInput is a comment or DM to answer.
type ReplyInput struct {
	Options
	Message string `json:"message"`
	Post    string `json:"post,omitempty"`
	Author  string `json:"author,omitempty"`
	Tone    string `json:"tone,omitempty"`
	LeadID  string `json:"lead_id,omitempty"`
}

// Validate checks the required fields.
func (in ReplyInput) Validate() error {
	if strings.TrimSpace(in.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	return nil
}

// CommentReply drafts a public reply to a comment.
func (s *Service) CommentReply(ctx context.Context, in ReplyInput) (*Output[string], error) {
	return s.reply(ctx, agent.TaskCommentReply, replies.CommentSystemKey, replies.CommentUserKey, in)
}

// DMReply drafts a reply to a direct message.
func (s *Service) DMReply(ctx context.Context, in ReplyInput) (*Output[string], error) {
	return s.reply(ctx, agent.TaskDMReply, replies.DMSystemKey, replies.DMUserKey, in)
}

func (s *Service) reply(ctx context.Context, name agent.TaskName, systemKey, userKey string, in ReplyInput) (*Output[string], error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	res, err := s.run(ctx, task{
		name:      name,
		systemKey: systemKey,
		userKey:   userKey,
		data: replies.UserPromptData{
			Message: in.Message,
			Post:    in.Post,
			Author:  in.Author,
			Tone:    in.Tone,
		},
		leadID:      in.LeadID,
		opts:        in.Options,
		inputLength: agent.TextLength(in.Message, in.Post),
	})
	if err != nil {
		return nil, err
	}
	return textOutput(res)
}

// textOutput cleans a free-text result.
func textOutput(res *agent.RunResult) (*Output[string], error) {
	text := replies.Clean(res.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrAgentFailed)
	}
	return &Output[string]{Result: text, RunID: res.ID, Meta: res.Meta, Trace: res.Trace}, nil
}
