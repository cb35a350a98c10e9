// Package notify sends operator notifications.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
)

// Notifier delivers a plain-text message to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// SlackConfig configures a Slack notifier.
type SlackConfig struct {
	Token   string
	Channel string

	// APIURL overrides the Slack API base (must end with "/").
	APIURL     string
	HTTPClient *http.Client
}

// Slack posts notifications to a channel.
type Slack struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a Slack notifier.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("slack token is required")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	opts := []slack.Option{}
	if cfg.APIURL != "" {
		base := cfg.APIURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		opts = append(opts, slack.OptionAPIURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	return &Slack{
		api:     slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
	}, nil
}

// Notify posts text to the configured channel.
func (s *Slack) Notify(ctx context.Context, text string) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post failed: %w", err)
	}
	return nil
}

// Log writes notifications to the logger. Used when Slack is not configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Notify logs text at info level.
func (l *Log) Notify(_ context.Context, text string) error {
	l.logger.Info("notification", "text", text)
	return nil
}

var (
	_ Notifier = (*Slack)(nil)
	_ Notifier = (*Log)(nil)
)
