// Package notify renders and delivers notifications.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkhelifi/planact/internal/config"
	"github.com/slack-go/slack"
)

// ErrTransportUnavailable marks a delivery failure caused by missing or
// unreachable transport configuration, as opposed to a rejected send.
// Callers degrade gracefully on it.
var ErrTransportUnavailable = errors.New("notify: transport unavailable")

// Message is a rendered notification ready for delivery.
type Message struct {
	Recipients []string
	Subject    string
	BodyHTML   string
	BodyText   string
}

// Sender delivers a message, or saves it when the transport only
// supports saving.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// NewSender picks the delivery transport for the configuration: Slack
// when a token and channel are set, otherwise the file outbox.
func NewSender(cfg config.NotifyConfig) Sender {
	if cfg.SlackConfigured() {
		return NewSlackSender(cfg.SlackToken, cfg.SlackChannel)
	}
	return &OutboxSender{Dir: cfg.OutboxDir}
}

// slackAPI abstracts the Slack client methods we use, enabling test mocks.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSender posts notifications to a fixed Slack channel.
type SlackSender struct {
	client  slackAPI
	channel string
}

// NewSlackSender creates a Slack-backed sender.
func NewSlackSender(token, channel string) *SlackSender {
	return &SlackSender{client: slack.New(token), channel: channel}
}

// Send posts the message subject and text body to the channel.
func (s *SlackSender) Send(ctx context.Context, msg *Message) error {
	if s.client == nil || s.channel == "" {
		return fmt.Errorf("%w: slack channel not configured", ErrTransportUnavailable)
	}
	text := msg.Subject
	if msg.BodyText != "" {
		text += "\n" + msg.BodyText
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
