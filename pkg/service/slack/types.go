package slack

import (
	"context"

	"github.com/slack-go/slack"
)

// Message is one Block Kit post. A non-empty ThreadTS makes it a reply.
type Message struct {
	ChannelID string
	ThreadTS  string
	Blocks    []slack.Block
	// Text is the notification fallback
	Text string
}

// Service is the subset of the Slack Web API used for operator alerts
type Service interface {
	// PostAlert posts msg and returns the timestamp of the new message
	PostAlert(ctx context.Context, msg Message) (string, error)

	// ChannelName resolves a channel ID to its name
	ChannelName(ctx context.Context, channelID string) (string, error)
}
