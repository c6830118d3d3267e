package slack

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
)

// DefaultNameTTL is how long a resolved channel name is reused
const DefaultNameTTL = 10 * time.Minute

type channelName struct {
	name     string
	resolved time.Time
}

type client struct {
	api     *slack.Client
	apiURL  string
	nameTTL time.Duration

	mu    sync.Mutex
	names map[string]channelName
}

// Option is a functional option for client configuration
type Option func(*client)

// WithNameTTL overrides DefaultNameTTL
func WithNameTTL(ttl time.Duration) Option {
	return func(c *client) {
		c.nameTTL = ttl
	}
}

// WithAPIURL points the client at another Slack API endpoint
func WithAPIURL(url string) Option {
	return func(c *client) {
		c.apiURL = url
	}
}

// New creates a Slack service authenticated with a bot token
func New(token string, opts ...Option) (Service, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required")
	}

	c := &client{
		nameTTL: DefaultNameTTL,
		names:   make(map[string]channelName),
	}
	for _, opt := range opts {
		opt(c)
	}

	var apiOpts []slack.Option
	if c.apiURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(c.apiURL))
	}
	c.api = slack.New(token, apiOpts...)

	return c, nil
}

func (c *client) PostAlert(ctx context.Context, msg Message) (string, error) {
	options := []slack.MsgOption{
		slack.MsgOptionBlocks(msg.Blocks...),
		slack.MsgOptionText(msg.Text, false),
	}
	if msg.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(msg.ThreadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, msg.ChannelID, options...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to post Slack message",
			goerr.V("channel_id", msg.ChannelID),
			goerr.V("thread_ts", msg.ThreadTS))
	}
	return ts, nil
}

func (c *client) ChannelName(ctx context.Context, channelID string) (string, error) {
	now := time.Now()

	c.mu.Lock()
	cached, ok := c.names[channelID]
	c.mu.Unlock()
	if ok && now.Sub(cached.resolved) < c.nameTTL {
		return cached.name, nil
	}

	info, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: channelID,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to get conversation info", goerr.V("channel_id", channelID))
	}

	c.mu.Lock()
	c.names[channelID] = channelName{name: info.Name, resolved: now}
	c.mu.Unlock()
	return info.Name, nil
}
