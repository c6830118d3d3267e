package slack

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/slack-go/slack"
)

// maxSectionTextBytes is the Block Kit limit for section text
const maxSectionTextBytes = 3000

// Notifier posts alerting history entries to a single channel. Later alerts about the
// same case or batch are posted as replies to the first one.
type Notifier struct {
	svc       Service
	channelID string
	baseURL   string

	mu      sync.Mutex
	threads map[string]string
}

// NotifierOption configures a Notifier
type NotifierOption func(*Notifier)

// WithBaseURL adds a link to the case or batch resource of the HTTP API
func WithBaseURL(baseURL string) NotifierOption {
	return func(n *Notifier) {
		n.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewNotifier creates a notifier posting to channelID
func NewNotifier(svc Service, channelID string, opts ...NotifierOption) (*Notifier, error) {
	if channelID == "" {
		return nil, goerr.New("Slack channel ID is required")
	}
	n := &Notifier{
		svc:       svc,
		channelID: channelID,
		threads:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// ChannelName resolves the configured channel for log output, falling back to the ID
func (n *Notifier) ChannelName(ctx context.Context) string {
	name, err := n.svc.ChannelName(ctx, n.channelID)
	if err != nil || name == "" {
		return n.channelID
	}
	return "#" + name
}

// Notify posts entries whose event is an alert and ignores the rest
func (n *Notifier) Notify(ctx context.Context, entry *model.HistoryEntry) error {
	if entry == nil || !entry.Event.IsAlert() {
		return nil
	}

	subject := threadKey(entry)
	n.mu.Lock()
	threadTS := n.threads[subject]
	n.mu.Unlock()

	ts, err := n.svc.PostAlert(ctx, Message{
		ChannelID: n.channelID,
		ThreadTS:  threadTS,
		Blocks:    BuildAlertBlocks(entry, n.resourceURL(entry)),
		Text:      alertTitle(entry),
	})
	if err != nil {
		return goerr.Wrap(err, "failed to notify history entry",
			goerr.V("entry_id", entry.ID),
			goerr.V("event", entry.Event))
	}

	if threadTS == "" {
		n.mu.Lock()
		if _, ok := n.threads[subject]; !ok {
			n.threads[subject] = ts
		}
		n.mu.Unlock()
	}

	logging.From(ctx).Info("Alert posted to Slack",
		"entry_id", entry.ID,
		"event", entry.Event,
		"ts", ts,
		"thread_ts", threadTS,
	)
	return nil
}

func threadKey(entry *model.HistoryEntry) string {
	if entry.CaseID != "" {
		return "case/" + string(entry.CaseID)
	}
	return "batch/" + string(entry.BatchID)
}

func (n *Notifier) resourceURL(entry *model.HistoryEntry) string {
	if n.baseURL == "" {
		return ""
	}
	if entry.CaseID != "" {
		return fmt.Sprintf("%s/api/v1/cases/%s", n.baseURL, entry.CaseID)
	}
	if entry.BatchID != "" {
		return fmt.Sprintf("%s/api/v1/batches/%s", n.baseURL, entry.BatchID)
	}
	return ""
}

func alertTitle(entry *model.HistoryEntry) string {
	subject := "Case " + string(entry.CaseID)
	if entry.CaseID == "" {
		subject = "Batch " + string(entry.BatchID)
	}
	return fmt.Sprintf(":warning: %s: %s", subject, strings.ReplaceAll(entry.Event.String(), "_", " "))
}

// BuildAlertBlocks constructs Block Kit blocks for an alerting history entry
func BuildAlertBlocks(entry *model.HistoryEntry, link string) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, alertTitle(entry), true, false),
		),
	}

	if entry.Message != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncateToMaxBytes(entry.Message, maxSectionTextBytes), false, false),
			nil, nil,
		))
	}

	if len(entry.Details) > 0 {
		keys := make([]string, 0, len(entry.Details))
		for k := range entry.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]*slack.TextBlockObject, 0, len(keys))
		for _, k := range keys {
			// Block Kit allows at most 10 fields per section
			if len(fields) == 10 {
				break
			}
			fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*%s*\n%s", k, truncateToMaxBytes(entry.Details[k], 1000)), false, false))
		}
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}

	contextParts := []string{}
	if entry.FromStatus != "" || entry.ToStatus != "" {
		contextParts = append(contextParts, fmt.Sprintf("Status: %s → %s", orDash(entry.FromStatus), orDash(entry.ToStatus)))
	}
	if entry.BatchID != "" && entry.CaseID != "" {
		contextParts = append(contextParts, "Batch: "+string(entry.BatchID))
	}
	contextParts = append(contextParts, entry.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if link != "" {
		contextParts = append(contextParts, fmt.Sprintf(":link: <%s|Link>", link))
	}

	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, strings.Join(contextParts, "  |  "), false, false),
	))

	return blocks
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncateToMaxBytes cuts s to at most maxBytes without splitting a UTF-8 sequence
func truncateToMaxBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const ellipsis = "…"
	limit := maxBytes - len(ellipsis)
	if limit <= 0 {
		return ""
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + ellipsis
}
