package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SlackConfig holds configuration for Slack webhook notifications.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	WebhookURL string

	// Channel overrides the webhook's default channel.
	Channel string

	Events []string

	// Mentions are added to failed and ambiguous events, e.g. "<@U024BE7LH>".
	Mentions []string
}

// SlackProvider sends rotation notifications to Slack via webhooks.
type SlackProvider struct {
	config SlackConfig
	client *http.Client
}

// NewSlackProvider creates a new Slack notification provider.
func NewSlackProvider(config SlackConfig) *SlackProvider {
	return &SlackProvider{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *SlackProvider) Name() string { return "slack" }

func (p *SlackProvider) SupportsEvent(t EventType) bool {
	return subscribed(p.config.Events, t)
}

// Validate checks if the provider configuration is valid.
func (p *SlackProvider) Validate(ctx context.Context) error {
	if p.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	parsed, err := url.Parse(p.config.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", p.config.WebhookURL)
	}
	for _, e := range p.config.Events {
		if _, err := ParseEventType(e); err != nil {
			return err
		}
	}
	return nil
}

// Send posts a Block Kit message for the event.
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(p.buildMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *SlackProvider) buildMessage(event Event) map[string]interface{} {
	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type":  "plain_text",
				"text":  eventEmoji(event) + " " + event.Title(),
				"emoji": true,
			},
		},
	}

	fields := []map[string]interface{}{
		mrkdwn(fmt.Sprintf("*Target:*\n%s", event.Target)),
		mrkdwn(fmt.Sprintf("*Status:*\n%s", event.Status)),
	}
	if event.Identity != "" {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Identity:*\n%s", event.Identity)))
	}
	if event.Duration > 0 {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Duration:*\n%s", event.Duration.Round(time.Millisecond))))
	}
	if event.FailedStep != "" {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Failed step:*\n%s", event.FailedStep)))
	}
	if event.StoreRef != "" {
		ref := event.StoreRef
		if event.StoreVersion != "" {
			ref += " (version " + event.StoreVersion + ")"
		}
		fields = append(fields, mrkdwn(fmt.Sprintf("*Candidate stored in:*\n%s", ref)))
	}
	blocks = append(blocks, map[string]interface{}{"type": "section", "fields": fields})

	if event.Error != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf(":warning: *Error:*\n```%s```", event.Error)),
		})
	}

	if event.Type == EventAmbiguous {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": mrkdwn("Either the previous or the candidate secret is live. Log in manually to find out which one works."),
		})
	}

	if mentions := p.mentions(event); mentions != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": mrkdwn("*Attention:* " + mentions),
		})
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "context",
		"elements": []map[string]interface{}{
			mrkdwn(fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s> · run %s",
				event.Timestamp.Unix(), event.Timestamp.UTC().Format(time.RFC3339), event.RunID)),
		},
	})

	message := map[string]interface{}{
		"text":   event.Title(),
		"blocks": blocks,
	}
	if p.config.Channel != "" {
		message["channel"] = p.config.Channel
	}
	return message
}

func (p *SlackProvider) mentions(event Event) string {
	if event.Type != EventFailed && event.Type != EventAmbiguous {
		return ""
	}
	return strings.Join(p.config.Mentions, " ")
}

func mrkdwn(text string) map[string]interface{} {
	return map[string]interface{}{"type": "mrkdwn", "text": text}
}

func eventEmoji(event Event) string {
	switch event.Type {
	case EventCompleted:
		return ":white_check_mark:"
	case EventFailed:
		return ":x:"
	case EventAmbiguous:
		return ":rotating_light:"
	case EventProbe:
		if event.Error != "" {
			return ":warning:"
		}
		return ":mag:"
	}
	return ":bell:"
}
