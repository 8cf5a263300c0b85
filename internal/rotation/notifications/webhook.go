package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	// Name is a human-readable name for this webhook.
	Name string

	URL     string
	Method  string
	Headers map[string]string

	// Events this webhook is subscribed to. Empty means DefaultEvents.
	Events []string

	// PayloadTemplate is a text/template for the request body. If empty,
	// a JSON document is sent.
	PayloadTemplate string

	// MaxAttempts bounds delivery attempts (default: 3).
	MaxAttempts int

	// InitialWait is the first retry delay; later delays grow exponentially.
	InitialWait time.Duration

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// WebhookProvider sends rotation notifications via HTTP webhooks.
type WebhookProvider struct {
	config   WebhookConfig
	client   *http.Client
	template *template.Template
	tmplErr  error
}

// NewWebhookProvider creates a new webhook notification provider.
func NewWebhookProvider(config WebhookConfig) *WebhookProvider {
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	config.Method = strings.ToUpper(config.Method)
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialWait <= 0 {
		config.InitialWait = time.Second
	}

	p := &WebhookProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
	if config.PayloadTemplate != "" {
		p.template, p.tmplErr = template.New("payload").Option("missingkey=error").Parse(config.PayloadTemplate)
	}
	return p
}

// Name returns the provider name.
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

func (p *WebhookProvider) SupportsEvent(t EventType) bool {
	return subscribed(p.config.Events, t)
}

// Validate checks if the provider configuration is valid.
func (p *WebhookProvider) Validate(ctx context.Context) error {
	if p.config.URL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(p.config.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %s", p.config.URL)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("invalid URL scheme %q: must be http or https", parsed.Scheme)
	}

	switch p.config.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("invalid method: %s (must be POST, PUT, or PATCH)", p.config.Method)
	}

	for _, e := range p.config.Events {
		if _, err := ParseEventType(e); err != nil {
			return err
		}
	}
	if p.tmplErr != nil {
		return fmt.Errorf("invalid payload template: %w", p.tmplErr)
	}
	return nil
}

// Send delivers the event, retrying transport errors and 5xx/429 responses
// with exponential backoff.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload, err := p.buildPayload(event)
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.InitialWait
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.config.MaxAttempts-1)), ctx)

	attempts := 0
	err = backoff.Retry(func() error {
		attempts++
		return p.doSend(ctx, payload)
	}, policy)
	if err != nil {
		return fmt.Errorf("webhook failed after %d attempt(s): %w", attempts, err)
	}
	return nil
}

func (p *WebhookProvider) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, p.config.Method, p.config.URL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "credrotate")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
}

func (p *WebhookProvider) buildPayload(event Event) ([]byte, error) {
	if p.template != nil {
		var buf bytes.Buffer
		if err := p.template.Execute(&buf, templateData(event)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(webhookPayload(event))
}

// webhookData is what payload templates see.
type webhookData struct {
	Event        string
	Title        string
	RunID        string
	Target       string
	Identity     string
	Status       string
	ErrorKind    string
	Error        string
	FailedStep   string
	Duration     string
	Timestamp    string
	StoreRef     string
	StoreVersion string
}

func templateData(e Event) webhookData {
	return webhookData{
		Event:        string(e.Type),
		Title:        e.Title(),
		RunID:        e.RunID,
		Target:       e.Target,
		Identity:     e.Identity,
		Status:       string(e.Status),
		ErrorKind:    e.ErrorKind,
		Error:        e.Error,
		FailedStep:   e.FailedStep,
		Duration:     e.Duration.Round(time.Millisecond).String(),
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339),
		StoreRef:     e.StoreRef,
		StoreVersion: e.StoreVersion,
	}
}

func webhookPayload(e Event) map[string]interface{} {
	payload := map[string]interface{}{
		"event":     string(e.Type),
		"title":     e.Title(),
		"run_id":    e.RunID,
		"target":    e.Target,
		"status":    string(e.Status),
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
	}
	if e.Identity != "" {
		payload["identity"] = e.Identity
	}
	if e.Duration > 0 {
		payload["duration_seconds"] = e.Duration.Seconds()
	}
	if e.Error != "" {
		payload["error"] = e.Error
		payload["error_kind"] = e.ErrorKind
	}
	if e.FailedStep != "" {
		payload["failed_step"] = e.FailedStep
	}
	if e.StoreRef != "" {
		payload["store_ref"] = e.StoreRef
		payload["store_version"] = e.StoreVersion
	}
	return payload
}
