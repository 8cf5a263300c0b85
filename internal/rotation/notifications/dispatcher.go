package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
)

// DefaultSendTimeout bounds one notifier's delivery, retries included.
const DefaultSendTimeout = 30 * time.Second

// Dispatcher fans an event out to every subscribed notifier.
type Dispatcher struct {
	notifiers   []Notifier
	logger      *logging.Logger
	sendTimeout time.Duration
}

// NewDispatcher creates a dispatcher for the given notifiers.
func NewDispatcher(logger *logging.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers:   notifiers,
		logger:      logger.Named("notify"),
		sendTimeout: DefaultSendTimeout,
	}
}

// Notifiers returns the configured notifiers.
func (d *Dispatcher) Notifiers() []Notifier {
	return append([]Notifier(nil), d.notifiers...)
}

// Notify delivers event concurrently and waits for every notifier. All
// delivery errors are returned joined; one failing notifier never stops
// the others.
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range d.notifiers {
		if !n.SupportsEvent(event.Type) {
			continue
		}
		n := n
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()

			if err := n.Send(sendCtx, event); err != nil {
				d.logger.Warn("Notification via %s failed: %v", n.Name(), err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
				mu.Unlock()
				return nil
			}
			d.logger.Debug("Sent %s notification via %s", event.Type, n.Name())
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// FromConfig builds and validates the notifiers described in cfg.
func FromConfig(ctx context.Context, cfg config.NotificationsConfig) ([]Notifier, error) {
	var notifiers []Notifier

	for i, wc := range cfg.Webhooks {
		timeout := time.Duration(0)
		if wc.Timeout != "" {
			d, err := time.ParseDuration(wc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("notifications.webhooks[%d].timeout: %w", i, err)
			}
			timeout = d
		}
		p := NewWebhookProvider(WebhookConfig{
			Name:            wc.Name,
			URL:             wc.URL,
			Method:          wc.Method,
			Headers:         wc.Headers,
			Events:          wc.Events,
			PayloadTemplate: wc.PayloadTemplate,
			MaxAttempts:     wc.MaxAttempts,
			Timeout:         timeout,
		})
		if err := p.Validate(ctx); err != nil {
			return nil, fmt.Errorf("notifications.webhooks[%d]: %w", i, err)
		}
		notifiers = append(notifiers, p)
	}

	if sc := cfg.Slack; sc != nil {
		p := NewSlackProvider(SlackConfig{
			WebhookURL: sc.WebhookURL,
			Channel:    sc.Channel,
			Events:     sc.Events,
			Mentions:   sc.Mentions,
		})
		if err := p.Validate(ctx); err != nil {
			return nil, fmt.Errorf("notifications.slack: %w", err)
		}
		notifiers = append(notifiers, p)
	}

	return notifiers, nil
}
