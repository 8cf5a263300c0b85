package notifications

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
)

type recordingNotifier struct {
	name   string
	events []string
	err    error

	mu   sync.Mutex
	sent []Event
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) Send(ctx context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, event)
	return n.err
}

func (n *recordingNotifier) SupportsEvent(t EventType) bool { return subscribed(n.events, t) }

func (n *recordingNotifier) Validate(ctx context.Context) error { return nil }

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func testLogger() *logging.Logger {
	return logging.New(false, true).WithWriter(io.Discard)
}

func TestDispatcher_Notify(t *testing.T) {
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })

	all := &recordingNotifier{name: "all"}
	onlyFailed := &recordingNotifier{name: "failed-only", events: []string{"failed"}}
	broken := &recordingNotifier{name: "broken", err: errors.New("connection refused")}

	d := NewDispatcher(testLogger(), all, onlyFailed, broken)
	err := d.Notify(context.Background(), testEvent())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: connection refused")
	assert.Equal(t, 1, all.count())
	assert.Equal(t, 0, onlyFailed.count())
	assert.Equal(t, 1, broken.count(), "a failing notifier is still attempted")
}

func TestDispatcher_NoNotifiers(t *testing.T) {
	d := NewDispatcher(testLogger())
	assert.NoError(t, d.Notify(context.Background(), testEvent()))
	assert.Empty(t, d.Notifiers())
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	notifiers, err := FromConfig(context.Background(), config.NotificationsConfig{
		Webhooks: []config.WebhookConfig{
			{Name: "ops", URL: "https://hooks.example.test/a", Timeout: "5s", MaxAttempts: 2},
		},
		Slack: &config.SlackConfig{WebhookURL: "https://hooks.slack.test/services/x", Events: []string{"ambiguous"}},
	})
	require.NoError(t, err)
	require.Len(t, notifiers, 2)
	assert.Equal(t, "webhook:ops", notifiers[0].Name())
	assert.Equal(t, "slack", notifiers[1].Name())
	assert.False(t, notifiers[1].SupportsEvent(EventCompleted))
}

func TestFromConfig_Errors(t *testing.T) {
	t.Parallel()

	_, err := FromConfig(context.Background(), config.NotificationsConfig{
		Webhooks: []config.WebhookConfig{{URL: "https://hooks.example.test", Timeout: "soon"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications.webhooks[0].timeout")

	_, err = FromConfig(context.Background(), config.NotificationsConfig{
		Slack: &config.SlackConfig{WebhookURL: "nope"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications.slack")
}
