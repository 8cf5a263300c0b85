package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackProvider_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewSlackProvider(SlackConfig{WebhookURL: "https://hooks.slack.test/services/T/B/x"}).Validate(context.Background()))
	assert.Error(t, NewSlackProvider(SlackConfig{}).Validate(context.Background()))
	assert.Error(t, NewSlackProvider(SlackConfig{WebhookURL: "hooks"}).Validate(context.Background()))
	assert.Error(t, NewSlackProvider(SlackConfig{WebhookURL: "https://hooks.slack.test", Events: []string{"started"}}).Validate(context.Background()))
}

func TestSlackProvider_Send(t *testing.T) {
	t.Parallel()

	var msg map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &msg)
	}))
	defer server.Close()

	p := NewSlackProvider(SlackConfig{
		WebhookURL: server.URL,
		Channel:    "#secops",
		Mentions:   []string{"<!subteam^S012>"},
	})
	require.NoError(t, p.Send(context.Background(), testEvent()))

	assert.Equal(t, "#secops", msg["channel"])
	assert.Equal(t, "Rotation of mail needs attention: outcome unknown", msg["text"])

	raw, err := json.Marshal(msg["blocks"])
	require.NoError(t, err)
	blocks := string(raw)
	assert.Contains(t, blocks, ":rotating_light:")
	assert.Contains(t, blocks, "vault/mail/alice (version 7)")
	assert.Contains(t, blocks, "<!subteam^S012>")
	assert.Contains(t, blocks, "Log in manually")
}

func TestSlackProvider_MentionsOnlyOnTrouble(t *testing.T) {
	t.Parallel()

	p := NewSlackProvider(SlackConfig{Mentions: []string{"@oncall"}})
	ev := testEvent()
	assert.Equal(t, "@oncall", p.mentions(ev))

	ev.Type = EventCompleted
	assert.Empty(t, p.mentions(ev))
}

func TestSlackProvider_ErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := NewSlackProvider(SlackConfig{WebhookURL: server.URL}).Send(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
