package alert

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/config"
)

type capture struct {
	mu     sync.Mutex
	bodies []webhookPayload
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var p webhookPayload
		_ = json.Unmarshal(raw, &p)
		c.mu.Lock()
		c.bodies = append(c.bodies, p)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (c *capture) posts() []webhookPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webhookPayload(nil), c.bodies...)
}

func TestNew_WithoutURLIsNoOp(t *testing.T) {
	n := New(config.AlertConfig{}, zap.NewNop())
	assert.Equal(t, Discard, n)
	assert.NoError(t, n.Send("ignored"))
	assert.NoError(t, n.Close())
}

func TestNewWebhookNotifier_RequiresURL(t *testing.T) {
	n, err := NewWebhookNotifier(config.AlertConfig{}, nil)
	assert.Nil(t, n)
	assert.EqualError(t, err, "webhook URL must be configured")
}

func TestWebhookNotifier_BuffersIntoOneReport(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	n, err := NewWebhookNotifier(config.AlertConfig{WebhookURL: srv.URL, BufferInterval: time.Hour}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, n.Send("entry AAPL qty=100"))
	require.NoError(t, n.Send("exit MSFT"))
	assert.Empty(t, c.posts(), "nothing is sent before the interval")

	require.NoError(t, n.Close())
	posts := c.posts()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0].Text, "entry AAPL qty=100")
	assert.Contains(t, posts[0].Text, "exit MSFT")
	assert.Equal(t, posts[0].Text, posts[0].Content)

	require.NoError(t, n.Close(), "second close is a no-op")
	assert.Len(t, c.posts(), 1)
}

func TestWebhookNotifier_FlushesOnInterval(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	n, err := NewWebhookNotifier(config.AlertConfig{WebhookURL: srv.URL, BufferInterval: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Send("tick failed"))
	assert.Eventually(t, func() bool { return len(c.posts()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookNotifier_ReportsHTTPErrors(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer srv.Close()

	n, err := NewWebhookNotifier(config.AlertConfig{WebhookURL: srv.URL, BufferInterval: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, n.Send("x"))
	assert.ErrorContains(t, n.Close(), "500")
}

func TestEventString(t *testing.T) {
	ev := Event{Kind: "ENTRY", Symbol: "AAPL", OrderID: "o-1",
		Fields: []Field{F("qty", int64(100)), F("snapshot", 50.0), F("tp", 55.0)}}
	assert.Equal(t, "ENTRY AAPL qty=100 snapshot=50.00 tp=55.00 order=o-1", ev.String())

	rej := Event{Kind: "REJECTED", Symbol: "MSFT", Fields: []Field{F("intent", "entry")}, Err: errors.New("insufficient buying power")}
	assert.Equal(t, "REJECTED MSFT intent=entry: insufficient buying power", rej.String())
}
