package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/config"
)

// webhookPayload is accepted by Slack and Discord incoming webhooks alike.
type webhookPayload struct {
	Text    string `json:"text"`
	Content string `json:"content"`
}

// WebhookNotifier buffers messages and posts them as one report per
// interval.
type WebhookNotifier struct {
	url            string
	client         *http.Client
	logger         *zap.Logger
	bufferInterval time.Duration

	mu       sync.Mutex
	buffer   []string
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWebhookNotifier starts a notifier posting to cfg.WebhookURL.
func NewWebhookNotifier(cfg config.AlertConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("webhook URL must be configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	interval := cfg.BufferInterval
	if interval <= 0 {
		interval = time.Minute
	}
	n := &WebhookNotifier{
		url:            cfg.WebhookURL,
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
		bufferInterval: interval,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	go n.run()
	return n, nil
}

// New returns a webhook notifier when one is configured, else a no-op.
func New(cfg config.AlertConfig, logger *zap.Logger) Notifier {
	if cfg.WebhookURL == "" {
		return Discard
	}
	n, err := NewWebhookNotifier(cfg, logger)
	if err != nil {
		return Discard
	}
	return n
}

// Send queues message for the next report.
func (n *WebhookNotifier) Send(message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buffer = append(n.buffer, fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), message))
	return nil
}

func (n *WebhookNotifier) run() {
	defer close(n.done)
	ticker := time.NewTicker(n.bufferInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := n.flush(context.Background()); err != nil {
				n.logger.Warn("failed to post alert report", zap.Error(err))
			}
		case <-n.stop:
			return
		}
	}
}

func (n *WebhookNotifier) flush(ctx context.Context) error {
	n.mu.Lock()
	if len(n.buffer) == 0 {
		n.mu.Unlock()
		return nil
	}
	lines := n.buffer
	n.buffer = nil
	n.mu.Unlock()

	text := fmt.Sprintf("--- Trend bot report (%d) ---\n%s", len(lines), strings.Join(lines, "\n"))
	body, err := json.Marshal(webhookPayload{Text: text, Content: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Close posts anything still buffered and stops the notifier.
func (n *WebhookNotifier) Close() error {
	var err error
	n.stopOnce.Do(func() {
		close(n.stop)
		<-n.done
		ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
		defer cancel()
		err = n.flush(ctx)
	})
	return err
}
