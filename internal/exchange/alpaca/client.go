// Package alpaca implements broker.Broker against the Alpaca v2 REST APIs.
package alpaca

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/your-org/adx-trend-bot/internal/broker"
	"github.com/your-org/adx-trend-bot/pkg/logger"
)

// Config addresses the trading and market data endpoints.
type Config struct {
	BaseURL   string
	DataURL   string
	APIKey    string
	APISecret string
	Feed      string
	// RateLimit is requests per second shared by all calls; 0 disables limiting.
	RateLimit   float64
	RateBurst   int
	HTTPTimeout time.Duration
}

// Client provides methods to interact with the Alpaca API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
	// cancelSettle bounds how long ClosePosition waits for leg cancellations.
	cancelSettle time.Duration
}

// NewClient creates a new Alpaca API client.
func NewClient(cfg Config) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:      limiter,
		now:          time.Now,
		cancelSettle: 3 * time.Second,
	}
}

var _ broker.Broker = (*Client)(nil)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alpaca API error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the response onto the broker error taxonomy.
func (e *APIError) Unwrap() error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.StatusCode == http.StatusNotFound:
		return broker.ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return broker.ErrTransient
	case strings.Contains(msg, "client_order_id must be unique"):
		return broker.ErrDuplicateOrder
	default:
		return broker.ErrRejected
	}
}

func (c *Client) do(ctx context.Context, method, base, path string, query url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("alpaca %s %s: rate limiter: %w: %w", method, path, broker.ErrTransient, err)
	}

	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s %s request: %w", method, path, err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.APISecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alpaca %s %s: %w: %w", method, path, broker.ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("alpaca %s %s: read body (status %d): %w: %w", method, path, resp.StatusCode, broker.ErrTransient, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		logger.Debugf("[Alpaca] %s %s -> %d %s", method, path, resp.StatusCode, apiErr.Message)
		return fmt.Errorf("alpaca %s %s: %w", method, path, apiErr)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response (status %d): %w", method, path, resp.StatusCode, err)
	}
	return nil
}

func (c *Client) trading(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	return c.do(ctx, method, c.cfg.BaseURL, path, query, body, out)
}

func (c *Client) data(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.do(ctx, http.MethodGet, c.cfg.DataURL, path, query, nil, out)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, broker.ErrNotFound)
}
