package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/tradestream/internal/auth"
	"github.com/rickgao/tradestream/internal/metrics"
	"github.com/rickgao/tradestream/internal/retry"
	"github.com/rickgao/tradestream/internal/version"
)

// Client provides access to the backend REST API.
type Client struct {
	baseURL    string
	creds      *auth.Credentials
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	retry      retry.Options
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. creds may be nil for unsigned
// requests.
func NewClient(baseURL string, creds *auth.Credentials, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:    slog.Default(),
		userAgent: version.UserAgent(),
		retry:     retry.DefaultOptions(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retry.Logger == nil {
		c.retry.Logger = c.logger
	}
	if c.retry.Retryable == nil {
		c.retry.Retryable = Retryable
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetry sets the attempt count and delay schedule.
func WithRetry(maxAttempts int, delay time.Duration, backoff bool) ClientOption {
	return func(c *Client) {
		c.retry.MaxAttempts = maxAttempts
		c.retry.Delay = delay
		c.retry.Backoff = backoff
	}
}

// WithRetryOptions replaces the retry options wholesale.
func WithRetryOptions(opts retry.Options) ClientOption {
	return func(c *Client) {
		c.retry = opts
	}
}

// WithMetrics records retries on m.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) {
		c.retry.Metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}
