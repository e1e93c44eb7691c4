// Package amplitude is the outbound gateway to the segmentation analytics
// API. It owns authentication, the retry/backoff policy for rate-limit and
// transport failures, and transport-level metrics. It performs no caching.
package amplitude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/amberdesk/usagelens/internal/domain"
	"github.com/amberdesk/usagelens/internal/metrics"
)

// DefaultBaseURL is the public dashboard API endpoint.
const DefaultBaseURL = "https://amplitude.com/api/2"

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// Client issues authenticated GET queries against the analytics API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	secretKey  string
	projectID  string
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

// Config holds the gateway settings. APIKey, SecretKey, and ProjectID are
// the credential bundle handed in by the surrounding dashboard.
type Config struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	ProjectID  string
	Timeout    time.Duration
	MaxRetries int // total attempts, not just retries
	BaseDelay  time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient creates an analytics API gateway.
func NewClient(cfg *Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		projectID:  cfg.ProjectID,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// Fetch issues an authenticated GET against endpoint and decodes the JSON
// body into out. 429 responses and transport failures are retried with
// delays of baseDelay * 2^attempt while attempts remain; exhaustion
// surfaces domain.RateLimitError (carrying the last 429 body) or
// domain.NetworkError. Any other non-2xx status fails immediately as
// domain.APIError and is never retried.
func (c *Client) Fetch(ctx context.Context, endpoint string, query url.Values, out any) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.baseDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = time.Hour
	eb.MaxElapsedTime = 0

	retries := c.maxRetries - 1
	if retries < 0 {
		retries = 0
	}

	attempt := 0
	op := func() error {
		err := c.do(ctx, endpoint, query, out)
		if err == nil {
			return nil
		}
		attempt++

		var reason string
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			reason = "rate_limited"
		case errors.Is(err, domain.ErrNetwork):
			reason = "network"
		default:
			return backoff.Permanent(err)
		}

		metrics.AnalyticsRetriesTotal.WithLabelValues(c.projectID, reason).Inc()
		c.logger.Warn("Analytics request failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxRetries),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)); err != nil {
		return err
	}
	return nil
}

// do performs a single attempt and classifies the outcome.
func (c *Client) do(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.secretKey)

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.AnalyticsRequestsTotal.WithLabelValues(c.projectID, "network_error").Inc()
		return &domain.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.AnalyticsRequestsTotal.WithLabelValues(c.projectID, "network_error").Inc()
		return &domain.NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.AnalyticsRequestsTotal.WithLabelValues(c.projectID, "rate_limited").Inc()
		return &domain.RateLimitError{Body: string(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		metrics.AnalyticsRequestsTotal.WithLabelValues(c.projectID, "api_error").Inc()
		return &domain.APIError{Status: resp.StatusCode, Body: string(body)}
	}

	duration := time.Since(start)
	metrics.AnalyticsRequestsTotal.WithLabelValues(c.projectID, "success").Inc()
	metrics.AnalyticsRequestDuration.WithLabelValues(c.projectID).Observe(duration.Seconds())

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode analytics response: %w", err)
		}
	}

	c.logger.Debug("Analytics request completed",
		zap.String("endpoint", endpoint),
		zap.Duration("duration", duration),
		zap.Int("response_bytes", len(body)),
	)
	return nil
}

// Segmentation runs one events/segmentation query and pairs each returned
// series with its label.
func (c *Client) Segmentation(ctx context.Context, q domain.Query) ([]domain.SeriesRow, error) {
	params, err := encodeSegmentation(q)
	if err != nil {
		return nil, err
	}

	var resp segmentationResponse
	if err := c.Fetch(ctx, "events/segmentation", params, &resp); err != nil {
		return nil, err
	}

	rows := make([]domain.SeriesRow, len(resp.Data.Series))
	for i, series := range resp.Data.Series {
		var label string
		if i < len(resp.Data.SeriesLabels) {
			label = resp.Data.SeriesLabels[i]
		}
		rows[i] = domain.SeriesRow{Label: label, Values: series}
	}
	return rows, nil
}
