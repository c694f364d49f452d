// Package client provides the Bitrix24 REST transport with operating budget
// gating, response caching, retries and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/cache"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/logging"
	"github.com/bitrix24/b24phpsdk-sub004/pkg/ratelimit"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// Prometheus metrics for REST calls.
var (
	b24RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_requests_total",
		Help: "Total REST calls by method and status",
	}, []string{"method", "status"})

	b24RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "b24_request_duration_seconds",
		Help:    "REST call duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	b24ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_errors_total",
		Help: "Total REST errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of transport errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents QUERY_LIMIT_EXCEEDED and 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Config holds the client configuration.
type Config struct {
	// WebhookURL is the portal REST base including the credential,
	// e.g. https://example.bitrix24.com/rest/1/abc123/
	WebhookURL string `yaml:"webhook_url" validate:"required,url"`

	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent" default:"b24-bulk/1.0"`

	// Timeout bounds a single HTTP request.
	Timeout time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`

	// Retry
	MaxRetries     uint          `yaml:"max_retries" default:"3" validate:"lte=10"`
	InitialBackoff time.Duration `yaml:"initial_backoff" default:"1s" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" default:"30s" validate:"gtefield=InitialBackoff"`

	// Redis enables operating budget tracking and caching. Optional.
	Redis redis.Cmdable `yaml:"-" validate:"-"`

	// Caching, only for methods named in CacheMethods
	CacheTTL     time.Duration `yaml:"cache_ttl" default:"5m"`
	CacheMethods []string      `yaml:"cache_methods"`
}

// DefaultConfig returns a configuration with defaults applied for webhookURL.
func DefaultConfig(webhookURL string) Config {
	cfg := Config{WebhookURL: webhookURL}
	_ = defaults.Set(&cfg)
	return cfg
}

// Client calls REST methods of one portal.
type Client struct {
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	baseURL    string
	portal     string
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	u, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}

	logger := logging.NewLogger("b24-client")

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config:  cfg,
		baseURL: strings.TrimRight(cfg.WebhookURL, "/"),
		portal:  u.Host,
		logger:  logger,
	}
	if cfg.Redis != nil {
		c.tracker = ratelimit.NewTracker(cfg.Redis, logger)
		c.cache = cache.NewManager(cfg.Redis)
		c.cache.SetLogger(logger)
	}

	return c, nil
}

// Call invokes a REST method and returns the decoded response.
//
// Portal errors are returned as *APIError, wrapped in *TransportError when the
// HTTP status was not 2xx.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (*Response, error) {
	startTime := time.Now()
	defer func() {
		b24RequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check operating budget
	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx, method)
		if err != nil {
			c.logger.Warn().Err(err).Str("method", method).Msg("Operating budget check failed")
		} else if !allowed {
			b24RequestsTotal.WithLabelValues(method, "blocked").Inc()
			return nil, fmt.Errorf("%w: %s", ErrRequestBlocked, method)
		}
	}

	query, err := EncodeQuery(params)
	if err != nil {
		return nil, fmt.Errorf("encode params for %s: %w", method, err)
	}

	// Step 2: Serve allow-listed reads through the cache
	if c.cache != nil && lo.Contains(c.config.CacheMethods, method) {
		var resp *Response
		key := cache.CacheKey{Portal: c.portal, Method: method, Query: query}
		entry, hit, err := c.cache.Fetch(ctx, key, c.config.CacheTTL, func(ctx context.Context) (*cache.CacheEntry, error) {
			var err error
			if resp, err = c.send(ctx, method, query); err != nil {
				return nil, err
			}
			return cache.NewEntry(resp.Result, resp.Total, resp.Next, c.config.CacheTTL), nil
		})
		if err != nil {
			return nil, err
		}
		if hit {
			c.logger.Debug().Str("method", method).Msg("Cache hit")
			b24RequestsTotal.WithLabelValues(method, "cached").Inc()
			return &Response{Result: entry.Result, Total: entry.Total, Next: entry.Next}, nil
		}
		return resp, nil
	}

	// Step 3: Send, then drop the cached reads a write made stale
	resp, err := c.send(ctx, method, query)
	if err != nil {
		return nil, err
	}
	for _, written := range writtenMethods(method, params) {
		c.invalidateReads(ctx, written)
	}
	return resp, nil
}

// send executes the call with retry and records the operating time it used.
func (c *Client) send(ctx context.Context, method, query string) (*Response, error) {
	c.logger.Debug().Str("method", method).Msg("Executing REST call")

	var resp *Response
	retryCfg := RetryConfig{
		MaxAttempts:    c.config.MaxRetries + 1,
		InitialBackoff: c.config.InitialBackoff,
		MaxBackoff:     c.config.MaxBackoff,
	}
	err := retryWithBackoff(ctx, retryCfg, c.logger, func() error {
		var callErr error
		resp, callErr = c.do(ctx, method, query)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if c.tracker != nil && resp.Time.Operating > 0 {
		if err := c.tracker.UpdateOperating(ctx, method, resp.Time.Operating, resp.Time.OperatingReset()); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update operating budget")
		}
	}
	return resp, nil
}

// invalidateReads drops the cached reads of the entity a write method changed,
// e.g. crm.status.add invalidates crm.status.list.
func (c *Client) invalidateReads(ctx context.Context, method string) {
	if c.cache == nil {
		return
	}
	entity, action, ok := cutMethod(method)
	if !ok || !lo.Contains(writeActions, action) {
		return
	}
	for _, cached := range c.config.CacheMethods {
		if e, _, ok := cutMethod(cached); !ok || e != entity {
			continue
		}
		removed, err := c.cache.Invalidate(ctx, c.portal, cached)
		if err != nil {
			c.logger.Warn().Err(err).Str("method", cached).Msg("Cache invalidation failed")
			continue
		}
		if removed > 0 {
			c.logger.Debug().Str("method", cached).Int64("entries", removed).Str("cause", method).Msg("Cache invalidated")
		}
	}
}

// methodBatch is the portal method that runs a set of sub-commands.
const methodBatch = "batch"

// writtenMethods lists the methods a call may have written through: the
// method itself, or for a batch call the method of each sub-command.
func writtenMethods(method string, params map[string]any) []string {
	if method != methodBatch {
		return []string{method}
	}
	var commands []string
	switch cmd := params["cmd"].(type) {
	case Ordered:
		for _, kv := range cmd {
			commands = append(commands, cast.ToString(kv.Value))
		}
	case map[string]any:
		for _, key := range sortedKeys(cmd) {
			commands = append(commands, cast.ToString(cmd[key]))
		}
	case map[string]string:
		for _, v := range cmd {
			commands = append(commands, v)
		}
	}
	methods := lo.FilterMap(commands, func(command string, _ int) (string, bool) {
		m, _, _ := strings.Cut(command, "?")
		return m, m != ""
	})
	return lo.Uniq(methods)
}

// writeActions are the method suffixes that change entity data.
var writeActions = []string{"add", "update", "delete", "set"}

// cutMethod splits crm.deal.update into crm.deal and update.
func cutMethod(method string) (entity, action string, ok bool) {
	i := strings.LastIndexByte(method, '.')
	if i <= 0 || i == len(method)-1 {
		return "", "", false
	}
	return method[:i], method[i+1:], true
}

// do performs one HTTP round trip.
func (c *Client) do(ctx context.Context, method, query string) (*Response, error) {
	endpoint := c.baseURL + "/" + method + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(query))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// cancellation is the caller's decision, not something to retry
			return nil, ctx.Err()
		}
		c.logger.Error().Err(err).Str("method", method).Msg("HTTP request failed")
		b24ErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		b24RequestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &TransportError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		b24ErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &TransportError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}
	b24RequestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()

	if httpResp.StatusCode >= 400 {
		apiErr := parseAPIError(body)
		class := c.classifyError(httpResp.StatusCode, apiErr)
		b24ErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("method", method).
			Int("status", httpResp.StatusCode).
			Str("error_class", string(class)).
			Msg("REST call error")

		te := &TransportError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: class,
			Message:    httpResp.Status,
		}
		if apiErr != nil {
			te.Err = apiErr
		}
		return nil, te
	}

	resp, err := DecodeResponse(body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == CodeQueryLimitExceeded {
			b24ErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &TransportError{
				StatusCode: httpResp.StatusCode,
				ErrorClass: ErrorClassRateLimit,
				Message:    httpResp.Status,
				Err:        apiErr,
			}
		}
		return nil, err
	}
	return resp, nil
}

// classifyError categorizes a failed response for observability and retries.
func (c *Client) classifyError(status int, apiErr *APIError) ErrorClass {
	switch {
	case apiErr != nil && apiErr.Code == CodeQueryLimitExceeded:
		return ErrorClassRateLimit
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Portal returns the host name of the portal the client talks to.
func (c *Client) Portal() string {
	return c.portal
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
