// Package fetch wraps outbound HTTP calls with a per-attempt timeout and a
// bounded fixed-delay retry loop.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/infra/backoff"
	"github.com/vietddude/biomes-client/internal/metrics"
)

const (
	DefaultRetries    = 3
	DefaultRetryDelay = 1 * time.Second
)

// Request describes one call relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Config holds client-wide defaults.
type Config struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Retries is the number of attempts after the first. Zero takes
	// DefaultRetries; use WithRetries(0) to disable retries for a call.
	Retries    int           `yaml:"retries" env:"RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

type callOptions struct {
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
}

// Option overrides client defaults for a single call.
type Option func(*callOptions)

// WithTimeout bounds each attempt. Zero disables the per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) { o.timeout = d }
}

// WithRetries sets how many additional attempts follow the first.
func WithRetries(n int) Option {
	return func(o *callOptions) {
		if n < 0 {
			n = 0
		}
		o.retries = n
	}
}

// WithRetryDelay sets the fixed pause between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *callOptions) { o.retryDelay = d }
}

// Client performs JSON requests against one API origin. It keeps cookies
// across calls so a login session carries over to later requests.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	defaults   callOptions
	logger     *slog.Logger
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := callOptions{
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
	}
	if defaults.retries <= 0 {
		defaults.retries = DefaultRetries
	}
	if defaults.retryDelay <= 0 {
		defaults.retryDelay = DefaultRetryDelay
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Jar: jar,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		defaults: defaults,
		logger:   logger,
	}, nil
}

// BaseURL returns the API origin.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Do sends req and decodes a JSON response into out when out is non-nil.
//
// Transport failures, per-attempt timeouts and 5xx other than 502 are
// retried. A 502 returns a ServiceUnavailable error immediately. Other
// non-2xx statuses return a *StatusError without retry.
func (c *Client) Do(ctx context.Context, req Request, out any, opts ...Option) error {
	o := c.defaults
	for _, opt := range opts {
		opt(&o)
	}

	policy := backoff.Policy{
		BaseDelay:   o.retryDelay,
		Exponent:    1,
		MaxDelay:    o.retryDelay,
		MaxAttempts: o.retries + 1,
	}

	err := backoff.Run(ctx, policy, func(ctx context.Context) error {
		return c.attempt(ctx, req, out, o.timeout)
	},
		backoff.WithLogger(c.logger),
		backoff.WithName(req.Method+" "+req.Path),
		backoff.WithClassifier(classify),
	)

	var exhausted *backoff.ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Err
	}
	return err
}

func classify(err error) backoff.Action {
	if errors.Is(err, domain.ErrTransientNetwork) {
		return backoff.ActionRetry
	}
	var se *StatusError
	if errors.As(err, &se) && se.ServerError() {
		return backoff.ActionRetry
	}
	return backoff.ActionFatal
}

func (c *Client) attempt(ctx context.Context, req Request, out any, timeout time.Duration) error {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(attemptCtx, req)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.FetchLatency.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchRequests.WithLabelValues(req.Method, "error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transient(req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	metrics.FetchRequests.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusBadGateway {
		return serviceUnavailable(req.Method, req.Path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transient(req.Method, req.Path, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:  req.Method,
			Path:    req.Path,
			Status:  resp.StatusCode,
			Message: errorMessage(body),
		}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}
