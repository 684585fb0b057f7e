// Package scuttleapi is the HTTP client for the Scuttle stats backend.
//
// Every response is wrapped in a {"data": ...} envelope and every request
// carries the x-api-key header. Errors wrap arena.ErrNotFound for 404 and
// arena.ErrUnavailable for everything else.
package scuttleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"scuttlebot/internal/arena"
	"scuttlebot/internal/observability/metrics"
	logx "scuttlebot/pkg/logx"
)

const maxBodyBytes = 4 << 20

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RetryMax is the number of extra attempts for a GET that failed with a
	// network error or 5xx. 4xx responses are never retried.
	RetryMax     int
	RetryInitial time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
	return c
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("scuttleapi: base url required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("scuttleapi: invalid base url %q", c.BaseURL)
	}
	return nil
}

type Client struct {
	hc      *http.Client
	log     logx.Logger
	metrics *metrics.Metrics

	mu  sync.RWMutex
	cfg Config
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }
func WithLogger(log logx.Logger) Option     { return func(c *Client) { c.log = log } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, hc: &http.Client{}}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c, nil
}

// Apply swaps connection settings; requests already in flight keep theirs.
func (c *Client) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	return nil
}

func (c *Client) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// statusError is a non-2xx answer.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// get fetches path and decodes the envelope's data member into out.
// endpoint is a low-cardinality label used for logs and metrics.
func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	cfg := c.config()
	u := cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInitial
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.RetryMax)), ctx)

	var body []byte
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		b, err := c.once(ctx, cfg, endpoint, u)
		if err == nil {
			body = b
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.Code < 500 {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.log.Debug("backend request failed", logx.String("endpoint", endpoint), logx.Int("attempt", attempt), logx.Err(err))
		return err
	}, policy)
	if err != nil {
		return classify(endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: decode envelope: %w: %w", endpoint, arena.ErrUnavailable, err)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w: %w", endpoint, arena.ErrUnavailable, err)
	}
	return nil
}

func (c *Client) once(ctx context.Context, cfg Config, endpoint, u string) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.metrics.GatewayRequest(endpoint, "error", time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()
	c.metrics.GatewayRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Body: snippet(body)}
	}
	return body, nil
}

func classify(endpoint string, err error) error {
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", endpoint, arena.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", endpoint, arena.ErrUnavailable, err)
}

// snippet keeps the first 200 runes of an error body for logs.
func snippet(b []byte) string {
	const maxRunes = 200
	s := strings.TrimSpace(string(b))
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
