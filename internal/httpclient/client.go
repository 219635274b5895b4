// Package httpclient provides the HTTP client used for connectivity probes,
// with per-request deadlines, connection pooling and observability hooks.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/magtest/internal/errors"
)

const (
	// DefaultTimeout applies when the request context has no deadline
	DefaultTimeout = 30 * time.Second

	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultDialKeepAlive       = 30 * time.Second

	defaultUserAgent = "magtest"
)

// Client wraps http.Client with default deadlines and request hooks.
// Safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string

	hookMu        sync.RWMutex
	beforeRequest func(*http.Request)
	afterResponse func(*http.Request, *http.Response, error, time.Duration)
}

// Config holds client settings; zero values take defaults
type Config struct {
	DefaultTimeout      time.Duration
	UserAgent           string
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	// Transport replaces the pooled transport, mainly for tests
	Transport http.RoundTripper
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:      DefaultTimeout,
		UserAgent:           defaultUserAgent,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
	}
}

// New creates a client. A nil cfg uses DefaultConfig; cfg is not mutated.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.UserAgent != "" {
			c.UserAgent = cfg.UserAgent
		}
		if cfg.MaxIdleConns > 0 {
			c.MaxIdleConns = cfg.MaxIdleConns
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		if cfg.IdleConnTimeout > 0 {
			c.IdleConnTimeout = cfg.IdleConnTimeout
		}
		c.Transport = cfg.Transport
	}

	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        c.MaxIdleConns,
			MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
			IdleConnTimeout:     c.IdleConnTimeout,
			TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		}
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
	}
}

// Do executes req under ctx, applying the default timeout when ctx has no
// deadline. The caller closes the response body when err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.Newf("nil request").
			Component("httpclient").
			Category(errors.CategoryValidation).
			Build()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.hookMu.RLock()
	before, after := c.beforeRequest, c.afterResponse
	c.hookMu.RUnlock()

	if before != nil {
		before(req)
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	if after != nil {
		after(req, resp, err, time.Since(start))
	}
	return resp, err
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.simple(ctx, http.MethodGet, url)
}

// Head performs a HEAD request
func (c *Client) Head(ctx context.Context, url string) (*http.Response, error) {
	return c.simple(ctx, http.MethodHead, url)
}

func (c *Client) simple(ctx context.Context, method, url string) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("httpclient").
			Category(errors.CategoryValidation).
			Context("method", method).
			Build()
	}
	return c.Do(ctx, req)
}

// SetBeforeRequestHook sets a function called before each request
func (c *Client) SetBeforeRequestHook(fn func(*http.Request)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.beforeRequest = fn
}

// SetAfterResponseHook sets a function called after each request with its latency
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error, time.Duration)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle pooled connections
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
