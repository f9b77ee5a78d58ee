// Package rest is the retrying JSON transport shared by every venue adapter.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/predictagent/internal/domain"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
	DefaultFactor    = 2
	DefaultTimeout   = 30 * time.Second

	bodyPreview = 200
)

// Options configure a Client. Zero values take the defaults above; a zero
// RatePerSec disables rate limiting.
type Options struct {
	Attempts   int
	BaseDelay  time.Duration
	Factor     int
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Headers    map[string]string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client sends JSON requests with bounded retries and exponential backoff.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	headers   map[string]string
	attempts  int
	baseDelay time.Duration
	factor    int
	logger    *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Factor <= 0 {
		opts.Factor = DefaultFactor
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Client{
		http:      opts.HTTPClient,
		headers:   opts.Headers,
		attempts:  opts.Attempts,
		baseDelay: opts.BaseDelay,
		factor:    opts.Factor,
		logger:    opts.Logger,
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return c
}

// Request describes one logical call. NoReplay restricts retries to
// failures the server cannot have acted on: the connection was never made,
// or the reply was 429 or 503. Order submissions set it so a POST that may
// have reached the venue is never sent twice.
type Request struct {
	Method   string
	URL      string
	Body     any
	Headers  map[string]string
	NoReplay bool
}

// StatusError is a non-2xx response. It unwraps to ErrNotFound,
// ErrUnauthorized or ErrRateLimited where the status maps to one.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s: %s", e.Status, e.URL, Truncate(e.Body, bodyPreview))
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	}
	return nil
}

// AsStatus returns the StatusError inside err, if any.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	ok := errors.As(err, &se)
	return se, ok
}

// Get fetches url and decodes the JSON body into out (which may be nil).
func (c *Client) Get(ctx context.Context, url string, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url}, out)
}

// Do runs req and decodes the JSON body into out. Each attempt fails on a
// transport error, a non-2xx status or a body that is not JSON.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	raw, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rest: decode %s: %w", req.URL, err)
	}
	return nil
}

// DoRaw is Do without decoding; the returned body is valid JSON.
func (c *Client) DoRaw(ctx context.Context, req Request) (json.RawMessage, error) {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("rest: marshal body for %s: %w", req.URL, err)
		}
		payload = b
	}

	var lastErr error
	tried := 0
	delay := c.baseDelay
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("rest: %s: %w (last error: %v)", req.URL, ctx.Err(), lastErr)
			case <-time.After(delay):
			}
			delay *= time.Duration(c.factor)
		}

		tried++
		body, err := c.attempt(ctx, req, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil || (req.NoReplay && !unsent(err)) {
			break
		}
		c.logger.DebugContext(ctx, "request attempt failed",
			slog.String("url", req.URL),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	if tried > 1 {
		return nil, fmt.Errorf("rest: %s failed after %d attempts: %w", req.URL, tried, lastErr)
	}
	return nil, lastErr
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) attempt(ctx context.Context, req Request, payload []byte) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rest: rate limiter: %w", err)
		}
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("rest: build request %s: %w", req.URL, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rest: %s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest: read %s: %w", req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: req.URL, Status: resp.StatusCode, Body: string(body)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("rest: non-JSON body from %s: %s: %w",
			req.URL, Truncate(string(body), bodyPreview), domain.ErrBadResponse)
	}
	return body, nil
}

// unsent reports whether err proves the server did not process the request.
func unsent(err error) bool {
	if se, ok := AsStatus(err); ok {
		return se.Status == http.StatusTooManyRequests || se.Status == http.StatusServiceUnavailable
	}
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}

// Truncate cuts s to at most n bytes, backing off to a rune boundary.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
