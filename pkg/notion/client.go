// Package notion is a small client for the parts of the Notion API used by a
// database transfer: querying a database page by page and creating pages.
package notion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Config holds the connection and retry settings shared by every client.
type Config struct {
	BaseURL    string
	APIVersion string
	// MaxRetries is the total number of attempts made for one request.
	MaxRetries int
	// RetryDelay is the fixed wait after a transport error or a non-2xx status.
	RetryDelay time.Duration
	// RateLimitDelay is the wait after a 429 without a Retry-After header.
	RateLimitDelay time.Duration
	// RetryAfterUnit scales the Retry-After header value. Defaults to a second.
	RetryAfterUnit time.Duration
	Timeout        time.Duration
}

// Stats counts what happened on the wire since the client was created.
type Stats struct {
	Requests    int64
	Retries     int64
	RateLimited int64
	Waited      time.Duration
}

// Client issues authenticated requests with a fixed-delay retry policy.
type Client struct {
	token string
	cfg   Config
	http  *retryablehttp.Client
	log   zerolog.Logger

	requests    atomic.Int64
	retries     atomic.Int64
	rateLimited atomic.Int64
	waited      atomic.Duration
}

// NewClient creates a client authenticated with the given integration token.
func NewClient(token string, cfg Config, log zerolog.Logger) *Client {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryAfterUnit <= 0 {
		cfg.RetryAfterUnit = time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		token: token,
		cfg:   cfg,
		log:   log.With().Str("component", "notion").Logger(),
	}

	rc := retryablehttp.NewClient()
	rc.Logger = leveledLogger{log: c.log}
	rc.RetryMax = cfg.MaxRetries - 1
	rc.RetryWaitMin = cfg.RetryDelay
	rc.RetryWaitMax = cfg.RateLimitDelay
	rc.CheckRetry = c.checkRetry
	rc.Backoff = c.backoff
	rc.ErrorHandler = c.giveUp
	rc.RequestLogHook = c.logAttempt
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	c.http = rc

	return c
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:    c.requests.Load(),
		Retries:     c.retries.Load(),
		RateLimited: c.rateLimited.Load(),
		Waited:      c.waited.Load(),
	}
}

func (c *Client) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		c.log.Error().Err(err).Msg("API request failed")
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Error().
			Str("endpoint", endpointOf(resp.Request)).
			Int("status", resp.StatusCode).
			Msg("API request failed")
		return true, nil
	}
	return false, nil
}

// backoff returns the server-directed wait on 429 and RetryDelay otherwise.
// The attempt number is ignored.
func (c *Client) backoff(_, _ time.Duration, _ int, resp *http.Response) time.Duration {
	wait := c.cfg.RetryDelay
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		wait = c.cfg.RateLimitDelay
		if s := resp.Header.Get("Retry-After"); s != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= 0 {
				wait = time.Duration(n) * c.cfg.RetryAfterUnit
			}
		}
		c.rateLimited.Inc()
		c.log.Warn().
			Str("endpoint", endpointOf(resp.Request)).
			Dur("wait", wait).
			Msg("rate limit hit, waiting")
	} else {
		ev := c.log.Warn().Dur("wait", wait)
		if resp != nil {
			ev = ev.Str("endpoint", endpointOf(resp.Request)).Int("status", resp.StatusCode)
		}
		ev.Msg("request failed, waiting before retry")
	}
	c.retries.Inc()
	c.waited.Add(wait)
	return wait
}

func (c *Client) logAttempt(_ retryablehttp.Logger, req *http.Request, attempt int) {
	c.requests.Inc()
	if attempt > 0 {
		c.log.Warn().
			Str("method", req.Method).
			Str("endpoint", endpointOf(req)).
			Int("attempt", attempt+1).
			Int("max_attempts", c.cfg.MaxRetries).
			Msg("retrying request")
	}
}

// giveUp turns an exhausted request into a TransportFailure. Method and
// endpoint are filled in by do.
func (c *Client) giveUp(resp *http.Response, err error, numTries int) (*http.Response, error) {
	tf := &TransportFailure{Attempts: numTries, Err: err}
	if resp != nil {
		defer resp.Body.Close()
		tf.Status = resp.StatusCode
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if apiErr := parseError(body); apiErr != "" {
			tf.Message = apiErr
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			tf.Err = ErrRateLimited
		}
	}
	tf.Code = codeForStatus(tf.Status)
	if tf.Err == nil {
		tf.Err = fmt.Errorf("unexpected status %d", tf.Status)
	}
	return nil, tf
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var raw interface{}
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.cfg.BaseURL+"/"+endpoint, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", c.cfg.APIVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		var tf *TransportFailure
		if errors.As(err, &tf) {
			tf.Method, tf.Endpoint = method, endpoint
			return nil, tf
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportFailure{
			Method:   method,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Attempts: 1,
			Code:     CodeNetwork,
			Err:      err,
		}
	}
	if msg := parseError(data); msg != "" {
		return nil, &TransportFailure{
			Method:   method,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Attempts: 1,
			Code:     codeForStatus(resp.StatusCode),
			Message:  msg,
			Err:      errors.New(msg),
		}
	}
	return data, nil
}

func endpointOf(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.Path
}

type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Trace().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}
