package llm

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AI-driven-ST-Foundation/agent/logger"
)

// RetryAfterProvider exposes the most recent Retry-After hint seen on the wire.
type RetryAfterProvider interface {
	GetLastRetryAfter() (time.Duration, time.Time)
	ClearRetryAfter()
}

// RetryAfterHTTPClient is an HTTP doer that remembers the Retry-After value
// of the last 429 response. SDK errors only carry the message, not headers.
type RetryAfterHTTPClient struct {
	client *http.Client

	mu      sync.RWMutex
	delay   time.Duration
	seenAt  time.Time
	staleIn time.Duration
}

func NewRetryAfterHTTPClient(client *http.Client) *RetryAfterHTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &RetryAfterHTTPClient{client: client, staleIn: time.Minute}
}

// HTTPClient returns the underlying client for SDKs that want *http.Client.
func (c *RetryAfterHTTPClient) HTTPClient() *http.Client {
	return c.client
}

func (c *RetryAfterHTTPClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if d := retryAfterFromHeader(resp.Header); d > 0 {
		c.mu.Lock()
		c.delay = d
		c.seenAt = time.Now()
		c.mu.Unlock()
		logger.Logger.Debug("Captured Retry-After from 429 response", "retry_after", d)
	}
	return resp, nil
}

func (c *RetryAfterHTTPClient) GetLastRetryAfter() (time.Duration, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.delay == 0 || time.Since(c.seenAt) > c.staleIn {
		return 0, time.Time{}
	}
	return c.delay, c.seenAt
}

func (c *RetryAfterHTTPClient) ClearRetryAfter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = 0
	c.seenAt = time.Time{}
}

// retryAfterFromHeader prefers Azure's retry-after-ms, then Retry-After as
// seconds or an HTTP date.
func retryAfterFromHeader(h http.Header) time.Duration {
	if ms, err := strconv.Atoi(strings.TrimSpace(h.Get("retry-after-ms"))); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return time.Second
	}
	logger.Logger.Warn("Could not parse Retry-After header", "value", value)
	return 0
}
