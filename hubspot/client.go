// ABOUTME: HubSpot CRM HTTP client with bearer auth and budgeted retries
// ABOUTME: Every request goes through do(), which enforces per-call and per-invocation retry limits
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every CRM call.
const DefaultTimeout = 120 * time.Second

// DefaultBaseURL is the public HubSpot API host.
const DefaultBaseURL = "https://api.hubapi.com"

const maxRetryAfter = 10 * time.Second

// ErrNotFound matches an APIError carrying HTTP 404.
var ErrNotFound = errors.New("hubspot: not found")

// APIError is returned when a call fails with a non-2xx response and no
// retries remain.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Error fetching data: %d - %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the CRM REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	onRetry    func(status int)
	backoff    time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryHook registers fn to be called before each retry with the failing status.
func WithRetryHook(fn func(status int)) Option {
	return func(c *Client) { c.onRetry = fn }
}

// WithBackoff sets the pause between retries of non-429 failures.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// NewClient returns a client authenticating with a private-app token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = DefaultTimeout

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     zap.NewNop(),
		backoff:    time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs one logical call. A non-2xx response spends one retry from the
// call's own allowance and one from the invocation budget in ctx; when either
// is exhausted the response is returned as an *APIError. 404 is never retried.
// A ctx without a budget gets no retries.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	budget := RetryBudgetFrom(ctx)
	if budget == nil {
		budget = NewRetryBudget(0)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrapf(err, "failed to encode request for %s", path)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	callRetries := perCallRetries
	for {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return eris.Wrapf(err, "failed to build request for %s", path)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return eris.Wrapf(err, "failed to call %s %s", method, path)
		}
		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return eris.Wrapf(readErr, "failed to read response from %s", path)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return eris.Wrapf(err, "failed to decode response from %s", path)
			}
			return nil
		}

		apiErr := &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
		if resp.StatusCode == http.StatusNotFound {
			return apiErr
		}

		callRetries--
		budgetLeft := budget.spend()
		if callRetries < 0 || !budgetLeft {
			return apiErr
		}

		if c.onRetry != nil {
			c.onRetry(resp.StatusCode)
		}
		wait := c.retryDelay(resp)
		c.logger.Warn("hubspot: retrying call",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("wait", wait),
			zap.Int("budget_remaining", budget.Remaining()),
		)
		if err := sleep(ctx, wait); err != nil {
			return eris.Wrap(err, "retry wait interrupted")
		}
	}
}

func (c *Client) retryDelay(resp *http.Response) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > maxRetryAfter {
				d = maxRetryAfter
			}
			return d
		}
	}
	return c.backoff
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// getLink follows an absolute paging link returned by the API against this
// client's base URL.
func (c *Client) getLink(ctx context.Context, link string, out any) error {
	u, err := url.Parse(link)
	if err != nil {
		return eris.Wrapf(err, "invalid paging link %q", link)
	}
	return c.do(ctx, http.MethodGet, u.Path, u.Query(), nil, out)
}
