package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"polywallet/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Client provides a standardized JSON-over-HTTP client with rate limiting,
// retries, a circuit breaker and structured logging.
type Client struct {
	Endpoint    string
	ApiKey      string
	RateLimiter *rate.Limiter
	MaxRetries  int
	RetryDelay  time.Duration
	HTTPTimeout time.Duration
	Logger      *zerolog.Logger
	HTTPClient  *http.Client

	breaker *gobreaker.CircuitBreaker
}

// ClientOptions configures NewClient. Zero values fall back to defaults.
type ClientOptions struct {
	Name        string
	ApiKey      string
	AuthHeader  string
	RateLimit   float64
	MaxRetries  int
	RetryDelay  time.Duration
	HTTPTimeout time.Duration
}

// NewClient creates a new RPC client with the given configuration
func NewClient(endpoint string, opts ClientOptions, logger *zerolog.Logger) *Client {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.Name == "" {
		opts.Name = endpoint
	}

	return &Client{
		Endpoint:    strings.TrimRight(endpoint, "/"),
		ApiKey:      opts.ApiKey,
		RateLimiter: rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		MaxRetries:  opts.MaxRetries,
		RetryDelay:  opts.RetryDelay,
		HTTPTimeout: opts.HTTPTimeout,
		Logger:      logger,
		HTTPClient: &http.Client{
			Timeout: opts.HTTPTimeout,
			Transport: &CustomTransport{
				Base:   http.DefaultTransport,
				ApiKey: opts.ApiKey,
				Header: opts.AuthHeader,
			},
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        opts.Name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
			},
		}),
	}
}

// CustomTransport adds API key authentication to HTTP requests. Header
// defaults to a bearer Authorization header.
type CustomTransport struct {
	Base   http.RoundTripper
	ApiKey string
	Header string
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	if t.ApiKey != "" {
		if t.Header == "" {
			req.Header.Set("Authorization", "Bearer "+t.ApiKey)
		} else {
			req.Header.Set(t.Header, t.ApiKey)
		}
	}
	return t.Base.RoundTrip(req)
}

// HTTPError is a non-retryable HTTP status answered by the remote.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error: %d - %s", e.StatusCode, e.Body)
}

type httpResult struct {
	status int
	body   []byte
}

// Post sends payload to the endpoint and returns the raw response body.
func (c *Client) Post(ctx context.Context, payload interface{}) ([]byte, error) {
	return c.Call(ctx, http.MethodPost, "", payload)
}

// Call performs a request with rate limiting, retries and error handling.
// Network failures and 5xx answers are retried and surface as
// *models.TransportError; other non-2xx answers return *HTTPError.
func (c *Client) Call(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	op := method + " " + c.Endpoint + path

	c.Logger.Debug().
		Str("endpoint", c.Endpoint).
		Str("method", method).
		Str("path", path).
		Msg("Making RPC call")

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
	}

	if err := c.RateLimiter.Wait(ctx); err != nil {
		return nil, &models.TransportError{Op: op, Err: errors.Wrap(err, "rate limit")}
	}

	var result *httpResult
	err := c.retry(ctx, func() error {
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, method, c.Endpoint+path, body)
		})
		if err != nil {
			return err
		}
		result = res.(*httpResult)
		return nil
	})
	if err != nil {
		c.Logger.Error().
			Err(err).
			Str("method", method).
			Str("endpoint", c.Endpoint).
			Msg("RPC call failed")
		return nil, &models.TransportError{Op: op, Err: err}
	}

	if result.status < 200 || result.status > 299 {
		return nil, &HTTPError{StatusCode: result.status, Body: strings.TrimSpace(string(result.body))}
	}
	return result.body, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*httpResult, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.Errorf("HTTP error: %d - %s", resp.StatusCode, resp.Status)
	}
	return &httpResult{status: resp.StatusCode, body: data}, nil
}

// retry executes fn up to MaxRetries times, stopping early when ctx is done.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < c.MaxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == c.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.RetryDelay):
		}
	}
	return err
}

// Close closes the HTTP client connections
func (c *Client) Close() {
	if c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}
}
