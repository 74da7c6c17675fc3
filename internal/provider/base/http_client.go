package base

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultRetryInterval = 250 * time.Millisecond
	maxRetryInterval     = 5 * time.Second
)

// HTTPClient is the JSON transport shared by gateway clients: one timeout,
// bounded backoff, request logging.
type HTTPClient struct {
	client        *http.Client
	baseURL       string
	name          string
	maxRetries    uint64
	retryInterval time.Duration
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithRetries bounds the number of retries after the first attempt.
func WithRetries(n uint64) Option {
	return func(c *HTTPClient) { c.maxRetries = n }
}

// WithRetryInterval sets the first backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// NewHTTPClient returns a client named after its gateway. A zero timeout uses 30s.
func NewHTTPClient(providerName string, timeout time.Duration, opts ...Option) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &HTTPClient{
		client:        &http.Client{Timeout: timeout},
		name:          providerName,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetBaseURL is prepended to every endpoint.
func (c *HTTPClient) SetBaseURL(u string) { c.baseURL = u }

// PostJSON sends a request that must not be replayed once the provider may
// have processed it. Only explicit "try later" answers (429, 503) are retried.
func (c *HTTPClient) PostJSON(ctx context.Context, endpoint string, payload any, headers map[string]string) (*HTTPResponse, error) {
	return c.post(ctx, endpoint, payload, headers, false)
}

// PostJSONIdempotent sends a read-only POST; transport errors and 5xx are retried.
func (c *HTTPClient) PostJSONIdempotent(ctx context.Context, endpoint string, payload any, headers map[string]string) (*HTTPResponse, error) {
	return c.post(ctx, endpoint, payload, headers, true)
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, payload any, headers map[string]string, idempotent bool) (*HTTPResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", c.name, err)
	}
	return c.do(ctx, http.MethodPost, endpoint, body, headers, idempotent)
}

// Get is retried like PostJSONIdempotent.
func (c *HTTPClient) Get(ctx context.Context, endpoint string, headers map[string]string) (*HTTPResponse, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, headers, true)
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte, headers map[string]string, idempotent bool) (*HTTPResponse, error) {
	target := c.baseURL + endpoint
	var last *HTTPResponse

	op := func() error {
		last = nil
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("User-Agent", fmt.Sprintf("MalricPharma/%s", c.name))
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		log.Debug().
			Str("gateway", c.name).
			Str("method", method).
			Str("endpoint", endpoint).
			Msg("gateway request")

		resp, err := c.client.Do(req)
		if err != nil {
			log.Error().Err(err).
				Str("gateway", c.name).
				Str("endpoint", endpoint).
				Msg("gateway unreachable")
			err = fmt.Errorf("%s %s: %w", method, endpoint, err)
			if !idempotent {
				return backoff.Permanent(err)
			}
			return err
		}

		r, err := c.read(resp)
		if err != nil {
			if !idempotent {
				return backoff.Permanent(err)
			}
			return err
		}
		last = r
		if retryableStatus(r.StatusCode, idempotent) {
			return fmt.Errorf("%s returned status %d", c.name, r.StatusCode)
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	eb.MaxInterval = maxRetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxRetries), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		log.Warn().
			Str("gateway", c.name).
			Str("endpoint", endpoint).
			Dur("wait", wait).
			Err(err).
			Msg("retrying HTTP request")
	})
	if last != nil {
		// Retries exhausted on a status answer: hand the response to the caller.
		return last, nil
	}
	if err != nil {
		return nil, err
	}
	return last, nil
}

func retryableStatus(code int, idempotent bool) bool {
	if code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable {
		return true
	}
	return idempotent && code >= 500
}

func (c *HTTPClient) read(resp *http.Response) (*HTTPResponse, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.name, err)
	}

	log.Debug().
		Str("gateway", c.name).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("gateway response")

	return &HTTPResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// HTTPResponse is a fully read response.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

func (r *HTTPResponse) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Decode unmarshals the JSON body into v.
func (r *HTTPResponse) Decode(v any) error { return json.Unmarshal(r.Body, v) }

// String returns the raw body, used verbatim in gateway error details.
func (r *HTTPResponse) String() string { return string(r.Body) }
