// Package providerhttp is the authenticated request helper shared by the
// calendar provider adapters: bearer credentials, method dispatch, and a
// per-provider circuit breaker.
package providerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
)

// ErrUnsupportedMethod is returned for an HTTP method the helper does
// not dispatch. This is a programmer error, never a retry candidate.
var ErrUnsupportedMethod = errors.New("unsupported HTTP method")

const requestTimeout = 15 * time.Second

// Response is the decoded outcome of a provider API call.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client issues authenticated JSON requests against one provider's API.
// The breaker opens after consecutive transport or server-side failures;
// client-side 4xx responses never trip it.
type Client struct {
	provider string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*Response]
	logger   *slog.Logger
}

// NewClient creates an authenticated client for one (user, provider)
// token source.
func NewClient(provider string, source oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("provider circuit breaker state changed",
				"provider", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &Client{
		provider: provider,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &oauthTransport{
				base:   http.DefaultTransport,
				source: source,
			},
		},
		breaker: gobreaker.NewCircuitBreaker[*Response](settings),
		logger:  logger,
	}
}

// Do issues one authenticated request. A non-nil body is marshalled as
// JSON. Non-2xx responses are returned as *ProviderRequestError.
func (c *Client) Do(ctx context.Context, method, url string, body any, headers map[string]string) (*Response, error) {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.roundTrip(ctx, method, url, reader, headers)
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &calsyncDomain.ProviderRequestError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}
	return resp, nil
}

// roundTrip executes the request inside the breaker. Transport errors
// and 5xx responses count as breaker failures; 4xx responses do not.
func (c *Client) roundTrip(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		return nil, &calsyncDomain.ProviderRequestError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, out)
}

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}
