// Package client provides the Wiener Netze Smart Meter API client with
// bearer-token management, fixed-delay retries, and date-range chunked
// fetching of measured values.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Production endpoints of the Wiener Netze Smart Meter gateway.
const (
	DefaultTokenURL = "https://log.wien/auth/realms/logwien/protocol/openid-connect/token"
	DefaultBaseURL  = "https://api.wstw.at/gateway/WN_SMART_METER_API/1.0/"
)

// Request configuration defaults.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
	DefaultTimeout    = 10 * time.Second
)

// apiKeyHeader is the gateway header carrying the API key.
const apiKeyHeader = "x-Gateway-APIKey"

// Prometheus metrics for request execution.
var (
	wnRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wn_requests_total",
		Help: "Total requests by endpoint and status",
	}, []string{"endpoint", "status"})

	wnRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wn_request_duration_seconds",
		Help:    "Request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})
)

// Config holds the client configuration. Credentials are opaque
// strings supplied by the embedding application and held only in
// memory for the client's lifetime.
type Config struct {
	// OAuth2 client-credentials grant inputs (required).
	ClientID     string
	ClientSecret string

	// APIKey is sent with every data request in the gateway header.
	APIKey string

	// TokenURL and BaseURL default to the production gateway.
	TokenURL string
	BaseURL  string

	// MaxRetries is the total number of attempts per request.
	MaxRetries int

	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// TokenExpiryMargin is subtracted from the lifetime declared by
	// the token endpoint. Zero means the token is used for its full
	// declared lifetime.
	TokenExpiryMargin time.Duration
}

// DefaultConfig returns a configuration for the production gateway
// with default retry and timeout settings.
func DefaultConfig(clientID, clientSecret, apiKey string) Config {
	return Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		APIKey:       apiKey,
		TokenURL:     DefaultTokenURL,
		BaseURL:      DefaultBaseURL,
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   DefaultRetryDelay,
		Timeout:      DefaultTimeout,
	}
}

// Client is the Wiener Netze Smart Meter API client.
//
// The client is single-threaded by design: the cached token is owned
// by the one instance and refresh is not synchronized. Callers using
// a client from multiple goroutines must serialize access externally.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger

	// Cached bearer token, replaced wholesale on refresh.
	token       string
	tokenExpiry time.Time
}

// New creates a new client. Credentials are validated here so a
// misconfigured client fails at construction, not on first request.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	logger := log.With().Str("component", "wn-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// do performs one logical API request: it guarantees a valid token,
// issues the HTTP request with the gateway headers, retries transient
// failures with a fixed delay, and parses the JSON body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values) (Payload, error) {
	method = strings.ToUpper(method)
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	endpoint := c.config.BaseURL + path

	start := time.Now()
	defer func() {
		wnRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	var payload Payload
	attempts := 0

	err := c.retry(ctx, path, func() error {
		attempts++

		token, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if len(query) > 0 {
			req.URL.RawQuery = query.Encode()
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(apiKeyHeader, c.config.APIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			wnRequestsTotal.WithLabelValues(path, "network_error").Inc()
			c.logger.Warn().
				Err(err).
				Str("endpoint", path).
				Str("method", method).
				Msg("HTTP request failed")
			return markRetryable(fmt.Errorf("%s %s: %w", method, path, err))
		}
		defer resp.Body.Close()

		wnRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

		class := classifyStatus(resp.StatusCode)
		switch class {
		case ErrorClassAuth:
			return &APIError{
				Kind:       ErrRequestFailed,
				StatusCode: resp.StatusCode,
				Message:    "bearer token rejected",
				Err:        errStaleToken,
			}
		case ErrorClassServer:
			c.logger.Warn().
				Str("endpoint", path).
				Int("status", resp.StatusCode).
				Msg("Upstream server error")
			return markRetryable(&APIError{
				Kind:       ErrRequestFailed,
				StatusCode: resp.StatusCode,
				Message:    resp.Status,
			})
		case ErrorClassClient:
			return &APIError{
				Kind:       ErrRequestFailed,
				StatusCode: resp.StatusCode,
				Message:    resp.Status,
			}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return markRetryable(fmt.Errorf("read response body: %w", err))
		}
		if !gjson.ValidBytes(body) {
			return &APIError{
				Kind:       ErrMalformedResponse,
				StatusCode: resp.StatusCode,
				Message:    "response is not valid JSON",
			}
		}

		payload = Payload(body)
		return nil
	})
	if err != nil {
		return nil, c.wrapRequestError(err, attempts)
	}

	c.logger.Debug().
		Str("endpoint", path).
		Str("method", method).
		Int("attempts", attempts).
		Dur("duration", time.Since(start)).
		Msg("Request completed")

	return payload, nil
}

// wrapRequestError normalizes an exhausted or terminal error into an
// APIError carrying the attempt count.
func (c *Client) wrapRequestError(err error, attempts int) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Attempts == 0 {
			apiErr.Attempts = attempts
		}
		return apiErr
	}
	if errors.Is(err, ErrContextCancelled) || errors.Is(err, ErrUnsupportedMethod) {
		return err
	}
	return &APIError{
		Kind:     ErrRequestFailed,
		Attempts: attempts,
		Message:  "request did not complete",
		Err:      err,
	}
}

// SetHTTPClient replaces the underlying HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}
