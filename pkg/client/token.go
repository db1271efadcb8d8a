package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
)

// defaultTokenLifetime is assumed when the token endpoint omits
// expires_in, matching upstream behavior.
const defaultTokenLifetime = 300 * time.Second

var wnTokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wn_token_refreshes_total",
	Help: "Total token endpoint grants by outcome",
}, []string{"outcome"})

// ensureToken returns a non-expired bearer token, performing a
// client-credentials grant against the token endpoint if the cached
// token is missing or past its expiry. Grant failures are retried
// with the same fixed-delay policy as data requests; exhaustion is an
// authentication error.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"client_credentials"},
	}

	var token string
	var lifetime time.Duration
	attempts := 0

	err := c.retry(ctx, "token", func() error {
		attempts++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.config.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("create token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Int("attempt", attempts).
				Msg("Token request failed")
			return markRetryable(fmt.Errorf("token request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return markRetryable(&APIError{
				Kind:       ErrAuthentication,
				StatusCode: resp.StatusCode,
				Message:    "token endpoint returned " + resp.Status,
			})
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return markRetryable(fmt.Errorf("read token response: %w", err))
		}
		if !gjson.ValidBytes(body) {
			return markRetryable(&APIError{
				Kind:    ErrAuthentication,
				Message: "malformed token payload",
			})
		}

		accessToken := gjson.GetBytes(body, "access_token")
		if !accessToken.Exists() || accessToken.String() == "" {
			return markRetryable(&APIError{
				Kind:    ErrAuthentication,
				Message: "token payload is missing access_token",
			})
		}

		token = accessToken.String()
		lifetime = defaultTokenLifetime
		if expiresIn := gjson.GetBytes(body, "expires_in").Int(); expiresIn > 0 {
			lifetime = time.Duration(expiresIn) * time.Second
		}
		return nil
	})
	if err != nil {
		wnTokenRefreshesTotal.WithLabelValues("failure").Inc()
		return "", c.wrapAuthError(err, attempts)
	}

	// The token is replaced, never mutated; a discarded token is gone.
	c.token = token
	c.tokenExpiry = time.Now().Add(lifetime - c.config.TokenExpiryMargin)
	wnTokenRefreshesTotal.WithLabelValues("success").Inc()

	c.logger.Info().
		Dur("lifetime", lifetime).
		Int("attempts", attempts).
		Msg("Obtained bearer token")

	return token, nil
}

// invalidateToken discards the cached token so the next request must
// perform a fresh grant.
func (c *Client) invalidateToken() {
	c.token = ""
	c.tokenExpiry = time.Time{}
}

func (c *Client) wrapAuthError(err error, attempts int) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Attempts == 0 {
			apiErr.Attempts = attempts
		}
		return apiErr
	}
	if errors.Is(err, ErrContextCancelled) {
		return err
	}
	return &APIError{
		Kind:     ErrAuthentication,
		Attempts: attempts,
		Message:  "unable to obtain token",
		Err:      err,
	}
}
