package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/hausnetz/wn-smartmeter-client/internal/testutil"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("id", "secret", "key"),
			expectError: false,
		},
		{
			name:        "missing client id",
			config:      Config{ClientSecret: "secret", APIKey: "key"},
			expectError: true,
			errorMsg:    "client id is required",
		},
		{
			name:        "missing client secret",
			config:      Config{ClientID: "id", APIKey: "key"},
			expectError: true,
			errorMsg:    "client secret is required",
		},
		{
			name:        "missing api key",
			config:      Config{ClientID: "id", ClientSecret: "secret"},
			expectError: true,
			errorMsg:    "api key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatal("expected error but got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("error = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c == nil {
				t.Fatal("client is nil")
			}
		})
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	c, err := New(Config{ClientID: "id", ClientSecret: "secret", APIKey: "key"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if c.config.TokenURL != DefaultTokenURL {
		t.Errorf("TokenURL = %q, want default", c.config.TokenURL)
	}
	if c.config.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want default", c.config.BaseURL)
	}
	if c.config.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", c.config.MaxRetries, DefaultMaxRetries)
	}
	if c.config.RetryDelay != DefaultRetryDelay {
		t.Errorf("RetryDelay = %v, want %v", c.config.RetryDelay, DefaultRetryDelay)
	}
	if c.config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.config.Timeout, DefaultTimeout)
	}
}

func TestNew_NormalizesBaseURL(t *testing.T) {
	c, err := New(Config{
		ClientID: "id", ClientSecret: "secret", APIKey: "key",
		BaseURL: "https://gateway.example.com/v1",
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if c.config.BaseURL != "https://gateway.example.com/v1/" {
		t.Errorf("BaseURL = %q, want trailing slash", c.config.BaseURL)
	}
}

func TestDo_SetsGatewayHeaders(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("zaehlpunkte", testutil.MockResponse{Body: `{"ok":true}`})

	c := newTestClient(t, mock, nil)

	if _, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil); err != nil {
		t.Fatalf("do() failed: %v", err)
	}

	if mock.LastAuthz != "Bearer token-1" {
		t.Errorf("Authorization = %q, want %q", mock.LastAuthz, "Bearer token-1")
	}
	if mock.LastAPIKey != "test-api-key" {
		t.Errorf("x-Gateway-APIKey = %q, want %q", mock.LastAPIKey, "test-api-key")
	}
}

func TestDo_UnsupportedMethod(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	c := newTestClient(t, mock, nil)

	_, err := c.do(context.Background(), http.MethodPut, "zaehlpunkte", nil)
	if !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("expected ErrUnsupportedMethod, got %v", err)
	}
	if mock.DataRequests() != 0 {
		t.Errorf("data requests = %d, want 0", mock.DataRequests())
	}
}

func TestDo_RetryOnServerError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("zaehlpunkte", testutil.MockResponse{
		Body:     `{"ok":true}`,
		Failures: 2,
	})

	c := newTestClient(t, mock, nil)

	payload, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil)
	if err != nil {
		t.Fatalf("do() failed: %v", err)
	}
	if !payload.Get("ok").Bool() {
		t.Errorf("payload = %s, want ok=true", payload)
	}
	if got := mock.PathRequests("zaehlpunkte"); got != 3 {
		t.Errorf("requests = %d, want 3 (two failures plus success)", got)
	}
}

func TestDo_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("zaehlpunkte", testutil.MockResponse{
		Body:     `{"ok":true}`,
		Failures: 10,
	})

	c := newTestClient(t, mock, nil)

	_, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("expected ErrRequestFailed, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", apiErr.StatusCode)
	}
	if apiErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", apiErr.Attempts)
	}
	if got := mock.PathRequests("zaehlpunkte"); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("zaehlpunkte", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"unknown metering point"}`)
	})

	c := newTestClient(t, mock, nil)

	_, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil)
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("expected ErrRequestFailed, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if got := mock.PathRequests("zaehlpunkte"); got != 1 {
		t.Errorf("requests = %d, want 1 (4xx is not retried)", got)
	}
}

func TestDo_MalformedJSONNotRetried(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("zaehlpunkte", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>maintenance</html>")
	})

	c := newTestClient(t, mock, nil)

	_, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
	if got := mock.PathRequests("zaehlpunkte"); got != 1 {
		t.Errorf("requests = %d, want 1 (malformed payloads are not retried)", got)
	}
}

func TestDo_StaleTokenRefreshedOnce(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	// Reject the first issued token, accept any later one.
	mock.SetHandler("zaehlpunkte", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	})

	c := newTestClient(t, mock, nil)

	payload, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil)
	if err != nil {
		t.Fatalf("do() failed: %v", err)
	}
	if !payload.Get("ok").Bool() {
		t.Errorf("payload = %s, want ok=true", payload)
	}
	if mock.TokenGrants() != 2 {
		t.Errorf("token grants = %d, want 2 (one forced refresh)", mock.TokenGrants())
	}
	if got := mock.PathRequests("zaehlpunkte"); got != 2 {
		t.Errorf("requests = %d, want 2 (original plus one re-issue)", got)
	}
}

func TestDo_SecondUnauthorizedIsTerminal(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetHandler("zaehlpunkte", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, mock, nil)

	_, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("expected ErrRequestFailed, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if mock.TokenGrants() != 2 {
		t.Errorf("token grants = %d, want 2 (exactly one forced refresh)", mock.TokenGrants())
	}
	if got := mock.PathRequests("zaehlpunkte"); got != 2 {
		t.Errorf("requests = %d, want 2 (no further retries after the forced one)", got)
	}
}

func TestDo_FixedDelayBetweenRetries(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("zaehlpunkte", testutil.MockResponse{
		Body:     `{"ok":true}`,
		Failures: 2,
	})

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.RetryDelay = 50 * time.Millisecond
	})

	start := time.Now()
	if _, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil); err != nil {
		t.Fatalf("do() failed: %v", err)
	}
	elapsed := time.Since(start)

	// Two retries at a fixed 50ms delay each.
	if elapsed < 100*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 100ms of fixed delays", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("elapsed = %v, delays should stay fixed, not back off", elapsed)
	}
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("zaehlpunkte", testutil.MockResponse{
		Body:     `{"ok":true}`,
		Failures: 10,
	})

	c := newTestClient(t, mock, func(cfg *Config) {
		cfg.RetryDelay = 5 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.do(ctx, http.MethodGet, "zaehlpunkte", nil)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("expected ErrContextCancelled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("cancellation should abort the retry delay promptly, took %v", time.Since(start))
	}
}

func TestDo_AuthFailureAbortsRequest(t *testing.T) {
	mock := testutil.NewMockAPI()
	mock.TokenFailures = 10
	defer mock.Close()
	mock.SetResponse("zaehlpunkte", testutil.MockResponse{Body: `{"ok":true}`})

	c := newTestClient(t, mock, nil)

	_, err := c.do(context.Background(), http.MethodGet, "zaehlpunkte", nil)
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
	if mock.DataRequests() != 0 {
		t.Errorf("data requests = %d, want 0 (no request without a valid token)", mock.DataRequests())
	}
}
