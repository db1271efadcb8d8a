// Package testutil provides an in-process mock of the Wiener Netze
// Smart Meter gateway, covering both the token endpoint and the data
// endpoints.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// MockResponse defines a canned data-endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	// Failures is the number of requests to fail with FailStatus
	// before the canned response is served.
	Failures   int
	FailStatus int
}

// MockAPI is a configurable mock gateway for tests. The token
// endpoint lives at /token, data endpoints under /api/.
type MockAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	failures map[string]*MockResponse

	// Token endpoint behavior.
	ExpiresIn      int64 // seconds; 0 omits expires_in
	TokenFailures  int   // grants to fail with 500 before succeeding
	MalformedToken bool  // serve a non-JSON token payload

	// Tracking.
	TokenRequests int
	RequestCount  int
	PathCounts    map[string]int
	LastAuthz     string
	LastAPIKey    string
	LastQuery     url.Values
	LastGrant     url.Values
}

// NewMockAPI starts a mock gateway issuing tokens with a one hour
// lifetime by default.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		handlers:   make(map[string]http.HandlerFunc),
		failures:   make(map[string]*MockResponse),
		PathCounts: make(map[string]int),
		ExpiresIn:  3600,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", m.handleToken)
	mux.HandleFunc("/api/", m.handleData)
	m.server = httptest.NewServer(mux)
	return m
}

// TokenURL returns the mock token endpoint.
func (m *MockAPI) TokenURL() string {
	return m.server.URL + "/token"
}

// BaseURL returns the mock gateway base, with trailing slash.
func (m *MockAPI) BaseURL() string {
	return m.server.URL + "/api/"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetResponse configures a canned response for an API path relative
// to the base URL, e.g. "zaehlpunkte".
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := resp
	if r.FailStatus == 0 {
		r.FailStatus = http.StatusInternalServerError
	}
	m.failures["/api/"+path] = &r
}

// SetHandler installs a custom handler for an API path relative to
// the base URL.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers["/api/"+path] = handler
}

// TokenGrants returns how many grants the token endpoint served.
func (m *MockAPI) TokenGrants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TokenRequests
}

// DataRequests returns how many data requests were received.
func (m *MockAPI) DataRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// PathRequests returns how many requests hit the given relative path.
func (m *MockAPI) PathRequests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PathCounts["/api/"+path]
}

func (m *MockAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TokenRequests++
	if err := r.ParseForm(); err == nil {
		m.LastGrant = r.PostForm
	}
	fail := m.TokenFailures > 0
	if fail {
		m.TokenFailures--
	}
	malformed := m.MalformedToken
	expiresIn := m.ExpiresIn
	grant := m.TokenRequests
	m.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if malformed {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>not a token</html>")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if expiresIn > 0 {
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":%d}`, grant, expiresIn)
		return
	}
	fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer"}`, grant)
}

func (m *MockAPI) handleData(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.PathCounts[r.URL.Path]++
	m.LastAuthz = r.Header.Get("Authorization")
	m.LastAPIKey = r.Header.Get("x-Gateway-APIKey")
	m.LastQuery = r.URL.Query()

	if handler, ok := m.handlers[r.URL.Path]; ok {
		m.mu.Unlock()
		handler(w, r)
		return
	}

	resp, ok := m.failures[r.URL.Path]
	var failNow bool
	var canned MockResponse
	if ok {
		if resp.Failures > 0 {
			resp.Failures--
			failNow = true
		}
		canned = *resp
	}
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"not found"}`)
		return
	}
	if failNow {
		w.WriteHeader(canned.FailStatus)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if canned.StatusCode != 0 {
		w.WriteHeader(canned.StatusCode)
	}
	fmt.Fprint(w, canned.Body)
}
