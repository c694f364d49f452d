package testutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
)

// MockResponse defines a canned response for one REST method.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockPortal is an httptest server answering webhook REST calls from a
// FakeTransport. Individual methods can be overridden with canned responses.
type MockPortal struct {
	*FakeTransport

	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	RequestCount  int
	LastUserAgent string
}

// webhookPath is the credential part of the webhook URL served by MockPortal.
const webhookPath = "/rest/1/testtoken/"

// NewMockPortal creates and starts a mock portal.
func NewMockPortal() *MockPortal {
	mock := &MockPortal{
		FakeTransport: NewFakeTransport(),
		handlers:      make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastUserAgent = r.Header.Get("User-Agent")
		mock.mu.Unlock()

		method, ok := strings.CutPrefix(r.URL.Path, webhookPath)
		if !ok || !strings.HasSuffix(method, ".json") {
			writeJSON(w, http.StatusUnauthorized, `{"error":"INVALID_CREDENTIALS","error_description":"Invalid request credentials"}`)
			return
		}
		method = strings.TrimSuffix(method, ".json")

		mock.mu.RLock()
		handler, exists := mock.handlers[method]
		mock.mu.RUnlock()
		if exists {
			handler(w, r)
			return
		}

		mock.serve(w, r, method)
	}))

	return mock
}

// WebhookURL returns the webhook base URL of the portal.
func (m *MockPortal) WebhookURL() string {
	return m.server.URL + webhookPath
}

// Close shuts down the server.
func (m *MockPortal) Close() {
	m.server.Close()
}

// SetHandler overrides the handling of one REST method.
func (m *MockPortal) SetHandler(method string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = handler
}

// SetResponse answers every call of method with resp.
func (m *MockPortal) SetResponse(method string, resp MockResponse) {
	m.SetHandler(method, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		writeJSON(w, resp.StatusCode, resp.Body)
	})
}

// GetRequestCount returns the number of HTTP requests served.
func (m *MockPortal) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

func (m *MockPortal) serve(w http.ResponseWriter, r *http.Request, method string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, `{"error":"INVALID_REQUEST"}`)
		return
	}

	resp, err := m.CallRaw(r.Context(), method, string(body))
	if err != nil {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			apiErr = &client.APIError{Code: client.CodeInternalServerError, Description: err.Error()}
		}
		payload, _ := json.Marshal(apiErr)
		writeJSON(w, statusFor(apiErr.Code), string(payload))
		return
	}

	payload, _ := json.Marshal(struct {
		Result json.RawMessage `json:"result"`
		Total  *int            `json:"total,omitempty"`
		Next   *int            `json:"next,omitempty"`
		Time   client.Time     `json:"time"`
	}{
		Result: resp.Result,
		Total:  resp.Total,
		Next:   resp.Next,
		Time:   client.Time{Duration: 0.01, Processing: 0.01},
	})
	writeJSON(w, http.StatusOK, string(payload))
}

func statusFor(code string) int {
	switch code {
	case client.CodeMethodNotFound:
		return http.StatusNotFound
	case client.CodeQueryLimitExceeded:
		return http.StatusServiceUnavailable
	case client.CodeInternalServerError:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

// NewQueryLimitResponse creates the portal's request-rate rejection.
func NewQueryLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error":"QUERY_LIMIT_EXCEEDED","error_description":"Too many requests"}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"INTERNAL_SERVER_ERROR","error_description":"Internal server error"}`,
	}
}
