package common

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every request sent to the CrisisCircle API.
const DefaultTimeout = 10 * time.Second

// HttpClient is the plain transport used to reach the API.
// It never inspects responses; authentication handling lives one layer up.
type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
	CloseIdleConnections()
}

// HTTPError captures a non-2xx response together with the server's message, if any.
type HTTPError struct {
	StatusCode int
	Body       []byte
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status code: %d, message: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status code: %d, body: %s", e.StatusCode, string(e.Body))
}

// NewHTTPError builds an HTTPError and pulls the "message" field out of a JSON body.
func NewHTTPError(status int, body []byte) *HTTPError {
	return &HTTPError{
		StatusCode: status,
		Body:       body,
		Message:    ServerMessage(body),
	}
}

// ServerMessage returns the "message" field of a JSON error body, or "".
func ServerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return strings.TrimSpace(payload.Message)
}

// headerRoundTripper stamps the fixed API headers on every outgoing request.
type headerRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	clone.Header.Set("Accept", "application/json")
	if clone.Header.Get("Content-Type") == "" {
		clone.Header.Set("Content-Type", "application/json")
	}
	return rt.Wrapped.RoundTrip(clone)
}

type httpClient struct {
	client *http.Client
}

// NewAPIHttpClient returns an HttpClient with the fixed 10s timeout and JSON headers.
func NewAPIHttpClient(userAgent string, base *http.Client) HttpClient {
	if base == nil {
		base = &http.Client{}
	}
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	base.Transport = &headerRoundTripper{
		Wrapped:   base.Transport,
		UserAgent: userAgent,
	}
	base.Timeout = DefaultTimeout

	return &httpClient{client: base}
}

func (h *httpClient) Do(req *http.Request) (*http.Response, error) {
	return h.client.Do(req)
}

func (h *httpClient) CloseIdleConnections() {
	h.client.CloseIdleConnections()
}
