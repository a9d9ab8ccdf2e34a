package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
)

// RequestIDHeader carries one id per logical request, repeated on its retry.
const RequestIDHeader = "X-Request-ID"

// Forced logout reasons, used as metric labels.
const (
	logoutRefreshExhausted = "refresh_exhausted"
	logoutRefreshFailed    = "refresh_failed"
	logoutSessionEnded     = "session_ended"
)

// attempt numbers the sends of one logical request. Only one retry exists.
type attempt int

const (
	firstAttempt attempt = iota
	retryAttempt
)

// Request describes one logical API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
	Header http.Header
}

// RequestOption adjusts a Request before it is sent.
type RequestOption func(*Request)

// WithQuery merges q into the request query.
func WithQuery(q url.Values) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = url.Values{}
		}
		for k, vs := range q {
			for _, v := range vs {
				r.Query.Add(k, v)
			}
		}
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}

// Response is a successful (2xx) API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Data       []byte
}

// JSON decodes the response body into out.
func (r *Response) JSON(out interface{}) error {
	return model.JSONUnmarshal(r.Data, out)
}

// Client is the session-aware API client. It attaches the stored access
// token, refreshes it once when the server reports it expired, and forces a
// logout when recovery is impossible.
type Client struct {
	baseURL    string
	httpClient common.HttpClient
	session    *Session
	logger     *slog.Logger
	metrics    *common.Metrics
}

// ClientOption customises a Client.
type ClientOption func(*Client)

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

func WithMetrics(m *common.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient layers session handling over httpClient. baseURL is the API
// origin without the /api suffix.
func NewClient(baseURL string, httpClient common.HttpClient, session *Session, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		session:    session,
		logger:     common.DiscardLogger(),
		metrics:    common.NopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session the client reads tokens from.
func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodGet, path, nil, opts))
}

func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodPost, path, body, opts))
}

func (c *Client) Put(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodPut, path, body, opts))
}

func (c *Client) Patch(ctx context.Context, path string, body interface{}, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodPatch, path, body, opts))
}

func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, newRequest(http.MethodDelete, path, nil, opts))
}

func newRequest(method, path string, body interface{}, opts []RequestOption) Request {
	r := Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// call is a Request prepared for (re)sending.
type call struct {
	Request
	url       string
	payload   []byte
	requestID string
}

// Do sends req. Non-2xx responses come back as *common.HTTPError; transport
// errors are wrapped and returned as they are.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	cl, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	token, err := c.session.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, cl, firstAttempt, token)
}

func (c *Client) prepare(req Request) (*call, error) {
	u, err := c.buildURL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch {
	case req.Body != nil:
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	case req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch:
		payload = []byte("{}")
	}

	return &call{
		Request:   req,
		url:       u,
		payload:   payload,
		requestID: uuid.NewString(),
	}, nil
}

func (c *Client) send(ctx context.Context, cl *call, n attempt, token string) (*Response, error) {
	resp, err := c.execute(ctx, cl, n, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	return c.handleFailure(ctx, cl, n, token, common.NewHTTPError(resp.StatusCode, resp.Data))
}

// handleFailure decides what a failed response turns into: a single retry after a
// refresh, a forced logout, or the error itself.
func (c *Client) handleFailure(ctx context.Context, cl *call, n attempt, token string, httpErr *common.HTTPError) (*Response, error) {
	switch httpErr.StatusCode {
	case http.StatusUnauthorized:
		if !IsTokenExpiry(httpErr.Message) {
			c.logger.Debug("authentication failed, not a token expiration", "status", httpErr.StatusCode, "message", httpErr.Message)
			return nil, httpErr
		}
		if isRefreshCall(cl.Path) {
			c.session.ForceLogout(ctx, logoutRefreshExhausted, httpErr)
			return nil, httpErr
		}
		if n >= retryAttempt {
			c.logger.Info("already retried this request, giving up", "request_id", cl.requestID)
			c.session.ForceLogout(ctx, logoutRefreshExhausted, httpErr)
			return nil, httpErr
		}

		c.logger.Info("access token expired, attempting to refresh", "request_id", cl.requestID)
		fresh, err := c.renew(ctx, token)
		if err != nil {
			if abandoned(ctx, err) {
				// the refresh keeps running for other waiters; only this caller gave up
				c.logger.Debug("request abandoned during refresh", "request_id", cl.requestID, "error", err)
				return nil, err
			}
			c.session.ForceLogout(ctx, logoutRefreshFailed, err)
			return nil, err
		}
		c.logger.Debug("retrying original request with new token", "request_id", cl.requestID)
		return c.send(ctx, cl, retryAttempt, fresh)

	case http.StatusForbidden:
		if IsSessionTerminated(httpErr.Message) {
			c.session.ForceLogout(ctx, logoutSessionEnded, httpErr)
		}
		return nil, httpErr
	}
	return nil, httpErr
}

// abandoned reports whether err comes from the caller's own context ending.
func abandoned(ctx context.Context, err error) bool {
	return ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// renew returns a usable access token after used was rejected. When another
// request already replaced the stored token, that one is reused.
func (c *Client) renew(ctx context.Context, used string) (string, error) {
	stored, err := c.session.GetToken(ctx)
	if err != nil {
		return "", err
	}
	if stored != "" && stored != used {
		return stored, nil
	}
	return c.session.RefreshToken(ctx)
}

func (c *Client) execute(ctx context.Context, cl *call, n attempt, token string) (*Response, error) {
	var body io.Reader
	if cl.payload != nil {
		body = bytes.NewReader(cl.payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.Method, cl.url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range cl.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, cl.requestID)
	if token != "" {
		(&oauth2.Token{AccessToken: token}).SetAuthHeader(req)
	}

	c.logger.Debug("making request", "method", cl.Method, "url", cl.url, "request_id", cl.requestID, "attempt", int(n))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Request(ctx, cl.Method, 0)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.Request(ctx, cl.Method, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Data: data}, nil
}

// buildURL joins baseURL and path, then merges query into any query already in path.
func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}
	if len(query) > 0 {
		q := full.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		full.RawQuery = q.Encode()
	}
	return full.String(), nil
}

// Session passthroughs, so callers holding only the client can manage credentials.

func (c *Client) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	return c.session.SetTokens(ctx, accessToken, refreshToken)
}

func (c *Client) SetToken(ctx context.Context, accessToken string) error {
	return c.session.SetToken(ctx, accessToken)
}

func (c *Client) GetToken(ctx context.Context) (string, error) {
	return c.session.GetToken(ctx)
}

func (c *Client) RemoveToken(ctx context.Context) error {
	return c.session.RemoveToken(ctx)
}

func (c *Client) IsAuthenticated(ctx context.Context) bool {
	return c.session.IsAuthenticated(ctx)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	return c.session.RefreshToken(ctx)
}
