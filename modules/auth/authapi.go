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
	"strings"

	"golang.org/x/oauth2"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
)

// Authentication endpoints.
const (
	LoginPath        = "/api/auth/login"
	RefreshTokenPath = "/api/auth/refresh-token"
)

var (
	// ErrRefreshRejected is returned when the refresh endpoint answers without new tokens.
	ErrRefreshRejected = errors.New("token refresh failed")
	// ErrLoginRejected wraps a login answered with success=false.
	ErrLoginRejected = errors.New("login failed")
	// ErrMissingTokens is returned when a successful login carries no token pair.
	ErrMissingTokens = errors.New("tokens not found in response")
)

var _ AuthClient = (*AuthAPI)(nil)

// AuthAPI calls the authentication endpoints on the plain transport. Its
// responses are never intercepted, so a failing refresh cannot recurse.
type AuthAPI struct {
	baseURL    string
	httpClient common.HttpClient
	logger     *slog.Logger
	metrics    *common.Metrics
}

// NewAuthAPI constructs an AuthAPI. logger and metrics may be nil.
func NewAuthAPI(baseURL string, httpClient common.HttpClient, logger *slog.Logger, metrics *common.Metrics) *AuthAPI {
	if logger == nil {
		logger = common.DiscardLogger()
	}
	if metrics == nil {
		metrics = common.NopMetrics()
	}
	return &AuthAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		metrics:    metrics,
	}
}

// Login posts the credentials. A non-2xx answer is returned as *common.HTTPError,
// a success=false envelope as ErrLoginRejected.
func (a *AuthAPI) Login(ctx context.Context, email, password string) (*model.Envelope[model.AuthData], error) {
	var env model.Envelope[model.AuthData]
	if err := a.post(ctx, LoginPath, model.LoginRequest{Email: email, Password: password}, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "invalid response"
		}
		return nil, fmt.Errorf("%w: %s", ErrLoginRejected, msg)
	}
	return &env, nil
}

// RefreshToken posts the refresh token and returns the new pair.
func (a *AuthAPI) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var env model.Envelope[model.AuthData]
	if err := a.post(ctx, RefreshTokenPath, model.RefreshRequest{RefreshToken: refreshToken}, &env); err != nil {
		return nil, err
	}
	if !env.Success || env.Data.Tokens.AccessToken == "" {
		if env.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, env.Message)
		}
		return nil, ErrRefreshRejected
	}
	return env.Data.Tokens.OAuth2(), nil
}

func (a *AuthAPI) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	a.logger.Debug("making request", "method", http.MethodPost, "url", a.baseURL+path)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.metrics.Request(ctx, http.MethodPost, 0)
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	a.metrics.Request(ctx, http.MethodPost, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return common.NewHTTPError(resp.StatusCode, data)
	}
	if err := model.JSONUnmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
