package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
)

// Storage keys for the credential pair.
const (
	AccessTokenKey  = "token"
	RefreshTokenKey = "refreshToken"
)

var (
	// ErrNotAuthenticated is returned when no access token is stored.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoRefreshToken is returned by a refresh when no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrLoggedOut is the reason passed to logout handlers for a manual logout.
	ErrLoggedOut = errors.New("logged out")
)

// AuthClient talks to the authentication endpoints over the plain transport.
type AuthClient interface {
	Login(ctx context.Context, email, password string) (*model.Envelope[model.AuthData], error)
	// RefreshToken exchanges the refresh token for a new pair. The returned
	// RefreshToken is empty when the server does not rotate it.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// LogoutHandler is invoked after the stored credentials have been cleared.
type LogoutHandler func(reason error)

var _ oauth2.TokenSource = (*Session)(nil)

// Session owns the stored credential pair. It is the only writer of the
// token keys and collapses concurrent refreshes into one call.
type Session struct {
	store   common.KeyValueStore
	auth    AuthClient
	logger  *slog.Logger
	metrics *common.Metrics

	refreshes singleflight.Group
	ending    atomic.Int32

	mu       sync.RWMutex
	handlers []LogoutHandler
}

// SessionOption customises a Session.
type SessionOption func(*Session)

func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

func WithSessionMetrics(m *common.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession creates a Session over store, refreshing through auth.
func NewSession(store common.KeyValueStore, auth AuthClient, opts ...SessionOption) *Session {
	s := &Session{
		store:   store,
		auth:    auth,
		logger:  common.DiscardLogger(),
		metrics: common.NopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnLogout registers h to run after every logout, manual or forced.
func (s *Session) OnLogout(h LogoutHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// SetTokens stores both tokens in one write.
func (s *Session) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	if err := s.store.SetMany(ctx, map[string]string{
		AccessTokenKey:  accessToken,
		RefreshTokenKey: refreshToken,
	}); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}
	return nil
}

// SetToken stores only the access token. Kept for callers that predate refresh tokens.
func (s *Session) SetToken(ctx context.Context, accessToken string) error {
	if err := s.store.SetMany(ctx, map[string]string{AccessTokenKey: accessToken}); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// GetToken returns the stored access token, or "" when there is none.
func (s *Session) GetToken(ctx context.Context) (string, error) {
	return s.get(ctx, AccessTokenKey)
}

// RemoveToken clears both tokens without notifying logout handlers.
func (s *Session) RemoveToken(ctx context.Context) error {
	if err := s.store.Delete(ctx, AccessTokenKey, RefreshTokenKey); err != nil {
		return fmt.Errorf("remove tokens: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether a non-empty access token is stored.
func (s *Session) IsAuthenticated(ctx context.Context) bool {
	token, err := s.GetToken(ctx)
	if err != nil {
		s.logger.Error("reading access token failed", "error", err)
		return false
	}
	return token != ""
}

// Logout clears both tokens and resets the application.
func (s *Session) Logout(ctx context.Context) error {
	s.logger.Info("handling logout")
	s.ending.Add(1)
	defer s.ending.Add(-1)
	err := s.RemoveToken(context.WithoutCancel(ctx))
	s.notify(ErrLoggedOut)
	return err
}

// ForceLogout ends the session after an unrecoverable auth failure. The
// tokens are cleared even when ctx is already done.
func (s *Session) ForceLogout(ctx context.Context, kind string, reason error) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Warn("forcing logout", "reason", kind, "error", reason)
	s.ending.Add(1)
	defer s.ending.Add(-1)
	s.metrics.ForcedLogout(ctx, kind)
	if err := s.RemoveToken(ctx); err != nil {
		s.logger.Error("clearing tokens during forced logout failed", "error", err)
	}
	s.notify(reason)
}

// LoggingOut reports whether a Logout or ForceLogout made through this
// session is in progress. Store watchers use it to tell their own token
// removal from one made elsewhere.
func (s *Session) LoggingOut() bool {
	return s.ending.Load() > 0
}

func (s *Session) notify(reason error) {
	s.mu.RLock()
	handlers := append([]LogoutHandler(nil), s.handlers...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

// Login validates the form, authenticates, and stores the returned pair.
func (s *Session) Login(ctx context.Context, email, password string) (*model.Envelope[model.AuthData], error) {
	if err := ValidateLogin(email, password); err != nil {
		return nil, err
	}
	s.logger.Debug("attempting login", "email", email)

	resp, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	tokens := resp.Data.Tokens
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, ErrMissingTokens
	}
	if err := s.SetTokens(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
		return nil, err
	}
	s.logger.Info("login successful", "message", resp.Message)
	return resp, nil
}

// RefreshToken exchanges the stored refresh token for a new access token.
// Concurrent callers share one in-flight refresh. On any failure both
// tokens are cleared.
func (s *Session) RefreshToken(ctx context.Context) (string, error) {
	ch := s.refreshes.DoChan("refresh", func() (interface{}, error) {
		// detached so one caller giving up does not fail the others
		return s.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) refresh(ctx context.Context) (string, error) {
	token, err := s.exchange(ctx)
	s.metrics.Refresh(ctx, err == nil)
	if err != nil {
		s.logger.Error("token refresh failed", "error", err)
		if rmErr := s.RemoveToken(ctx); rmErr != nil {
			s.logger.Error("clearing tokens after failed refresh", "error", rmErr)
		}
		return "", err
	}
	s.logger.Info("tokens refreshed successfully")
	return token, nil
}

func (s *Session) exchange(ctx context.Context) (string, error) {
	refreshToken, err := s.get(ctx, RefreshTokenKey)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	s.logger.Info("attempting to refresh token")
	fresh, err := s.auth.RefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	if fresh == nil || fresh.AccessToken == "" {
		return "", ErrRefreshRejected
	}

	values := map[string]string{AccessTokenKey: fresh.AccessToken}
	if fresh.RefreshToken != "" {
		values[RefreshTokenKey] = fresh.RefreshToken
	}
	if err := s.store.SetMany(ctx, values); err != nil {
		return "", fmt.Errorf("store refreshed tokens: %w", err)
	}
	return fresh.AccessToken, nil
}

// Token implements oauth2.TokenSource over the stored pair.
func (s *Session) Token() (*oauth2.Token, error) {
	ctx := context.Background()
	access, err := s.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, ErrNotAuthenticated
	}
	refresh, err := s.get(ctx, RefreshTokenKey)
	if err != nil {
		return nil, err
	}
	return model.TokenPair{AccessToken: access, RefreshToken: refresh}.OAuth2(), nil
}

func (s *Session) get(ctx context.Context, key string) (string, error) {
	v, _, err := s.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}
