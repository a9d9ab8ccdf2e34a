package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
	"github.com/guarzo/crisiscircle/modules/auth"
)

type mockAuth struct {
	loginFunc   func(email, password string) (*model.Envelope[model.AuthData], error)
	refreshFunc func(refreshToken string) (*oauth2.Token, error)
}

func (m *mockAuth) Login(_ context.Context, email, password string) (*model.Envelope[model.AuthData], error) {
	if m.loginFunc != nil {
		return m.loginFunc(email, password)
	}
	return nil, errors.New("mockAuth called login, but no func set")
}

func (m *mockAuth) RefreshToken(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	if m.refreshFunc != nil {
		return m.refreshFunc(refreshToken)
	}
	return nil, errors.New("mockAuth called refresh, but no func set")
}

func TestSession_IsAuthenticated(t *testing.T) {
	ctx := context.Background()
	s := auth.NewSession(common.NewMemoryStore(), &mockAuth{})

	if s.IsAuthenticated(ctx) {
		t.Error("expected unauthenticated with an empty store")
	}

	if err := s.SetTokens(ctx, "a", "r"); err != nil {
		t.Fatal(err)
	}
	if !s.IsAuthenticated(ctx) {
		t.Error("expected authenticated after SetTokens")
	}
	if tok, _ := s.GetToken(ctx); tok != "a" {
		t.Errorf("expected token 'a', got %q", tok)
	}

	if err := s.RemoveToken(ctx); err != nil {
		t.Fatal(err)
	}
	if s.IsAuthenticated(ctx) {
		t.Error("expected unauthenticated after RemoveToken")
	}

	_ = s.SetToken(ctx, "")
	if s.IsAuthenticated(ctx) {
		t.Error("an empty access token does not authenticate")
	}
}

func TestSession_SetTokenLegacyKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := common.NewMemoryStore()
	s := auth.NewSession(store, &mockAuth{})

	_ = s.SetTokens(ctx, "a", "r")
	_ = s.SetToken(ctx, "b")

	access, _ := s.GetToken(ctx)
	refresh, _, _ := store.Get(ctx, auth.RefreshTokenKey)
	if access != "b" || refresh != "r" {
		t.Errorf("expected b/r, got %q/%q", access, refresh)
	}
}

func TestSession_TokensSurviveReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	first := auth.NewSession(common.NewFileStore(path, "pass"), &mockAuth{})
	if err := first.SetTokens(ctx, "persisted-access", "persisted-refresh"); err != nil {
		t.Fatal(err)
	}

	// a fresh process sees the same credentials
	reloaded := auth.NewSession(common.NewFileStore(path, "pass"), &mockAuth{})
	tok, err := reloaded.GetToken(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "persisted-access" {
		t.Errorf("expected token to persist, got %q", tok)
	}
	if !reloaded.IsAuthenticated(ctx) {
		t.Error("expected reloaded session to be authenticated")
	}
}

func TestSession_LogoutNotifiesHandlers(t *testing.T) {
	ctx := context.Background()
	s := auth.NewSession(common.NewMemoryStore(), &mockAuth{})
	_ = s.SetTokens(ctx, "a", "r")

	var reasons []error
	s.OnLogout(func(reason error) { reasons = append(reasons, reason) })

	if err := s.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if s.IsAuthenticated(ctx) {
		t.Error("expected unauthenticated after Logout")
	}
	if len(reasons) != 1 || !errors.Is(reasons[0], auth.ErrLoggedOut) {
		t.Errorf("expected one ErrLoggedOut notification, got %v", reasons)
	}
}

func TestSession_RefreshRotatesTokens(t *testing.T) {
	ctx := context.Background()
	store := common.NewMemoryStore()
	var got string
	s := auth.NewSession(store, &mockAuth{
		refreshFunc: func(rt string) (*oauth2.Token, error) {
			got = rt
			return &oauth2.Token{AccessToken: "a2", RefreshToken: "r2"}, nil
		},
	})
	_ = s.SetTokens(ctx, "a1", "r1")

	access, err := s.RefreshToken(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "r1" {
		t.Errorf("expected stored refresh token to be sent, got %q", got)
	}
	if access != "a2" {
		t.Errorf("expected a2, got %q", access)
	}
	refresh, _, _ := store.Get(ctx, auth.RefreshTokenKey)
	if refresh != "r2" {
		t.Errorf("expected rotated refresh token r2, got %q", refresh)
	}
}

func TestSession_RefreshWithoutRotationKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := common.NewMemoryStore()
	s := auth.NewSession(store, &mockAuth{
		refreshFunc: func(string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "a2"}, nil
		},
	})
	_ = s.SetTokens(ctx, "a1", "r1")

	if _, err := s.RefreshToken(ctx); err != nil {
		t.Fatal(err)
	}
	refresh, _, _ := store.Get(ctx, auth.RefreshTokenKey)
	if refresh != "r1" {
		t.Errorf("expected refresh token to be kept, got %q", refresh)
	}
}

func TestSession_RefreshFailureClearsTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("no refresh token", func(t *testing.T) {
		s := auth.NewSession(common.NewMemoryStore(), &mockAuth{})
		_ = s.SetToken(ctx, "lonely")

		_, err := s.RefreshToken(ctx)
		if !errors.Is(err, auth.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken, got %v", err)
		}
		if s.IsAuthenticated(ctx) {
			t.Error("expected access token to be cleared")
		}
	})

	t.Run("server rejects", func(t *testing.T) {
		rejected := errors.New("rejected")
		s := auth.NewSession(common.NewMemoryStore(), &mockAuth{
			refreshFunc: func(string) (*oauth2.Token, error) { return nil, rejected },
		})
		_ = s.SetTokens(ctx, "a", "r")

		_, err := s.RefreshToken(ctx)
		if !errors.Is(err, rejected) {
			t.Errorf("expected the refresh error, got %v", err)
		}
		if s.IsAuthenticated(ctx) {
			t.Error("expected tokens to be cleared")
		}
	})

	t.Run("empty answer", func(t *testing.T) {
		s := auth.NewSession(common.NewMemoryStore(), &mockAuth{
			refreshFunc: func(string) (*oauth2.Token, error) { return &oauth2.Token{}, nil },
		})
		_ = s.SetTokens(ctx, "a", "r")

		if _, err := s.RefreshToken(ctx); !errors.Is(err, auth.ErrRefreshRejected) {
			t.Errorf("expected ErrRefreshRejected, got %v", err)
		}
	})
}

func TestSession_TokenSource(t *testing.T) {
	ctx := context.Background()
	s := auth.NewSession(common.NewMemoryStore(), &mockAuth{})

	if _, err := s.Token(); !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}

	_ = s.SetTokens(ctx, "a", "r")
	tok, err := s.Token()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "a" || tok.RefreshToken != "r" || tok.Type() != "Bearer" {
		t.Errorf("unexpected token: %+v", tok)
	}
}

func TestSession_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		called := false
		s := auth.NewSession(common.NewMemoryStore(), &mockAuth{
			loginFunc: func(string, string) (*model.Envelope[model.AuthData], error) {
				called = true
				return nil, nil
			},
		})
		_, err := s.Login(ctx, "not-an-email", "123")
		var vErr *auth.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected *ValidationError, got %v", err)
		}
		if vErr.Fields["email"] != "Please enter a valid email address" ||
			vErr.Fields["password"] != "Password must be at least 6 characters long" {
			t.Errorf("unexpected field errors: %v", vErr.Fields)
		}
		if called {
			t.Error("invalid form must not reach the server")
		}
	})

	t.Run("success stores tokens", func(t *testing.T) {
		s := auth.NewSession(common.NewMemoryStore(), &mockAuth{
			loginFunc: func(email, password string) (*model.Envelope[model.AuthData], error) {
				return &model.Envelope[model.AuthData]{
					Success: true,
					Message: "Login successful",
					Data:    model.AuthData{Tokens: model.TokenPair{AccessToken: "a", RefreshToken: "r"}},
				}, nil
			},
		})
		if _, err := s.Login(ctx, "admin@crisiscircle.org", "secret1"); err != nil {
			t.Fatal(err)
		}
		if tok, _ := s.GetToken(ctx); tok != "a" {
			t.Errorf("expected stored token 'a', got %q", tok)
		}
	})

	t.Run("missing tokens", func(t *testing.T) {
		s := auth.NewSession(common.NewMemoryStore(), &mockAuth{
			loginFunc: func(string, string) (*model.Envelope[model.AuthData], error) {
				return &model.Envelope[model.AuthData]{Success: true}, nil
			},
		})
		if _, err := s.Login(ctx, "admin@crisiscircle.org", "secret1"); !errors.Is(err, auth.ErrMissingTokens) {
			t.Errorf("expected ErrMissingTokens, got %v", err)
		}
		if s.IsAuthenticated(ctx) {
			t.Error("expected no session without tokens")
		}
	})
}

func TestAuthAPI_Login(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != auth.LoginPath || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body model.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body.Password {
		case "correct":
			writeJSON(w, http.StatusOK, tokenResponse("a", "r"))
		case "pending":
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "Account pending approval"})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "Invalid credentials"})
		}
	}))
	defer ts.Close()

	api := auth.NewAuthAPI(ts.URL, common.NewAPIHttpClient("ua", &http.Client{}), nil, nil)
	ctx := context.Background()

	env, err := api.Login(ctx, "a@b.co", "correct")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Data.Tokens.AccessToken != "a" || env.Data.Tokens.RefreshToken != "r" {
		t.Errorf("unexpected tokens: %+v", env.Data.Tokens)
	}

	if _, err := api.Login(ctx, "a@b.co", "pending"); !errors.Is(err, auth.ErrLoginRejected) {
		t.Errorf("expected ErrLoginRejected, got %v", err)
	}

	_, err = api.Login(ctx, "a@b.co", "wrong")
	var httpErr *common.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Message != "Invalid credentials" {
		t.Errorf("expected 401 Invalid credentials, got %v", err)
	}
}

func TestSession_ForceLogoutClearsStoreAfterCallerIsDone(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := auth.NewSession(common.NewRedisStore(client, common.DefaultRedisPrefix), &mockAuth{})
	if err := s.SetTokens(context.Background(), "a", "r"); err != nil {
		t.Fatal(err)
	}

	var loggingOut []bool
	s.OnLogout(func(error) { loggingOut = append(loggingOut, s.LoggingOut()) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.ForceLogout(ctx, "refresh_failed", errors.New("refresh rejected"))

	if mr.Exists(common.DefaultRedisPrefix+auth.AccessTokenKey) || mr.Exists(common.DefaultRedisPrefix+auth.RefreshTokenKey) {
		t.Error("expected both tokens removed from redis despite the cancelled context")
	}
	if len(loggingOut) != 1 || !loggingOut[0] {
		t.Errorf("expected handlers to run while the logout is in progress, got %v", loggingOut)
	}
	if s.LoggingOut() {
		t.Error("expected LoggingOut to be false once ForceLogout returned")
	}
}
