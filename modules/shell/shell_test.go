package shell_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
	"github.com/guarzo/crisiscircle/modules/auth"
	"github.com/guarzo/crisiscircle/modules/shell"
)

type mockAuth struct {
	loginFunc func(email, password string) (*model.Envelope[model.AuthData], error)
}

func (m *mockAuth) Login(_ context.Context, email, password string) (*model.Envelope[model.AuthData], error) {
	if m.loginFunc != nil {
		return m.loginFunc(email, password)
	}
	return nil, errors.New("mockAuth called login, but no func set")
}

func (m *mockAuth) RefreshToken(context.Context, string) (*oauth2.Token, error) {
	return nil, errors.New("refresh not expected")
}

// quietStore hides the change feed of the store it wraps.
type quietStore struct {
	common.KeyValueStore
}

func nextEvent(t *testing.T, s *shell.Shell) shell.Event {
	t.Helper()
	select {
	case e := <-s.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a view event")
		return shell.Event{}
	}
}

func TestShell_StartPicksView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := common.NewMemoryStore()
	session := auth.NewSession(store, &mockAuth{})
	s := shell.New(session, store, nil)

	view, err := s.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if view != shell.ViewLogin || s.Authenticated() {
		t.Errorf("expected login view without a token, got %s", view)
	}

	_ = session.SetTokens(ctx, "a", "r")
	if view, _ := s.Start(ctx); view != shell.ViewDashboard {
		t.Errorf("expected dashboard view with a token, got %s", view)
	}
}

func TestShell_LoginSwitchesToDashboard(t *testing.T) {
	ctx := context.Background()
	store := common.NewMemoryStore()
	session := auth.NewSession(store, &mockAuth{
		loginFunc: func(string, string) (*model.Envelope[model.AuthData], error) {
			return &model.Envelope[model.AuthData]{
				Success: true,
				Data:    model.AuthData{Tokens: model.TokenPair{AccessToken: "a", RefreshToken: "r"}},
			}, nil
		},
	})
	s := shell.New(session, quietStore{store}, nil)
	if _, err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Login(ctx, "admin@crisiscircle.org", "secret1"); err != nil {
		t.Fatal(err)
	}
	if e := nextEvent(t, s); e.View != shell.ViewDashboard {
		t.Errorf("expected dashboard event, got %+v", e)
	}
	if !s.Authenticated() {
		t.Error("expected authenticated after login")
	}
}

func TestShell_ForcedLogoutReloads(t *testing.T) {
	for i := 0; i < 50; i++ {
		forcedLogoutReloads(t)
	}
}

// forcedLogoutReloads runs with the store's change feed live, so the shell
// also sees its own token removal.
func forcedLogoutReloads(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := common.NewMemoryStore()
	session := auth.NewSession(store, &mockAuth{})
	_ = session.SetTokens(ctx, "a", "r")

	s := shell.New(session, store, nil)
	if view, _ := s.Start(ctx); view != shell.ViewDashboard {
		t.Fatalf("expected dashboard, got %s", view)
	}
	scope := s.Scope()

	rejected := errors.New("refresh rejected")
	session.ForceLogout(ctx, "refresh_failed", rejected)

	e := nextEvent(t, s)
	if e.View != shell.ViewLogin || !errors.Is(e.Reason, rejected) || e.External {
		t.Fatalf("expected a local forced logout, got %+v", e)
	}
	if scope.Err() == nil {
		t.Error("expected the previous scope to be cancelled")
	}
	if s.Scope().Err() != nil {
		t.Error("expected a fresh scope after reload")
	}
	if s.Authenticated() {
		t.Error("expected the login view after a forced logout")
	}

	// a second logout while already on the login view is a no-op
	_ = s.Logout(ctx)
	select {
	case e := <-s.Events():
		t.Errorf("unexpected second event: %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestShell_ExternalLogoutFromStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := common.NewMemoryStore()
	session := auth.NewSession(store, &mockAuth{})
	_ = session.SetTokens(ctx, "a", "r")

	s := shell.New(session, store, nil)
	if _, err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// an unrelated key changing is ignored
	_ = store.SetMany(ctx, map[string]string{"theme": "dark"})
	_ = store.Delete(ctx, auth.AccessTokenKey)

	e := nextEvent(t, s)
	if e.View != shell.ViewLogin || !e.External || !errors.Is(e.Reason, shell.ErrExternalLogout) {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestShell_ExternalLogoutAcrossProcesses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	newStore := func() *common.RedisStore {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return common.NewRedisStore(client, common.DefaultRedisPrefix)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	here := newStore()
	session := auth.NewSession(here, &mockAuth{})
	_ = session.SetTokens(ctx, "a", "r")

	s := shell.New(session, here, nil)
	if view, err := s.Start(ctx); err != nil || view != shell.ViewDashboard {
		t.Fatalf("expected dashboard, got %s, %v", view, err)
	}

	// another process logs out
	elsewhere := auth.NewSession(newStore(), &mockAuth{})
	if err := elsewhere.Logout(ctx); err != nil {
		t.Fatal(err)
	}

	e := nextEvent(t, s)
	if !e.External || e.View != shell.ViewLogin {
		t.Errorf("unexpected event: %+v", e)
	}
	if session.IsAuthenticated(ctx) {
		t.Error("expected the shared credentials to be gone")
	}
}
