package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/guarzo/crisiscircle/common"
	"github.com/guarzo/crisiscircle/common/model"
	"github.com/guarzo/crisiscircle/modules/auth"
)

// View is the top-level screen the application shows.
type View int

const (
	ViewLogin View = iota
	ViewDashboard
)

func (v View) String() string {
	if v == ViewDashboard {
		return "dashboard"
	}
	return "login"
}

// ErrExternalLogout is the reason of a reload caused by another process
// removing the stored access token.
var ErrExternalLogout = errors.New("logged out elsewhere")

const eventBuffer = 16

// Event reports a switch between views.
type Event struct {
	View     View
	Reason   error
	External bool
}

// Shell owns the authenticated/unauthenticated state of the application.
// It registers itself as the session's logout handler, so every logout,
// manual or forced, ends in Reload.
type Shell struct {
	session *auth.Session
	store   common.KeyValueStore
	logger  *slog.Logger

	mu            sync.Mutex
	authenticated bool
	started       bool
	scope         context.Context
	cancelScope   context.CancelFunc

	events chan Event
}

// New creates a Shell over session. store is the same store the session
// writes to; it is watched when it implements common.ChangeNotifier.
func New(session *auth.Session, store common.KeyValueStore, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = common.DiscardLogger()
	}
	s := &Shell{
		session: session,
		store:   store,
		logger:  logger,
		events:  make(chan Event, eventBuffer),
	}
	s.scope, s.cancelScope = context.WithCancel(context.Background())
	session.OnLogout(s.Reload)
	return s
}

// Start decides the initial view and, when the store reports changes,
// watches for the access token disappearing until ctx is done.
func (s *Shell) Start(ctx context.Context) (View, error) {
	authenticated := s.session.IsAuthenticated(ctx)

	s.mu.Lock()
	s.authenticated = authenticated
	alreadyStarted := s.started
	s.started = true
	s.mu.Unlock()

	if notifier, ok := s.store.(common.ChangeNotifier); ok && !alreadyStarted {
		changes, err := notifier.Watch(ctx)
		if err != nil {
			return s.View(), err
		}
		go s.watch(changes)
	}
	return s.View(), nil
}

// View returns the current top-level view.
func (s *Shell) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authenticated {
		return ViewDashboard
	}
	return ViewLogin
}

// Authenticated reports whether the shell shows the authenticated view.
func (s *Shell) Authenticated() bool {
	return s.View() == ViewDashboard
}

// Events delivers view switches. Events are dropped when nobody reads them.
func (s *Shell) Events() <-chan Event {
	return s.events
}

// Scope is cancelled on the next reload. Work started for the current view
// should run under it.
func (s *Shell) Scope() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Login authenticates through the session and switches to the dashboard.
func (s *Shell) Login(ctx context.Context, email, password string) (*model.Envelope[model.AuthData], error) {
	resp, err := s.session.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	changed := !s.authenticated
	s.authenticated = true
	s.mu.Unlock()
	if changed {
		s.emit(Event{View: ViewDashboard})
	}
	return resp, nil
}

// Logout clears the credentials. The session then calls Reload.
func (s *Shell) Logout(ctx context.Context) error {
	return s.session.Logout(ctx)
}

// Reload discards the in-memory state and returns to the login view.
func (s *Shell) Reload(reason error) {
	s.reset(reason, false)
}

func (s *Shell) reset(reason error, external bool) {
	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		return
	}
	s.authenticated = false
	s.cancelScope()
	s.scope, s.cancelScope = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.logger.Info("reloading to login view", "reason", reason, "external", external)
	s.emit(Event{View: ViewLogin, Reason: reason, External: external})
}

func (s *Shell) watch(changes <-chan common.Change) {
	for c := range changes {
		if c.Key != auth.AccessTokenKey || (!c.Removed && c.Value != "") {
			continue
		}
		if s.session.LoggingOut() {
			// our own logout; Reload reports it with the real reason
			continue
		}
		s.reset(ErrExternalLogout, true)
	}
}

func (s *Shell) emit(e Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Warn("dropping view event, nobody is listening", "view", e.View.String())
	}
}
