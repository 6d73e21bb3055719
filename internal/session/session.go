// Package session tracks the signed-in user across process restarts.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/puzzlegate/internal/forum"
	"github.com/roach88/puzzlegate/internal/remote"
)

// Persister stores the session record. Implemented by store.Store.
type Persister interface {
	SaveUser(ctx context.Context, u forum.User) error
	LoadUser(ctx context.Context) (*forum.User, error)
	ClearUser(ctx context.Context) error
}

// Authenticator performs remote login and signup. Implemented by
// remote.Client.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (forum.User, error)
	Register(ctx context.Context, r remote.Registration) error
}

// DefaultEmailDomain completes a registration that carries no email.
const DefaultEmailDomain = "gmail.com"

// Manager owns the current user.
//
// Thread-safety: Manager is safe for concurrent use.
type Manager struct {
	store  Persister
	auth   Authenticator
	logger *slog.Logger

	mu   sync.RWMutex
	user *forum.User

	// onLogout runs after the record is cleared, e.g. to drop durable
	// vote choices of the departing actor.
	onLogout func(ctx context.Context, u forum.User) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLogoutHook registers fn to run on logout.
func WithLogoutHook(fn func(ctx context.Context, u forum.User) error) Option {
	return func(m *Manager) { m.onLogout = fn }
}

// NewManager creates a Manager with no user signed in. Call Restore to load
// a persisted session.
func NewManager(store Persister, auth Authenticator, opts ...Option) *Manager {
	m := &Manager{store: store, auth: auth, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore reads the persisted session record. It returns nil when nobody is
// signed in.
func (m *Manager) Restore(ctx context.Context) (*forum.User, error) {
	u, err := m.store.LoadUser(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.user = u
	m.mu.Unlock()
	if u != nil {
		m.logger.Debug("session restored", "username", u.Username)
	}
	return copyUser(u), nil
}

// Current returns the signed-in user, or nil.
func (m *Manager) Current() *forum.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyUser(m.user)
}

// Require returns the signed-in user or an Unauthorized error.
func (m *Manager) Require(op string) (forum.User, error) {
	u := m.Current()
	if u == nil {
		return forum.User{}, forum.NewUnauthorizedError(op, "not logged in")
	}
	return *u, nil
}

// Login authenticates with the remote service and persists the session.
func (m *Manager) Login(ctx context.Context, username, password string) (forum.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return forum.User{}, forum.NewValidationError("login", "username and password are required")
	}

	u, err := m.auth.Login(ctx, username, password)
	if err != nil {
		return forum.User{}, err
	}
	if u.Username == "" {
		u.Username = username
	}
	if err := m.store.SaveUser(ctx, u); err != nil {
		return forum.User{}, err
	}

	m.mu.Lock()
	m.user = &u
	m.mu.Unlock()

	m.logger.Info("logged in", "username", u.Username)
	return u, nil
}

// Logout clears the persisted session. Logging out with nobody signed in is
// a no-op.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	u := m.user
	m.mu.Unlock()

	if err := m.store.ClearUser(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.user == u {
		m.user = nil
	}
	m.mu.Unlock()
	if u != nil && m.onLogout != nil {
		if err := m.onLogout(ctx, *u); err != nil {
			return err
		}
	}
	if u != nil {
		m.logger.Info("logged out", "username", u.Username)
	}
	return nil
}

// Register creates an account. An empty email defaults to
// username@gmail.com. The new user is not signed in.
func (m *Manager) Register(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return forum.NewValidationError("register", "username and password are required")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		email = username + "@" + DefaultEmailDomain
	}
	return m.auth.Register(ctx, remote.Registration{
		Username: username,
		Email:    email,
		Password: password,
	})
}

func copyUser(u *forum.User) *forum.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
