package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/njoerd114/fieldsync/internal/api"
)

// Authenticator exchanges credentials for a token and reports rejected
// tokens. Implemented by [api.Client].
type Authenticator interface {
	Login(ctx context.Context, rut int64, password string) (api.LoginResult, error)
	OnUnauthorized(fn func())
}

// Service is started when a session begins and stopped when it ends.
// [sync.Scheduler] is the main implementation.
type Service interface {
	Start(ctx context.Context)
	Stop()
}

// Manager owns the current session. It is safe for concurrent use.
type Manager struct {
	path string
	auth Authenticator
	log  *slog.Logger
	now  func() time.Time

	mu       sync.Mutex
	current  *Session
	services []Service
	ctx      context.Context
}

// NewManager creates a Manager persisting to path. It registers itself with
// auth so that a 401 from the server ends the session.
func NewManager(path string, auth Authenticator, logger *slog.Logger) *Manager {
	m := &Manager{
		path: path,
		auth: auth,
		log:  logger,
		now:  time.Now,
	}
	auth.OnUnauthorized(m.expire)
	return m
}

// Attach registers svc. It is started right away if a session is active.
func (m *Manager) Attach(svc Service) {
	m.mu.Lock()
	m.services = append(m.services, svc)
	active, ctx := m.current != nil, m.ctx
	m.mu.Unlock()

	if active {
		svc.Start(ctx)
	}
}

// Restore loads a persisted session and starts attached services with ctx.
// It returns ErrNoSession or ErrExpired when there is nothing usable; an
// expired session file is removed.
func (m *Manager) Restore(ctx context.Context) (*Session, error) {
	s, err := load(m.path)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		m.log.Info("stored session expired", "user_id", s.UserID, "expired_at", s.ExpiresAt)
		if err := remove(m.path); err != nil {
			m.log.Warn("removing expired session", "error", err)
		}
		return nil, ErrExpired
	}
	m.begin(ctx, s)
	m.log.Info("session restored", "user_id", s.UserID)
	return s, nil
}

// SignIn logs in with rut and password, persists the session and starts
// attached services with ctx.
func (m *Manager) SignIn(ctx context.Context, rut int64, password string) (*Session, error) {
	res, err := m.auth.Login(ctx, rut, password)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}

	s := &Session{
		Token:                 res.Token,
		UserID:                rut,
		RequirePasswordChange: res.RequirePasswordChange,
	}
	if claims, err := ParseClaims(res.Token); err != nil {
		m.log.Warn("token claims unreadable, using login RUT", "error", err)
	} else {
		if claims.RUT != 0 {
			s.UserID = claims.RUT
		}
		s.Role = claims.Role
		if claims.ExpiresAt != nil {
			s.ExpiresAt = claims.ExpiresAt.UTC()
		}
	}

	if err := save(m.path, s); err != nil {
		return nil, err
	}

	// Ending a previous session first stops its services.
	m.end()
	m.begin(ctx, s)
	m.log.Info("signed in", "user_id", s.UserID)
	return s, nil
}

// SignOut stops attached services and deletes the persisted session.
func (m *Manager) SignOut() error {
	m.end()
	if err := remove(m.path); err != nil {
		return err
	}
	m.log.Info("signed out")
	return nil
}

// Close stops attached services but keeps the persisted session, so the
// next process can restore it.
func (m *Manager) Close() {
	m.end()
}

// Token returns the bearer token of the current session.
func (m *Manager) Token(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return "", ErrNoSession
	}
	if m.current.Expired(m.now()) {
		return "", ErrExpired
	}
	return m.current.Token, nil
}

// UserID returns the signed-in user's RUT, or 0 without a session.
func (m *Manager) UserID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return 0
	}
	return m.current.UserID
}

// Current returns a copy of the active session, if any.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// expire ends the session after the server rejected its token.
func (m *Manager) expire() {
	m.mu.Lock()
	active := m.current != nil
	m.mu.Unlock()
	if !active {
		return
	}

	m.log.Warn("session rejected by server, signing out")
	if err := m.SignOut(); err != nil && !errors.Is(err, ErrNoSession) {
		m.log.Error("clearing rejected session", "error", err)
	}
}

func (m *Manager) begin(ctx context.Context, s *Session) {
	m.mu.Lock()
	m.current = s
	m.ctx = ctx
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for _, svc := range services {
		svc.Start(ctx)
	}
}

func (m *Manager) end() {
	m.mu.Lock()
	active := m.current != nil
	m.current = nil
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	if !active {
		return
	}
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}
}
