package state

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"kb-assistant-client/internal/api"
	"kb-assistant-client/internal/models"
	"kb-assistant-client/internal/storage"
)

const (
	keyToken        = "session/token"
	keySelectedChat = "session/selected_chat"
)

// Dependent is a component whose state is scoped to the authenticated
// session: hydrated after login, reset on logout.
type Dependent interface {
	Hydrate(ctx context.Context)
	Reset()
}

// SessionStore owns the bearer token and its lifecycle. It is the single
// owner of session teardown: every component that sees an AuthError routes
// it back here through Invalidate.
type SessionStore struct {
	notifier

	mu         sync.Mutex
	kv         storage.KV
	backend    api.Backend
	logger     zerolog.Logger
	token      string
	dependents []Dependent
}

func NewSessionStore(kv storage.KV, logger zerolog.Logger) *SessionStore {
	s := &SessionStore{
		kv:     kv,
		logger: logger.With().Str("component", "session").Logger(),
	}
	// A token cached from a previous run keeps the session authenticated
	// across restarts; the backend will reject it if it has expired.
	var token string
	if kv.Get(keyToken, &token) {
		s.token = token
	}
	return s
}

// Token returns the current bearer token, "" when logged out. Request
// builders call this at request time rather than caching the value.
func (s *SessionStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// IsAuthenticated reports whether a token is held. No I/O.
func (s *SessionStore) IsAuthenticated() bool {
	return s.Token() != ""
}

// AddDependent registers a component for post-login hydration and logout
// reset, in registration order.
func (s *SessionStore) AddDependent(d Dependent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents = append(s.dependents, d)
}

// Login exchanges credentials for a token, persists it, and hydrates the
// dependent components from server state.
func (s *SessionStore) Login(ctx context.Context, creds models.Credentials) error {
	token, err := s.backend.Login(ctx, creds)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.token = token
	if err := s.kv.Set(keyToken, token); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist token")
	}
	dependents := append([]Dependent(nil), s.dependents...)
	s.mu.Unlock()
	s.notify()

	for _, d := range dependents {
		d.Hydrate(ctx)
	}
	return nil
}

// Register creates an account and immediately logs in with the same
// credentials. A registration that succeeds followed by a login that fails
// is reported as RegisteredLoginFailedError, not a plain auth failure.
func (s *SessionStore) Register(ctx context.Context, req models.RegisterRequest) error {
	if _, err := s.backend.Register(ctx, req); err != nil {
		return err
	}
	creds := models.Credentials{Username: req.Username, Password: req.Password}
	if err := s.Login(ctx, creds); err != nil {
		return &models.RegisteredLoginFailedError{Username: req.Username, Err: err}
	}
	return nil
}

// Logout clears the token and chat selection, resets dependents to their
// empty state, and is safe to call repeatedly.
func (s *SessionStore) Logout() {
	s.mu.Lock()
	s.token = ""
	if err := s.kv.Remove(keyToken); err != nil {
		s.logger.Error().Err(err).Msg("Failed to remove cached token")
	}
	if err := s.kv.Remove(keySelectedChat); err != nil {
		s.logger.Error().Err(err).Msg("Failed to remove cached chat selection")
	}
	dependents := append([]Dependent(nil), s.dependents...)
	s.mu.Unlock()

	for _, d := range dependents {
		d.Reset()
	}
	s.notify()
}

// Invalidate tears the session down when an authenticated call came back
// with an AuthError. Other errors are ignored so callers can route every
// failure through here.
func (s *SessionStore) Invalidate(err error) {
	var authErr *models.AuthError
	if !errors.As(err, &authErr) {
		return
	}
	if !s.IsAuthenticated() {
		return
	}
	s.logger.Warn().Str("reason", authErr.Reason).Msg("Session invalidated, forcing logout")
	s.Logout()
}

// Ping probes the backend without touching session state.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.backend.Health(ctx)
}

func (s *SessionStore) setBackend(b api.Backend) {
	s.backend = b
}
