package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

var (
	ErrUnauthenticated = errors.New("no active session")

	// ErrLoggedOut is returned when a logout raced an in-flight sign-in.
	// Logout always wins: the session ends empty.
	ErrLoggedOut = errors.New("logged out while sign-in was in flight")

	// ErrSignupLoginFailed means the account was created server-side but the
	// follow-up sign-in failed. Callers should tell the user to log in
	// manually instead of re-submitting the signup form.
	ErrSignupLoginFailed = errors.New("account created but sign-in failed")
)

// Store owns the authentication token and the current user identity. It is
// the single source of truth for whether this client is authorized.
type Store struct {
	gw     gateway.Doer
	tokens TokenStore
	log    *zap.Logger

	authMu sync.Mutex // serializes Login/Signup/Restore

	mu   sync.Mutex
	user *domain.User
	gen  uint64 // bumped by Logout; stale sign-in completions check it
}

func New(gw gateway.Doer, tokens TokenStore, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{gw: gw, tokens: tokens, log: log}
}

// User returns the authenticated profile, if any.
func (s *Store) User() (*domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, false
	}
	u := *s.user
	return &u, true
}

func (s *Store) Authenticated() bool {
	_, ok := s.User()
	return ok
}

// Restore revalidates a previously persisted token. Failures are absorbed:
// the session is simply left unauthenticated. An invalid or expired token
// is cleared; a transient transport failure keeps it for the next attempt.
func (s *Store) Restore(ctx context.Context) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	token, err := s.tokens.Token(ctx)
	if err != nil {
		s.log.Warn("token store read failed", zap.Error(err))
		return
	}
	if token == "" {
		return
	}

	start := s.generation()
	var u domain.User
	if err := s.gw.Do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &u); err != nil {
		if !gateway.IsNetwork(err) && !gateway.IsServer(err) {
			if clearErr := s.tokens.Clear(ctx); clearErr != nil {
				s.log.Warn("clearing stale token failed", zap.Error(clearErr))
			}
		}
		s.log.Info("session restore failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != start {
		return // logout won
	}
	s.user = &u
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token, persists it, then fetches the
// profile. On any failure the session remains empty and no token survives.
func (s *Store) Login(ctx context.Context, email, password string) (*domain.User, error) {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.login(ctx, email, password)
}

func (s *Store) login(ctx context.Context, email, password string) (*domain.User, error) {
	start := s.generation()

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := s.gw.Do(ctx, http.MethodPost, "/api/auth/login", nil, credentials{email, password}, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	// Persist before the profile fetch so the gateway can authenticate it.
	if err := s.tokens.Save(ctx, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	var u domain.User
	if err := s.gw.Do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &u); err != nil {
		s.discardToken()
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != start {
		// A logout raced us; it always wins, so drop the late token.
		s.discardToken()
		return nil, ErrLoggedOut
	}
	s.user = &u
	return &u, nil
}

// Signup creates an account and then signs in with the same credentials.
// If account creation succeeds but the sign-in fails, the returned error
// matches ErrSignupLoginFailed: the account exists server-side even though
// no local session was established.
func (s *Store) Signup(ctx context.Context, email, password, username string) (*domain.User, error) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	payload := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}{email, password, username}
	if err := s.gw.Do(ctx, http.MethodPost, "/api/auth/signup", nil, payload, nil); err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}

	u, err := s.login(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignupLoginFailed, err)
	}
	return u, nil
}

// Logout clears the persisted token and the in-memory session. It has no
// failure mode; a token store error is logged and the session still ends
// empty.
func (s *Store) Logout() {
	s.mu.Lock()
	s.gen++
	s.user = nil
	s.mu.Unlock()
	s.discardToken()
}

// UpdateProfile changes the username of the authenticated user.
func (s *Store) UpdateProfile(ctx context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	authed := s.user != nil
	start := s.gen
	s.mu.Unlock()
	if !authed {
		return nil, ErrUnauthenticated
	}

	payload := struct {
		Username string `json:"username"`
	}{username}
	var u domain.User
	if err := s.gw.Do(ctx, http.MethodPut, "/api/auth/me", nil, payload, &u); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == start {
		s.user = &u
	}
	return &u, nil
}

func (s *Store) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *Store) discardToken() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.tokens.Clear(ctx); err != nil {
		s.log.Warn("token clear failed", zap.Error(err))
	}
}
