package session

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecofinds/marketclient/internal/domain"
	"github.com/ecofinds/marketclient/internal/gateway"
)

// memoryTokenStore implements TokenStore for testing.
type memoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func (m *memoryTokenStore) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memoryTokenStore) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *memoryTokenStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// mockDoer implements gateway.Doer; handler decides per method+path.
type mockDoer struct {
	mu      sync.Mutex
	calls   []string
	handler func(method, path string, body, out any) error
}

func (m *mockDoer) Do(_ context.Context, method, path string, _ url.Values, body, out any) error {
	m.mu.Lock()
	m.calls = append(m.calls, method+" "+path)
	m.mu.Unlock()
	return m.handler(method, path, body, out)
}

func (m *mockDoer) callCount(route string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == route {
			n++
		}
	}
	return n
}

func okAuthHandler(token string, profile domain.User) func(method, path string, body, out any) error {
	return func(method, path string, body, out any) error {
		switch method + " " + path {
		case "POST /api/auth/login":
			resp := out.(*struct {
				AccessToken string `json:"access_token"`
				TokenType   string `json:"token_type"`
			})
			resp.AccessToken = token
			resp.TokenType = "bearer"
			return nil
		case "GET /api/auth/me":
			*out.(*domain.User) = profile
			return nil
		case "POST /api/auth/signup":
			return nil
		default:
			return &gateway.Error{Kind: gateway.KindNotFound, Status: http.StatusNotFound}
		}
	}
}

func TestLogin_PopulatesUserFromProfile(t *testing.T) {
	profile := domain.User{ID: 42, Email: "ada@example.com", Username: "ada"}
	gw := &mockDoer{handler: okAuthHandler("tok-1", profile)}
	tokens := &memoryTokenStore{}
	s := New(gw, tokens, nil)

	u, err := s.Login(context.Background(), "ada@example.com", "hunter2")

	require.NoError(t, err)
	assert.Equal(t, profile, *u)

	got, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, profile, *got)

	stored, _ := tokens.Token(context.Background())
	assert.Equal(t, "tok-1", stored)
}

func TestLogin_InvalidCredentialsLeavesSessionEmpty(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		return &gateway.Error{Kind: gateway.KindAuth, Status: http.StatusUnauthorized, Message: "Incorrect email or password"}
	}}
	tokens := &memoryTokenStore{}
	s := New(gw, tokens, nil)

	_, err := s.Login(context.Background(), "ada@example.com", "wrong")

	assert.True(t, gateway.IsAuth(err))
	assert.False(t, s.Authenticated())
	stored, _ := tokens.Token(context.Background())
	assert.Empty(t, stored)
}

func TestLogin_ProfileFetchFailureRollsBackToken(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		if method == http.MethodPost {
			resp := out.(*struct {
				AccessToken string `json:"access_token"`
				TokenType   string `json:"token_type"`
			})
			resp.AccessToken = "tok-2"
			return nil
		}
		return &gateway.Error{Kind: gateway.KindServer, Status: http.StatusInternalServerError}
	}}
	tokens := &memoryTokenStore{}
	s := New(gw, tokens, nil)

	_, err := s.Login(context.Background(), "ada@example.com", "hunter2")

	assert.Error(t, err)
	assert.False(t, s.Authenticated())
	stored, _ := tokens.Token(context.Background())
	assert.Empty(t, stored, "a token without a validated profile must not linger")
}

func TestLogin_LogoutMidFlightWins(t *testing.T) {
	profile := domain.User{ID: 1, Email: "ada@example.com"}
	tokens := &memoryTokenStore{}
	var s *Store
	gw := &mockDoer{}
	gw.handler = func(method, path string, body, out any) error {
		base := okAuthHandler("tok-3", profile)
		if method+" "+path == "GET /api/auth/me" {
			// Logout lands while the profile fetch is still in flight.
			s.Logout()
		}
		return base(method, path, body, out)
	}
	s = New(gw, tokens, nil)

	_, err := s.Login(context.Background(), "ada@example.com", "hunter2")

	assert.ErrorIs(t, err, ErrLoggedOut)
	assert.False(t, s.Authenticated())
	stored, _ := tokens.Token(context.Background())
	assert.Empty(t, stored, "logout always wins over a late login completion")
}

func TestRestore_ValidTokenPopulatesUser(t *testing.T) {
	profile := domain.User{ID: 42, Email: "ada@example.com", Username: "ada"}
	gw := &mockDoer{handler: okAuthHandler("", profile)}
	tokens := &memoryTokenStore{token: "persisted"}
	s := New(gw, tokens, nil)

	s.Restore(context.Background())

	got, ok := s.User()
	require.True(t, ok)
	assert.Equal(t, profile, *got)
}

func TestRestore_RejectedTokenIsCleared(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		return &gateway.Error{Kind: gateway.KindAuth, Status: http.StatusUnauthorized}
	}}
	tokens := &memoryTokenStore{token: "expired"}
	s := New(gw, tokens, nil)

	s.Restore(context.Background())

	assert.False(t, s.Authenticated())
	stored, _ := tokens.Token(context.Background())
	assert.Empty(t, stored)
}

func TestRestore_TransientFailureKeepsToken(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		return &gateway.Error{Kind: gateway.KindNetwork}
	}}
	tokens := &memoryTokenStore{token: "still-good"}
	s := New(gw, tokens, nil)

	s.Restore(context.Background())

	assert.False(t, s.Authenticated())
	stored, _ := tokens.Token(context.Background())
	assert.Equal(t, "still-good", stored, "a network blip must not log the user out")
}

func TestRestore_NoTokenIsNoop(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		t.Fatal("no request should be issued without a persisted token")
		return nil
	}}
	s := New(gw, &memoryTokenStore{}, nil)

	s.Restore(context.Background())

	assert.False(t, s.Authenticated())
	assert.Empty(t, gw.calls)
}

func TestSignup_LoginFailureSurfacesPartialSuccess(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		if method+" "+path == "POST /api/auth/signup" {
			return nil // account created
		}
		return &gateway.Error{Kind: gateway.KindServer, Status: http.StatusInternalServerError}
	}}
	s := New(gw, &memoryTokenStore{}, nil)

	_, err := s.Signup(context.Background(), "new@example.com", "hunter2", "newbie")

	assert.ErrorIs(t, err, ErrSignupLoginFailed)
	assert.False(t, s.Authenticated())
}

func TestSignup_SignsInWithSameCredentials(t *testing.T) {
	profile := domain.User{ID: 9, Email: "new@example.com", Username: "newbie"}
	gw := &mockDoer{handler: okAuthHandler("tok-9", profile)}
	s := New(gw, &memoryTokenStore{}, nil)

	u, err := s.Signup(context.Background(), "new@example.com", "hunter2", "newbie")

	require.NoError(t, err)
	assert.Equal(t, profile, *u)
	assert.Equal(t, 1, gw.callCount("POST /api/auth/signup"))
	assert.Equal(t, 1, gw.callCount("POST /api/auth/login"))
}

func TestUpdateProfile_RequiresSession(t *testing.T) {
	gw := &mockDoer{handler: func(method, path string, body, out any) error {
		t.Fatal("no request should be issued without a session")
		return nil
	}}
	s := New(gw, &memoryTokenStore{}, nil)

	_, err := s.UpdateProfile(context.Background(), "renamed")

	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLogout_ClearsSessionAndToken(t *testing.T) {
	profile := domain.User{ID: 42, Email: "ada@example.com"}
	gw := &mockDoer{handler: okAuthHandler("tok-1", profile)}
	tokens := &memoryTokenStore{}
	s := New(gw, tokens, nil)

	_, err := s.Login(context.Background(), "ada@example.com", "hunter2")
	require.NoError(t, err)

	s.Logout()

	assert.False(t, s.Authenticated())
	stored, _ := tokens.Token(context.Background())
	assert.Empty(t, stored)
}
