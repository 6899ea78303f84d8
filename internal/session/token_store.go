package session

import "context"

// StorageKey is the well-known key the bearer token is persisted under.
const StorageKey = "auth_token"

// TokenStore persists the bearer token across runs. Token returns "" when
// no token is stored. Only the session Store writes to it; the gateway
// reads it on every authenticated call.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}
