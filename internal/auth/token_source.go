package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken is returned when a TokenSource has no credential to offer.
// The connection layer treats this as a local, non-retriable failure: no
// dial is attempted without a token.
var ErrNoToken = errors.New("auth: no token available")

// TokenSource supplies the opaque credential used to authenticate the
// realtime channel and REST calls. Implementations must be safe for
// concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a TokenSource that always yields tok.
func StaticTokenSource(tok string) TokenSource {
	return staticTokenSource{tok: tok}
}

type staticTokenSource struct {
	tok string
}

func (s staticTokenSource) Token(ctx context.Context) (string, error) {
	if s.tok == "" {
		return "", ErrNoToken
	}
	return s.tok, nil
}

// MemoryTokenStore holds a replaceable token, e.g. refreshed after a login
// call. The zero value is an empty store.
type MemoryTokenStore struct {
	mu  sync.RWMutex
	tok string
}

// Set replaces the stored token.
func (s *MemoryTokenStore) Set(tok string) {
	s.mu.Lock()
	s.tok = tok
	s.mu.Unlock()
}

// Token implements TokenSource.
func (s *MemoryTokenStore) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tok == "" {
		return "", ErrNoToken
	}
	return s.tok, nil
}
