package session

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for session operations.
var (
	// ErrSessionLost is returned when the session was cleared because it
	// could not be refreshed. Callers redirect to the login boundary.
	ErrSessionLost = errors.New("session lost")
	// ErrNoSession is returned when an operation requires tokens that are
	// absent. It matches ErrSessionLost.
	ErrNoSession = fmt.Errorf("no session: %w", ErrSessionLost)
	// ErrNotFound is returned by a Store that holds no session.
	ErrNotFound = errors.New("session not found")
)

// Store persists the session between runs.
type Store interface {
	// Load returns the stored session. Returns ErrNotFound if nothing is stored.
	Load(ctx context.Context) (Session, error)
	// Save replaces the stored session.
	Save(ctx context.Context, s Session) error
	// Clear removes the stored session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// TokenIssuer exchanges a refresh token for a new token pair.
type TokenIssuer interface {
	RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error)
}
