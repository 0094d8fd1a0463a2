package commands

import (
	"context"
	"errors"

	"github.com/hay-kot/dockhand/internal/auth"
	"github.com/hay-kot/dockhand/internal/graphql"
)

// withToken calls fn with a fresh access token. If the API rejects a token
// the client still considers valid, the pair is refreshed once and fn is
// retried; a failed refresh ends the session.
func withToken[T any](ctx context.Context, sessions *auth.Manager, fn func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	token, err := sessions.EnsureFresh(ctx)
	if err != nil {
		return zero, err
	}

	v, err := fn(ctx, token)
	if !errors.Is(err, graphql.ErrUnauthenticated) {
		return v, err
	}

	sess, err := sessions.Refresh(ctx)
	if err != nil {
		return zero, err
	}
	return fn(ctx, sess.AccessToken)
}
