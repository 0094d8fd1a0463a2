package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/dockhand/internal/auth"
	"github.com/hay-kot/dockhand/internal/bootstrap"
	"github.com/hay-kot/dockhand/internal/core/session"
	"github.com/hay-kot/dockhand/internal/graphql"
	"github.com/hay-kot/dockhand/internal/printer"
)

// tokenSeq gives every minted token a distinct jti so a refreshed token
// never equals the one it replaces.
var tokenSeq atomic.Int64

func mintToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        fmt.Sprintf("jti-%d", tokenSeq.Add(1)),
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// mockIssuer implements session.TokenIssuer for testing.
type mockIssuer struct {
	t     *testing.T
	calls atomic.Int32
	err   error
}

func (m *mockIssuer) RefreshToken(_ context.Context, _ string) (session.TokenPair, error) {
	n := m.calls.Add(1)
	if m.err != nil {
		return session.TokenPair{}, m.err
	}
	return session.TokenPair{
		Token:        mintToken(m.t, "user-1", time.Now().Add(time.Hour)),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
	}, nil
}

func newSignedInManager(t *testing.T, issuer *mockIssuer) *auth.Manager {
	t.Helper()
	mgr := auth.NewManager(issuer, nil, zerolog.Nop())
	pair := session.TokenPair{Token: mintToken(t, "user-1", time.Now().Add(time.Hour)), RefreshToken: "refresh-0"}
	require.NoError(t, mgr.SignIn(context.Background(), pair, &session.User{ID: "user-1"}))
	return mgr
}

func TestWithToken_PassesFreshToken(t *testing.T) {
	issuer := &mockIssuer{t: t}
	mgr := newSignedInManager(t, issuer)

	got, err := withToken(context.Background(), mgr, func(_ context.Context, token string) (string, error) {
		return token, nil
	})
	require.NoError(t, err)
	assert.Equal(t, mgr.Current().AccessToken, got)
	assert.Equal(t, int32(0), issuer.calls.Load())
}

func TestWithToken_RetriesOnceAfterRejection(t *testing.T) {
	issuer := &mockIssuer{t: t}
	mgr := newSignedInManager(t, issuer)
	original := mgr.Current().AccessToken

	var tokens []string
	got, err := withToken(context.Background(), mgr, func(_ context.Context, token string) (int, error) {
		tokens = append(tokens, token)
		if token == original {
			return 0, &graphql.Error{Code: "UNAUTHENTICATED"}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	require.Len(t, tokens, 2)
	assert.NotEqual(t, tokens[0], tokens[1])
	assert.Equal(t, int32(1), issuer.calls.Load())
}

func TestWithToken_FailedRefreshLosesSession(t *testing.T) {
	issuer := &mockIssuer{t: t, err: errors.New("refresh token revoked")}
	mgr := newSignedInManager(t, issuer)

	_, err := withToken(context.Background(), mgr, func(_ context.Context, _ string) (int, error) {
		return 0, &graphql.Error{Code: "UNAUTHENTICATED"}
	})

	assert.ErrorIs(t, err, session.ErrSessionLost)
	assert.True(t, mgr.Current().IsEmpty())
}

func TestWithToken_OtherErrorsAreNotRetried(t *testing.T) {
	issuer := &mockIssuer{t: t}
	mgr := newSignedInManager(t, issuer)
	boom := errors.New("boom")

	calls := 0
	_, err := withToken(context.Background(), mgr, func(_ context.Context, _ string) (int, error) {
		calls++
		return 0, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(0), issuer.calls.Load())
}

func TestNavigate_RedirectsWhenSignedOut(t *testing.T) {
	mgr := auth.NewManager(&mockIssuer{t: t}, nil, zerolog.Nop())
	boot := bootstrap.New(mgr, nil, bootstrap.NewContext(), bootstrap.Options{
		LoginPath:   "/auth/login",
		AuthPattern: "/auth/**",
	}, zerolog.Nop())
	t.Cleanup(boot.Close)

	var out bytes.Buffer
	ctx := printer.NewContext(context.Background(), printer.New(&out))

	err := navigate(ctx, &Flags{Bootstrap: boot}, "/account")
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.Contains(t, out.String(), "/auth/login")
}

func TestPauseNotifier(t *testing.T) {
	n := pauseNotifier(make(chan struct{}, 1))

	n.Paused("x", false)
	select {
	case <-n:
		t.Fatal("manual pause must not signal")
	default:
	}

	n.Paused("x", true)
	n.Paused("x", true) // does not block when a signal is pending

	select {
	case <-n:
	default:
		t.Fatal("auto pause must signal")
	}
}
