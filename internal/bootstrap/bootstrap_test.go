package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/dockhand/internal/auth"
	"github.com/hay-kot/dockhand/internal/core/session"
)

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func mintToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
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
	m.calls.Add(1)
	if m.err != nil {
		return session.TokenPair{}, m.err
	}
	return session.TokenPair{
		Token:        mintToken(m.t, "user-1", testNow.Add(time.Hour)),
		RefreshToken: "refresh-2",
	}, nil
}

// mockDirectory implements Directory for testing.
type mockDirectory struct {
	mu      sync.Mutex
	userErr error
	teamErr error
	userIDs []string
	tokens  []string
}

func (m *mockDirectory) GetUser(_ context.Context, token, id string) (session.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userIDs = append(m.userIDs, id)
	m.tokens = append(m.tokens, token)
	if m.userErr != nil {
		return session.User{}, m.userErr
	}
	return session.User{ID: id, FirstName: "Ada", Email: "ada@example.com", Roles: []string{"admin"}}, nil
}

func (m *mockDirectory) GetCurrentTeam(_ context.Context, token string) (session.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = append(m.tokens, token)
	if m.teamErr != nil {
		return session.Team{}, m.teamErr
	}
	return session.Team{ID: "team-1", Name: "Platform"}, nil
}

type fixture struct {
	mgr    *auth.Manager
	issuer *mockIssuer
	dir    *mockDirectory
	boot   *Bootstrapper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	issuer := &mockIssuer{t: t}
	dir := &mockDirectory{}
	mgr := auth.NewManager(issuer, nil, zerolog.Nop()).WithClock(func() time.Time { return testNow })

	boot := New(mgr, dir, NewContext(), Options{LoginPath: "/auth/login", AuthPattern: "/auth/**"}, zerolog.Nop())
	t.Cleanup(boot.Close)

	return &fixture{mgr: mgr, issuer: issuer, dir: dir, boot: boot}
}

func (f *fixture) signIn(t *testing.T, access string) {
	t.Helper()
	user := &session.User{ID: "user-1"}
	require.NoError(t, f.mgr.SignIn(context.Background(), session.TokenPair{Token: access, RefreshToken: "refresh-1"}, user))
}

func TestIsAuthPath(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		dest string
		want bool
	}{
		{"/auth/login", true},
		{"/auth/login?next=/account", true},
		{"/auth/reset/token", true},
		{"auth/login", true},
		{"/account", false},
		{"/containers/c1", false},
		{"/authx", false},
	}

	for _, tt := range tests {
		t.Run(tt.dest, func(t *testing.T) {
			assert.Equal(t, tt.want, f.boot.IsAuthPath(tt.dest))
		})
	}
}

func TestGuard(t *testing.T) {
	t.Run("no session redirects", func(t *testing.T) {
		f := newFixture(t)
		res := f.boot.Guard("/account")
		assert.False(t, res.Allowed)
		assert.Equal(t, "/auth/login", res.RedirectTo)
		assert.Equal(t, "/account", res.Next)
		assert.Equal(t, ReasonNoSession, res.Reason)
	})

	t.Run("auth route is open", func(t *testing.T) {
		f := newFixture(t)
		res := f.boot.Guard("/auth/login")
		assert.True(t, res.Allowed)
		assert.Equal(t, ReasonAuthRoute, res.Reason)
	})

	t.Run("tokens without user redirect", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mgr.SignIn(context.Background(), session.TokenPair{Token: "a", RefreshToken: "r"}, nil))
		assert.False(t, f.boot.Guard("/account").Allowed)
	})

	t.Run("expired but present tokens pass", func(t *testing.T) {
		f := newFixture(t)
		f.signIn(t, mintToken(t, "user-1", testNow.Add(-time.Minute)))
		assert.True(t, f.boot.Guard("/account").Allowed)
		assert.Equal(t, int32(0), f.issuer.calls.Load(), "guard never refreshes")
	})
}

func TestNavigate_LoadsContext(t *testing.T) {
	f := newFixture(t)
	access := mintToken(t, "user-1", testNow.Add(time.Hour))
	f.signIn(t, access)

	res, err := f.boot.Navigate(context.Background(), "/account")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, ReasonAuthenticated, res.Reason)

	user, ok := f.boot.Context().User()
	require.True(t, ok)
	assert.Equal(t, "Ada", user.FirstName)
	team, ok := f.boot.Context().Team()
	require.True(t, ok)
	assert.Equal(t, "Platform", team.Name)

	assert.Equal(t, []string{"user-1"}, f.dir.userIDs)
	assert.Equal(t, []string{access, access}, f.dir.tokens)
	assert.Equal(t, "ada@example.com", f.mgr.Current().User.Email, "session user is updated")
	assert.Equal(t, int32(0), f.issuer.calls.Load())
}

func TestNavigate_RefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, mintToken(t, "user-1", testNow.Add(-time.Minute)))

	res, err := f.boot.Navigate(context.Background(), "/containers/c1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	assert.Equal(t, int32(1), f.issuer.calls.Load())
	assert.Equal(t, "refresh-2", f.mgr.Current().RefreshToken)
	assert.Equal(t, f.mgr.Current().AccessToken, f.dir.tokens[0], "context is fetched with the refreshed token")
}

func TestNavigate_RefreshFailureClearsAndRedirects(t *testing.T) {
	f := newFixture(t)
	f.issuer.err = errors.New("dial tcp: connection refused")
	f.signIn(t, mintToken(t, "user-1", testNow.Add(-time.Minute)))

	res, err := f.boot.Navigate(context.Background(), "/account")
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionLost)

	assert.False(t, res.Allowed)
	assert.Equal(t, "/auth/login", res.RedirectTo)
	assert.Equal(t, ReasonSessionLost, res.Reason)
	assert.True(t, f.mgr.Current().IsEmpty(), "session is fully empty")
	assert.Empty(t, f.dir.userIDs)
}

func TestNavigate_ContextFailureClearsAndRedirects(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		access func(t *testing.T) string
	}{
		{
			name:   "user fetch fails",
			setup:  func(f *fixture) { f.dir.userErr = errors.New("boom") },
			access: func(t *testing.T) string { return mintToken(t, "user-1", testNow.Add(time.Hour)) },
		},
		{
			name:   "team fetch fails",
			setup:  func(f *fixture) { f.dir.teamErr = errors.New("boom") },
			access: func(t *testing.T) string { return mintToken(t, "user-1", testNow.Add(time.Hour)) },
		},
		{
			name:   "token without subject",
			setup:  func(f *fixture) {},
			access: func(t *testing.T) string { return mintToken(t, "", testNow.Add(time.Hour)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			f.signIn(t, tt.access(t))

			// a previous navigation left context behind
			f.boot.Context().set(session.User{ID: "stale"}, session.Team{ID: "stale"})

			res, err := f.boot.Navigate(context.Background(), "/account")
			require.Error(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, ReasonContextFailed, res.Reason)
			assert.True(t, f.mgr.Current().IsEmpty())
			assert.False(t, f.boot.Context().IsLoaded(), "context is reset with the session")
		})
	}
}

func TestNavigate_AuthRouteSkipsChecks(t *testing.T) {
	f := newFixture(t)

	res, err := f.boot.Navigate(context.Background(), "/auth/login")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, ReasonAuthRoute, res.Reason)
	assert.Equal(t, int32(0), f.issuer.calls.Load())
}

func TestNavigate_NoSessionRedirectsWithoutError(t *testing.T) {
	f := newFixture(t)

	res, err := f.boot.Navigate(context.Background(), "/account")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "/auth/login", res.RedirectTo)
}
