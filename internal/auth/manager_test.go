package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/dockhand/internal/core/session"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeIssuer implements session.TokenIssuer for testing. Every successful
// call mints a distinct token pair.
type fakeIssuer struct {
	t       *testing.T
	calls   atomic.Int32
	release chan struct{} // when set, calls block until closed
	err     error
	pair    *session.TokenPair // fixed response when set
}

func (f *fakeIssuer) RefreshToken(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return session.TokenPair{}, f.err
	}
	if f.pair != nil {
		return *f.pair, nil
	}
	return session.TokenPair{
		Token:        mintToken(f.t, fmt.Sprintf("user-%d", n), testNow.Add(time.Hour)),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
	}, nil
}

// memStore implements session.Store in memory.
type memStore struct {
	mu      sync.Mutex
	sess    *session.Session
	cleared int
}

func (s *memStore) Load(_ context.Context) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return session.Session{}, session.ErrNotFound
	}
	return *s.sess, nil
}

func (s *memStore) Save(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = &sess
	return nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
	s.cleared++
	return nil
}

func newTestManager(t *testing.T, issuer *fakeIssuer, store *memStore) *Manager {
	t.Helper()
	issuer.t = t
	return NewManager(issuer, store, testLogger()).WithClock(func() time.Time { return testNow })
}

func signIn(t *testing.T, m *Manager, access string) {
	t.Helper()
	err := m.SignIn(context.Background(), session.TokenPair{Token: access, RefreshToken: "refresh-0"}, &session.User{ID: "user-0"})
	require.NoError(t, err)
}

func TestManager_EnsureFresh_ValidToken(t *testing.T) {
	issuer := &fakeIssuer{}
	m := newTestManager(t, issuer, &memStore{})

	valid := mintToken(t, "user-0", testNow.Add(time.Hour))
	signIn(t, m, valid)

	got, err := m.EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, valid, got)
	assert.Equal(t, int32(0), issuer.calls.Load())
}

func TestManager_EnsureFresh_ExpiredRefreshes(t *testing.T) {
	issuer := &fakeIssuer{}
	store := &memStore{}
	m := newTestManager(t, issuer, store)

	signIn(t, m, mintToken(t, "user-0", testNow.Add(-time.Minute)))

	got, err := m.EnsureFresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), issuer.calls.Load())

	cur := m.Current()
	assert.Equal(t, got, cur.AccessToken)
	assert.Equal(t, "refresh-1", cur.RefreshToken)
	assert.False(t, m.IsTokenExpired(got))
	require.NotNil(t, cur.User, "refresh keeps the current user")
	assert.Equal(t, "user-0", cur.User.ID)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, got, stored.AccessToken)
	assert.Equal(t, "refresh-1", stored.RefreshToken)
}

func TestManager_EnsureFresh_ConcurrentCallersShareOneRefresh(t *testing.T) {
	const callers = 25

	issuer := &fakeIssuer{release: make(chan struct{})}
	m := newTestManager(t, issuer, &memStore{})
	signIn(t, m, mintToken(t, "user-0", testNow.Add(-time.Minute)))

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		tokens  = make([]string, callers)
		errs    = make([]error, callers)
	)

	wg.Add(callers)
	started.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			started.Done()
			tokens[i], errs[i] = m.EnsureFresh(context.Background())
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(issuer.release)
	wg.Wait()

	assert.Equal(t, int32(1), issuer.calls.Load(), "exactly one refresh request")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i], "caller %d saw a different token", i)
	}
}

func TestManager_EnsureFresh_ConcurrentFailureSharesSessionLoss(t *testing.T) {
	const callers = 10

	issuer := &fakeIssuer{release: make(chan struct{}), err: errors.New("connection refused")}
	store := &memStore{}
	m := newTestManager(t, issuer, store)
	signIn(t, m, mintToken(t, "user-0", testNow.Add(-time.Minute)))

	var wg sync.WaitGroup
	errs := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.EnsureFresh(context.Background())
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(issuer.release)
	wg.Wait()

	assert.Equal(t, int32(1), issuer.calls.Load())
	for i := 0; i < callers; i++ {
		assert.ErrorIs(t, errs[i], session.ErrSessionLost, "caller %d", i)
	}
}

func TestManager_Refresh_FailureClearsSession(t *testing.T) {
	issuer := &fakeIssuer{err: errors.New("network unreachable")}
	store := &memStore{}
	m := newTestManager(t, issuer, store)
	signIn(t, m, mintToken(t, "user-0", testNow.Add(-time.Minute)))

	var notified []session.Session
	m.OnChange(func(s session.Session) { notified = append(notified, s) })

	_, err := m.Refresh(context.Background())
	require.ErrorIs(t, err, session.ErrSessionLost)
	assert.ErrorContains(t, err, "network unreachable")

	assert.True(t, m.Current().IsEmpty())
	assert.Equal(t, 1, store.cleared)
	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.Len(t, notified, 1)
	assert.True(t, notified[0].IsEmpty())
}

func TestManager_Refresh_RejectsBadPairs(t *testing.T) {
	tests := []struct {
		name string
		pair session.TokenPair
	}{
		{"empty pair", session.TokenPair{}},
		{"missing refresh token", session.TokenPair{Token: "x"}},
		{"malformed access token", session.TokenPair{Token: "garbage", RefreshToken: "r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := tt.pair
			m := newTestManager(t, &fakeIssuer{pair: &pair}, &memStore{})
			signIn(t, m, mintToken(t, "user-0", testNow.Add(-time.Minute)))

			_, err := m.Refresh(context.Background())
			assert.ErrorIs(t, err, session.ErrSessionLost)
			assert.True(t, m.Current().IsEmpty())
		})
	}
}

func TestManager_EnsureFresh_NoSession(t *testing.T) {
	issuer := &fakeIssuer{}
	m := newTestManager(t, issuer, &memStore{})

	_, err := m.EnsureFresh(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.ErrorIs(t, err, session.ErrSessionLost)
	assert.Equal(t, int32(0), issuer.calls.Load())
}

func TestManager_EnsureFresh_CallerCancellation(t *testing.T) {
	issuer := &fakeIssuer{release: make(chan struct{})}
	m := newTestManager(t, issuer, &memStore{})
	signIn(t, m, mintToken(t, "user-0", testNow.Add(-time.Minute)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.EnsureFresh(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("EnsureFresh did not honor cancellation")
	}

	// the shared attempt still completes for everyone else
	close(issuer.release)
	require.Eventually(t, func() bool {
		return m.Current().RefreshToken == "refresh-1"
	}, time.Second, 5*time.Millisecond)
}

func TestManager_Refresh_SignOutDuringFlightDiscardsResult(t *testing.T) {
	issuer := &fakeIssuer{release: make(chan struct{})}
	m := newTestManager(t, issuer, &memStore{})
	signIn(t, m, mintToken(t, "user-0", testNow.Add(-time.Minute)))

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	m.ClearSession(context.Background())
	close(issuer.release)

	err := <-done
	assert.ErrorIs(t, err, session.ErrSessionLost)
	assert.True(t, m.Current().IsEmpty(), "late refresh must not resurrect the session")
}

func TestManager_Refresh_FailedStaleAttemptKeepsNewSignIn(t *testing.T) {
	issuer := &fakeIssuer{release: make(chan struct{}), err: errors.New("network unreachable")}
	store := &memStore{}
	m := newTestManager(t, issuer, store)
	signIn(t, m, mintToken(t, "user-0", testNow.Add(-time.Minute)))

	done := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return issuer.calls.Load() == 1 }, time.Second, time.Millisecond)

	fresh := mintToken(t, "user-9", testNow.Add(time.Hour))
	err := m.SignIn(context.Background(), session.TokenPair{Token: fresh, RefreshToken: "refresh-new"}, &session.User{ID: "user-9"})
	require.NoError(t, err)
	close(issuer.release)

	require.NoError(t, <-done)
	assert.Equal(t, "refresh-new", m.Current().RefreshToken)
	assert.Equal(t, fresh, m.Current().AccessToken)
	assert.Equal(t, 0, store.cleared)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-new", stored.RefreshToken)
}

func TestManager_EnsureFresh_ClearsUnrenewableSession(t *testing.T) {
	tests := []struct {
		name string
		sess session.Session
	}{
		{
			name: "expired access token without refresh token",
			sess: session.Session{AccessToken: mintToken(t, "user-0", testNow.Add(-time.Minute)), User: &session.User{ID: "user-0"}},
		},
		{
			name: "user without tokens",
			sess: session.Session{User: &session.User{ID: "user-0"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := tt.sess
			issuer := &fakeIssuer{}
			store := &memStore{sess: &sess}
			m := newTestManager(t, issuer, store)
			require.NoError(t, m.Load(context.Background()))

			_, err := m.EnsureFresh(context.Background())
			require.ErrorIs(t, err, session.ErrNoSession)

			assert.True(t, m.Current().IsEmpty())
			assert.Equal(t, 1, store.cleared)
			assert.Equal(t, int32(0), issuer.calls.Load())
		})
	}
}

func TestManager_LoadRestoresSession(t *testing.T) {
	store := &memStore{}
	_ = store.Save(context.Background(), session.Session{AccessToken: "a", RefreshToken: "r", User: &session.User{ID: "u1"}})

	m := newTestManager(t, &fakeIssuer{}, store)
	require.NoError(t, m.Load(context.Background()))

	cur := m.Current()
	assert.Equal(t, "a", cur.AccessToken)
	assert.Equal(t, "u1", cur.User.ID)
}

func TestManager_LoadEmptyStore(t *testing.T) {
	m := newTestManager(t, &fakeIssuer{}, &memStore{})
	require.NoError(t, m.Load(context.Background()))
	assert.True(t, m.Current().IsEmpty())
}

func TestManager_SignInRequiresPair(t *testing.T) {
	m := newTestManager(t, &fakeIssuer{}, &memStore{})
	err := m.SignIn(context.Background(), session.TokenPair{Token: "a"}, nil)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestManager_OnChangeUnsubscribe(t *testing.T) {
	m := newTestManager(t, &fakeIssuer{}, &memStore{})

	calls := 0
	unsubscribe := m.OnChange(func(session.Session) { calls++ })

	m.SetUser(context.Background(), session.User{ID: "u1"})
	unsubscribe()
	m.SetUser(context.Background(), session.User{ID: "u2"})

	assert.Equal(t, 1, calls)
	assert.Equal(t, "u2", m.Current().User.ID)
}
