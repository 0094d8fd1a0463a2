// Package auth keeps the access/refresh token pair of a session valid.
//
// A Manager owns the Session of one application instance. It is the only
// component allowed to change the session tokens; everything else reads a
// snapshot through Current or subscribes with OnChange.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/hay-kot/dockhand/internal/core/session"
)

const refreshKey = "refresh"

// Manager decodes, checks and refreshes the token pair of a session.
type Manager struct {
	issuer session.TokenIssuer
	store  session.Store
	log    zerolog.Logger
	now    func() time.Time
	leeway time.Duration

	mu        sync.RWMutex
	sess      session.Session
	listeners map[int]func(session.Session)
	nextID    int

	// refreshes is the shared pending refresh. Concurrent callers attach to
	// the in-flight attempt; the handle is released once it settles.
	refreshes singleflight.Group
}

// NewManager creates a Manager with an empty session. store may be nil, in
// which case the session lives in memory only.
func NewManager(issuer session.TokenIssuer, store session.Store, log zerolog.Logger) *Manager {
	return &Manager{
		issuer:    issuer,
		store:     store,
		log:       log,
		now:       time.Now,
		listeners: make(map[int]func(session.Session)),
	}
}

// WithLeeway treats tokens as expired d before their exp claim.
func (m *Manager) WithLeeway(d time.Duration) *Manager {
	m.leeway = d
	return m
}

// WithClock replaces the time source used for expiry checks.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Load restores the persisted session. A missing session is not an error.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	sess, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	m.log.Debug().Bool("has_user", sess.User != nil).Msg("session restored")
	return nil
}

// Current returns a snapshot of the session.
func (m *Manager) Current() session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess.Clone()
}

// OnChange registers fn to be called after every session change. The
// returned function removes the listener.
func (m *Manager) OnChange(fn func(session.Session)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// DecodeClaims returns the claims of token, or nil if it is malformed.
func (m *Manager) DecodeClaims(token string) *session.Claims {
	return DecodeClaims(token)
}

// IsTokenExpired reports whether token is absent, malformed, carries no
// expiry, or has expired.
func (m *Manager) IsTokenExpired(token string) bool {
	claims := DecodeClaims(token)
	if claims == nil || claims.ExpiresAt.IsZero() {
		return true
	}
	return !m.now().Before(claims.ExpiresAt.Add(-m.leeway))
}

// SignIn installs the session returned by a successful login.
func (m *Manager) SignIn(ctx context.Context, pair session.TokenPair, user *session.User) error {
	if pair.Token == "" || pair.RefreshToken == "" {
		return fmt.Errorf("sign in: %w", session.ErrNoSession)
	}

	sess := session.Session{
		AccessToken:  pair.Token,
		RefreshToken: pair.RefreshToken,
		User:         user,
	}

	m.mu.Lock()
	m.sess = sess.Clone()
	m.mu.Unlock()

	// an attempt started for the previous session must not be joined
	m.refreshes.Forget(refreshKey)

	m.persist(ctx, sess)
	m.notify(sess)
	return nil
}

// SetUser replaces the current user of the session.
func (m *Manager) SetUser(ctx context.Context, user session.User) {
	m.mu.Lock()
	m.sess.User = &user
	sess := m.sess.Clone()
	m.mu.Unlock()

	m.persist(ctx, sess)
	m.notify(sess)
}

// ClearSession unconditionally wipes the session.
func (m *Manager) ClearSession(ctx context.Context) {
	m.mu.Lock()
	m.sess = session.Session{}
	m.mu.Unlock()

	m.cleared(ctx)
}

// clearIfHeld wipes the session only while it still holds refresh. When the
// session was replaced or already emptied, it is left alone and returned.
func (m *Manager) clearIfHeld(ctx context.Context, refresh string) (session.Session, bool) {
	m.mu.Lock()
	if m.sess.RefreshToken != refresh || m.sess.IsEmpty() {
		replaced := m.sess.Clone()
		m.mu.Unlock()
		return replaced, false
	}
	m.sess = session.Session{}
	m.mu.Unlock()

	m.cleared(ctx)
	return session.Session{}, true
}

func (m *Manager) cleared(ctx context.Context) {
	m.refreshes.Forget(refreshKey)

	if m.store != nil {
		if err := m.store.Clear(ctx); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear stored session")
		}
	}

	m.notify(session.Session{})
}

// EnsureFresh returns a valid access token, refreshing it first if it has
// expired. The returned error matches session.ErrSessionLost when the
// session is gone.
func (m *Manager) EnsureFresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	cur := m.sess
	m.mu.RUnlock()

	if cur.AccessToken == "" && cur.RefreshToken == "" {
		m.clearIfHeld(ctx, "")
		return "", session.ErrNoSession
	}

	if !m.IsTokenExpired(cur.AccessToken) {
		return cur.AccessToken, nil
	}

	sess, err := m.refreshFrom(ctx, cur.AccessToken)
	if err != nil {
		return "", err
	}

	return sess.AccessToken, nil
}

// Refresh exchanges the refresh token for a new token pair. If a refresh is
// already in flight the caller waits for it instead of starting another.
// Any failure clears the session and returns an error matching
// session.ErrSessionLost.
func (m *Manager) Refresh(ctx context.Context) (session.Session, error) {
	m.mu.RLock()
	seen := m.sess.AccessToken
	m.mu.RUnlock()

	return m.refreshFrom(ctx, seen)
}

// refreshFrom refreshes a session whose access token the caller observed as
// seen. The attempt is detached from the caller's cancellation so that one
// caller giving up does not fail the attempt for everyone waiting on it.
func (m *Manager) refreshFrom(ctx context.Context, seen string) (session.Session, error) {
	detached := context.WithoutCancel(ctx)

	ch := m.refreshes.DoChan(refreshKey, func() (any, error) {
		return m.doRefresh(detached, seen)
	})

	select {
	case <-ctx.Done():
		return session.Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return session.Session{}, res.Err
		}
		return res.Val.(session.Session).Clone(), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context, seen string) (session.Session, error) {
	m.mu.RLock()
	cur := m.sess.Clone()
	m.mu.RUnlock()

	if cur.RefreshToken == "" {
		// an access token that cannot be renewed is as good as none
		m.clearIfHeld(ctx, "")
		return session.Session{}, session.ErrNoSession
	}

	// Another attempt already replaced the token this caller saw expire.
	if seen != "" && cur.AccessToken != seen && !m.IsTokenExpired(cur.AccessToken) {
		return cur, nil
	}

	m.log.Debug().Msg("refreshing access token")

	pair, err := m.issuer.RefreshToken(ctx, cur.RefreshToken)
	if err == nil && (pair.Token == "" || pair.RefreshToken == "") {
		err = errors.New("issuer returned an empty token pair")
	}
	if err == nil && DecodeClaims(pair.Token) == nil {
		err = errors.New("issuer returned a malformed access token")
	}
	if err != nil {
		if replaced, ok := m.clearIfHeld(ctx, cur.RefreshToken); !ok && replaced.RefreshToken != "" {
			// Signed in again while the request was in flight.
			m.log.Debug().Err(err).Msg("discarding failed refresh of a replaced session")
			return replaced, nil
		}
		m.log.Warn().Err(err).Msg("token refresh failed, session cleared")
		return session.Session{}, fmt.Errorf("%w: refresh token: %w", session.ErrSessionLost, err)
	}

	m.mu.Lock()
	if m.sess.RefreshToken != cur.RefreshToken {
		// Signed out or signed in again while the request was in flight.
		replaced := m.sess.Clone()
		m.mu.Unlock()
		if replaced.RefreshToken == "" {
			return session.Session{}, session.ErrNoSession
		}
		return replaced, nil
	}
	m.sess.AccessToken = pair.Token
	m.sess.RefreshToken = pair.RefreshToken
	sess := m.sess.Clone()
	m.mu.Unlock()

	m.log.Info().Msg("access token refreshed")

	m.persist(ctx, sess)
	m.notify(sess)
	return sess, nil
}

func (m *Manager) persist(ctx context.Context, sess session.Session) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, sess); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist session")
	}
}

func (m *Manager) notify(sess session.Session) {
	m.mu.RLock()
	fns := make([]func(session.Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(sess.Clone())
	}
}
