// Package bootstrap runs the per-navigation session checks: a cheap token
// presence guard and the full bootstrap that refreshes tokens and loads the
// user and team before protected content is shown.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hay-kot/dockhand/internal/core/session"
)

// ErrNoSubject is returned when the access token carries no user id.
var ErrNoSubject = errors.New("access token has no subject")

// Reason explains a navigation outcome.
type Reason string

const (
	ReasonAuthRoute     Reason = "auth_route"
	ReasonAuthenticated Reason = "authenticated"
	ReasonNoSession     Reason = "no_session"
	ReasonSessionLost   Reason = "session_lost"
	ReasonContextFailed Reason = "context_failed"
)

// Result is the outcome of a navigation check.
type Result struct {
	Allowed bool
	// RedirectTo is the login path when the navigation is refused.
	RedirectTo string
	// Next is the original destination, for returning after login.
	Next   string
	Reason Reason
}

// Sessions is the token manager as seen by the bootstrapper.
type Sessions interface {
	Current() session.Session
	EnsureFresh(ctx context.Context) (string, error)
	DecodeClaims(token string) *session.Claims
	SetUser(ctx context.Context, user session.User)
	ClearSession(ctx context.Context)
	OnChange(fn func(session.Session)) func()
}

// Directory fetches identity context from the API.
type Directory interface {
	GetUser(ctx context.Context, token, id string) (session.User, error)
	GetCurrentTeam(ctx context.Context, token string) (session.Team, error)
}

// Options configures a Bootstrapper.
type Options struct {
	// LoginPath is where refused navigations are sent.
	LoginPath string
	// AuthPattern is a doublestar pattern matching destinations that are
	// reachable without a session.
	AuthPattern string
}

// Bootstrapper guards navigations and loads the session context.
type Bootstrapper struct {
	sessions    Sessions
	dir         Directory
	state       *Context
	opts        Options
	log         zerolog.Logger
	unsubscribe func()
}

// New creates a Bootstrapper. The Context is reset whenever the session is
// cleared.
func New(sessions Sessions, dir Directory, state *Context, opts Options, log zerolog.Logger) *Bootstrapper {
	b := &Bootstrapper{
		sessions: sessions,
		dir:      dir,
		state:    state,
		opts:     opts,
		log:      log.With().Str("component", "bootstrap").Logger(),
	}
	b.unsubscribe = sessions.OnChange(func(s session.Session) {
		if s.IsEmpty() {
			state.Reset()
		}
	})
	return b
}

// Close stops following session changes.
func (b *Bootstrapper) Close() {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}
}

// Context returns the loaded session context.
func (b *Bootstrapper) Context() *Context { return b.state }

// IsAuthPath reports whether dest is reachable without a session.
func (b *Bootstrapper) IsAuthPath(dest string) bool {
	p, _, _ := strings.Cut(dest, "?")
	p = path.Clean("/" + p)

	ok, err := doublestar.Match(b.opts.AuthPattern, p)
	if err != nil {
		b.log.Warn().Err(err).Str("pattern", b.opts.AuthPattern).Msg("invalid auth path pattern")
		return false
	}
	return ok || p == path.Clean(b.opts.LoginPath)
}

// Guard checks only that the session holds tokens and a user.
func (b *Bootstrapper) Guard(dest string) Result {
	if b.IsAuthPath(dest) {
		return Result{Allowed: true, Reason: ReasonAuthRoute}
	}
	if !b.sessions.Current().IsAuthenticated() {
		return b.redirect(dest, ReasonNoSession)
	}
	return Result{Allowed: true, Reason: ReasonAuthenticated}
}

// Navigate runs the full bootstrap for dest: it makes sure the access token
// is fresh and loads the current user and team. Any failure clears the
// session and redirects to the login path; the returned error carries the
// cause.
func (b *Bootstrapper) Navigate(ctx context.Context, dest string) (Result, error) {
	if res := b.Guard(dest); !res.Allowed || res.Reason == ReasonAuthRoute {
		return res, nil
	}

	token, err := b.sessions.EnsureFresh(ctx)
	if err != nil {
		b.log.Warn().Err(err).Str("dest", dest).Msg("session refresh failed, redirecting to login")
		b.sessions.ClearSession(ctx)
		return b.redirect(dest, ReasonSessionLost), fmt.Errorf("ensure fresh session: %w", err)
	}

	user, team, err := b.loadContext(ctx, token)
	if err != nil {
		b.log.Warn().Err(err).Str("dest", dest).Msg("session context failed, redirecting to login")
		b.sessions.ClearSession(ctx)
		return b.redirect(dest, ReasonContextFailed), fmt.Errorf("load session context: %w", err)
	}

	b.state.set(user, team)
	b.sessions.SetUser(ctx, user)

	b.log.Debug().Str("dest", dest).Str("user", user.ID).Str("team", team.ID).Msg("navigation bootstrapped")
	return Result{Allowed: true, Reason: ReasonAuthenticated}, nil
}

func (b *Bootstrapper) loadContext(ctx context.Context, token string) (session.User, session.Team, error) {
	claims := b.sessions.DecodeClaims(token)
	if claims == nil || claims.Subject == "" {
		return session.User{}, session.Team{}, ErrNoSubject
	}

	var (
		user session.User
		team session.Team
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := b.dir.GetUser(gctx, token, claims.Subject)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		t, err := b.dir.GetCurrentTeam(gctx, token)
		if err != nil {
			return fmt.Errorf("get team: %w", err)
		}
		team = t
		return nil
	})

	if err := g.Wait(); err != nil {
		return session.User{}, session.Team{}, err
	}
	return user, team, nil
}

func (b *Bootstrapper) redirect(dest string, reason Reason) Result {
	return Result{RedirectTo: b.opts.LoginPath, Next: dest, Reason: reason}
}
