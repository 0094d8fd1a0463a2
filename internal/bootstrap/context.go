package bootstrap

import (
	"sync"

	"github.com/hay-kot/dockhand/internal/core/session"
)

// Context holds the user and team loaded for the signed-in session. It is
// shared process-wide and reset when the session is cleared.
type Context struct {
	mu   sync.RWMutex
	user *session.User
	team *session.Team
}

// NewContext creates an empty Context.
func NewContext() *Context {
	return &Context{}
}

// User returns the loaded user, if any.
func (c *Context) User() (session.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return session.User{}, false
	}
	u := *c.user
	u.Roles = append([]string(nil), c.user.Roles...)
	return u, true
}

// Team returns the loaded team, if any.
func (c *Context) Team() (session.Team, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.team == nil {
		return session.Team{}, false
	}
	return *c.team, true
}

// IsLoaded reports whether both the user and team are present.
func (c *Context) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user != nil && c.team != nil
}

func (c *Context) set(user session.User, team session.Team) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = &user
	c.team = &team
}

// Reset drops the loaded user and team.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
	c.team = nil
}
