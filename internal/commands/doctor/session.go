package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hay-kot/dockhand/internal/auth"
	"github.com/hay-kot/dockhand/internal/core/session"
)

// SessionCheck inspects the stored session without refreshing it.
type SessionCheck struct {
	store session.Store
	now   func() time.Time
}

// NewSessionCheck creates a new stored session check.
func NewSessionCheck(store session.Store, now func() time.Time) *SessionCheck {
	return &SessionCheck{store: store, now: now}
}

func (c *SessionCheck) Name() string {
	return "Session"
}

func (c *SessionCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	sess, err := c.store.Load(ctx)
	switch {
	case errors.Is(err, session.ErrNotFound):
		result.Items = append(result.Items, CheckItem{
			Label:  "Signed in",
			Status: StatusWarn,
			Detail: "no stored session",
			Hint:   "dockhand login",
		})
		return result
	case err != nil:
		result.Items = append(result.Items, CheckItem{
			Label:  "Session file",
			Status: StatusFail,
			Detail: err.Error(),
			Hint:   "dockhand logout",
		})
		return result
	}

	if !sess.HasTokens() {
		result.Items = append(result.Items, CheckItem{
			Label:  "Tokens",
			Status: StatusFail,
			Detail: "stored session is missing a token",
			Hint:   "dockhand login",
		})
		return result
	}

	result.Items = append(result.Items, c.accessItem(sess.AccessToken), c.refreshItem(sess.RefreshToken))

	if sess.User != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "User",
			Status: StatusPass,
			Detail: sess.User.DisplayName(),
		})
	}

	return result
}

func (c *SessionCheck) accessItem(token string) CheckItem {
	claims := auth.DecodeClaims(token)
	if claims == nil {
		return CheckItem{Label: "Access token", Status: StatusWarn, Detail: "not decodable, will be refreshed"}
	}
	if claims.ExpiresAt.IsZero() {
		return CheckItem{Label: "Access token", Status: StatusWarn, Detail: "no expiry, will be refreshed"}
	}

	remaining := claims.ExpiresAt.Sub(c.now())
	if remaining <= 0 {
		return CheckItem{
			Label:  "Access token",
			Status: StatusWarn,
			Detail: fmt.Sprintf("expired %s ago, will be refreshed", (-remaining).Round(time.Second)),
		}
	}
	return CheckItem{
		Label:  "Access token",
		Status: StatusPass,
		Detail: fmt.Sprintf("valid for %s", remaining.Round(time.Second)),
	}
}

// refreshItem reports the refresh token. Opaque refresh tokens pass; only a
// decodable token past its expiry fails.
func (c *SessionCheck) refreshItem(token string) CheckItem {
	claims := auth.DecodeClaims(token)
	if claims != nil && !claims.ExpiresAt.IsZero() && !c.now().Before(claims.ExpiresAt) {
		return CheckItem{
			Label:  "Refresh token",
			Status: StatusFail,
			Detail: "expired",
			Hint:   "dockhand login",
		}
	}
	return CheckItem{Label: "Refresh token", Status: StatusPass}
}
