// Package session defines the client session domain types and interfaces.
package session

import "time"

// Session is the authenticated state of one application instance.
type Session struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// HasTokens returns true if both the access and refresh token are present.
func (s Session) HasTokens() bool {
	return s.AccessToken != "" && s.RefreshToken != ""
}

// IsAuthenticated returns true if the session carries tokens and a current user.
func (s Session) IsAuthenticated() bool {
	return s.HasTokens() && s.User != nil
}

// IsEmpty returns true if nothing is held in the session.
func (s Session) IsEmpty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.User == nil
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	if s.User != nil {
		u := *s.User
		u.Roles = append([]string(nil), s.User.Roles...)
		s.User = &u
	}
	return s
}

// Claims is the decoded, read-only view of an access token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// TokenPair is the token set returned by the login and refresh mutations.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// User is the identity projection returned by the getUser query.
type User struct {
	ID        string   `json:"id"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Avatar    string   `json:"avatar,omitempty"`
	Verified  bool     `json:"verified"`
	Roles     []string `json:"roles,omitempty"`
}

// DisplayName returns the full name, falling back to the email.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

// Team is the team context of the current user.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
