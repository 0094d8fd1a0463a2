package graphql

import (
	"context"
	"fmt"

	"github.com/hay-kot/dockhand/internal/core/session"
)

const userFields = `id firstName lastName email avatar verified roles`

const refreshTokenMutation = `mutation RefreshToken($refreshToken: String!) {
  refreshToken(refreshToken: $refreshToken) { token refreshToken }
}`

const loginMutation = `mutation Login($email: String!, $password: String!) {
  login(email: $email, password: $password) { token refreshToken user { ` + userFields + ` } }
}`

const getUserQuery = `query GetUser($id: String!) {
  getUser(id: $id) { ` + userFields + ` }
}`

const getTeamQuery = `query GetTeamByCurrentUser {
  getTeamByCurrentUser { id name }
}`

const getContainerStatusQuery = `query GetContainerStatus($id: String!) {
  getContainerStatus(id: $id) { id name state status }
}`

const getBuildQuery = `query GetBuild($id: String!) {
  getBuild(id: $id) { id status step }
}`

// ContainerStatus is the runtime state of one container.
type ContainerStatus struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Status string `json:"status"`
}

// Build is the progress of one image build.
type Build struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Step   string `json:"step"`
}

// Done reports whether the build reached a terminal status.
func (b Build) Done() bool {
	switch b.Status {
	case "success", "succeeded", "failed", "error", "cancelled", "canceled":
		return true
	}
	return false
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	var out struct {
		RefreshToken session.TokenPair `json:"refreshToken"`
	}
	// the refresh token authenticates its own exchange
	err := c.Do(ctx, refreshToken, "RefreshToken", refreshTokenMutation, map[string]any{"refreshToken": refreshToken}, &out)
	if err != nil {
		return session.TokenPair{}, err
	}
	return out.RefreshToken, nil
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (session.TokenPair, session.User, error) {
	var out struct {
		Login struct {
			session.TokenPair
			User session.User `json:"user"`
		} `json:"login"`
	}
	vars := map[string]any{"email": email, "password": password}
	if err := c.Do(ctx, "", "Login", loginMutation, vars, &out); err != nil {
		return session.TokenPair{}, session.User{}, err
	}
	return out.Login.TokenPair, out.Login.User, nil
}

// GetUser fetches the user with the given id.
func (c *Client) GetUser(ctx context.Context, token, id string) (session.User, error) {
	var out struct {
		GetUser *session.User `json:"getUser"`
	}
	if err := c.Do(ctx, token, "GetUser", getUserQuery, map[string]any{"id": id}, &out); err != nil {
		return session.User{}, err
	}
	if out.GetUser == nil {
		return session.User{}, fmt.Errorf("get user %s: not found", id)
	}
	return *out.GetUser, nil
}

// GetCurrentTeam fetches the team of the authenticated user.
func (c *Client) GetCurrentTeam(ctx context.Context, token string) (session.Team, error) {
	var out struct {
		Team *session.Team `json:"getTeamByCurrentUser"`
	}
	if err := c.Do(ctx, token, "GetTeamByCurrentUser", getTeamQuery, nil, &out); err != nil {
		return session.Team{}, err
	}
	if out.Team == nil {
		return session.Team{}, fmt.Errorf("get team: no team for current user")
	}
	return *out.Team, nil
}

// GetContainerStatus fetches the state of a container.
func (c *Client) GetContainerStatus(ctx context.Context, token, id string) (ContainerStatus, error) {
	var out struct {
		Status *ContainerStatus `json:"getContainerStatus"`
	}
	if err := c.Do(ctx, token, "GetContainerStatus", getContainerStatusQuery, map[string]any{"id": id}, &out); err != nil {
		return ContainerStatus{}, err
	}
	if out.Status == nil {
		return ContainerStatus{}, fmt.Errorf("get container %s: not found", id)
	}
	return *out.Status, nil
}

// GetBuild fetches the progress of a build.
func (c *Client) GetBuild(ctx context.Context, token, id string) (Build, error) {
	var out struct {
		Build *Build `json:"getBuild"`
	}
	if err := c.Do(ctx, token, "GetBuild", getBuildQuery, map[string]any{"id": id}, &out); err != nil {
		return Build{}, err
	}
	if out.Build == nil {
		return Build{}, fmt.Errorf("get build %s: not found", id)
	}
	return *out.Build, nil
}

// Ping checks that the endpoint answers GraphQL requests.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Typename string `json:"__typename"`
	}
	if err := c.Do(ctx, "", "Ping", `query Ping { __typename }`, nil, &out); err != nil {
		return err
	}
	return nil
}
