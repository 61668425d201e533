package backend

import (
	"context"
	"fmt"
	"net/http"
)

// Login exchanges credentials for tokens. admin selects /admin/login.
func (c *Client) Login(ctx context.Context, creds Credentials, admin bool) (*LoginResponse, error) {
	path := "/auth/login"
	if admin {
		path = "/admin/login"
	}
	var resp LoginResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: path, body: creds, anon: true}, &resp); err != nil {
		return nil, err
	}
	if resp.Access == "" {
		return nil, fmt.Errorf("login response carried no access token")
	}
	return &resp, nil
}

// Me returns the authenticated account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/me/"}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Profile returns the profile of the given user.
func (c *Client) Profile(ctx context.Context, userID int64) (*User, error) {
	var u User
	if err := c.do(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/auth/me/%d", userID)}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
