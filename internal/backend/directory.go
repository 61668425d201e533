package backend

import (
	"context"
	"net/http"
)

// Tasks lists tasks visible to the caller.
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var out listOf[Task]
	if err := c.list(ctx, "/tasks/", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateTask assigns a new task.
func (c *Client) CreateTask(ctx context.Context, t Task) (*Task, error) {
	var out Task
	if err := c.do(ctx, request{method: http.MethodPost, path: "/tasks/", body: t}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Users lists employees.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out listOf[User]
	if err := c.list(ctx, "/users/", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// AdminUsers lists accounts through the admin endpoint.
func (c *Client) AdminUsers(ctx context.Context) ([]User, error) {
	var out listOf[User]
	if err := c.list(ctx, "/admin/users/", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Announcements lists current announcements.
func (c *Client) Announcements(ctx context.Context) ([]Announcement, error) {
	var out listOf[Announcement]
	if err := c.list(ctx, "/auth/announcements", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}
