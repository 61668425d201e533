package backend

import (
	"encoding/json"
	"time"
)

// User is a backend account as returned by /me/, /users/ and login.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
}

// Credentials are the username/password pair posted to the login endpoints.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by /auth/login and /admin/login.
type LoginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user,omitempty"`
}

// UnmarshalJSON accepts both {access, refresh} and {access_token, refresh_token}.
func (r *LoginResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Access       string `json:"access"`
		Refresh      string `json:"refresh"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		User         *User  `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Access = firstNonEmpty(raw.Access, raw.AccessToken)
	r.Refresh = firstNonEmpty(raw.Refresh, raw.RefreshToken)
	r.User = raw.User
	return nil
}

// ChatGroup is a group conversation.
type ChatGroup struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Members []int64 `json:"members,omitempty"`
}

// NewChatGroup is the body of /chat/group/create/.
type NewChatGroup struct {
	Name    string  `json:"name"`
	Members []int64 `json:"members"`
}

// Task is a unit of work assigned to a field employee.
type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssignedTo  int64  `json:"assigned_to,omitempty"`
	Status      string `json:"status,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}

// Announcement is an organization-wide notice.
type Announcement struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at,omitempty"`
}

// LocationPayload is one location sample posted to /locations/.
type LocationPayload struct {
	User      int64   `json:"user"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
}

// LocationLogConfig is the server-side sampling configuration.
type LocationLogConfig struct {
	IntervalSeconds int64 `json:"interval_seconds"`
	IntervalMinutes int64 `json:"interval_minutes"`
}

// Interval returns the configured sampling period, or 0 if unset.
func (c LocationLogConfig) Interval() time.Duration {
	switch {
	case c.IntervalSeconds > 0:
		return time.Duration(c.IntervalSeconds) * time.Second
	case c.IntervalMinutes > 0:
		return time.Duration(c.IntervalMinutes) * time.Minute
	default:
		return 0
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
