package api

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/fieldops/internal/backend"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Login exchanges {username, password, admin} for tokens and stores them.
func (c *Control) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	creds := backend.Credentials{
		Username: strings.TrimSpace(getString(in, "username")),
		Password: getString(in, "password"),
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "username and password are required")
	}

	resp, err := c.api.Login(ctx, creds, getBool(in, "admin"))
	if err != nil {
		c.logger.Warn("login failed", zap.String("username", creds.Username), zap.Error(err))
		return nil, toStatus("login", err)
	}
	if err := c.creds.Save(resp); err != nil {
		return nil, toStatus("store credentials", err)
	}

	user := resp.User
	if user == nil {
		if u, err := c.api.Me(ctx); err == nil {
			user = u
			if err := c.creds.SaveUser(u); err != nil {
				c.logger.Warn("cache account", zap.Error(err))
			}
		} else {
			c.logger.Warn("fetch account after login", zap.Error(err))
		}
	}

	c.logger.Info("logged in", zap.String("username", creds.Username))
	return reply(map[string]any{"user": user})
}

// Logout closes the chat, stops tracking and forgets the stored tokens.
func (c *Control) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := c.session.Disconnect(); err != nil {
		c.logger.Warn("close chat on logout", zap.Error(err))
	}
	if err := c.tracker.Stop(ctx); err != nil {
		c.logger.Warn("stop tracking on logout", zap.Error(err))
	}
	if err := c.creds.Clear(); err != nil {
		return nil, toStatus("clear credentials", err)
	}
	c.logger.Info("logged out")
	return empty(), nil
}

type statusReply struct {
	Profile  string       `json:"profile"`
	UptimeMs int64        `json:"uptime_ms"`
	Online   bool         `json:"online"`
	Account  accountReply `json:"account"`
	Chat     chatReply    `json:"chat"`
	Tracker  trackerReply `json:"tracker"`
}

type accountReply struct {
	LoggedIn       bool          `json:"logged_in"`
	UserID         int64         `json:"user_id,omitempty"`
	Username       string        `json:"username,omitempty"`
	TokenExpiresAt string        `json:"token_expires_at,omitempty"`
	TokenExpired   bool          `json:"token_expired,omitempty"`
	User           *backend.User `json:"user,omitempty"`
}

type chatReply struct {
	Connected bool   `json:"connected"`
	Kind      string `json:"kind,omitempty"`
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Messages  int    `json:"messages"`
}

type trackerReply struct {
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	UserID     int64  `json:"user_id,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	Pending    int    `json:"pending"`
}

// GetStatus reports the account, chat and tracker state.
func (c *Control) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out := statusReply{
		Profile:  c.profile,
		UptimeMs: time.Since(c.startedAt).Milliseconds(),
		Online:   c.net.Online(),
		Account:  c.account(),
	}

	if active, ok := c.session.Active(); ok {
		out.Chat = chatReply{Connected: true, Kind: string(active.Kind), ID: active.ID, Name: active.Name}
	}
	out.Chat.Messages = c.session.Cache().Len()

	snap := c.tracker.Snapshot()
	out.Tracker = trackerReply{
		State:      string(snap.State),
		Reason:     snap.Reason,
		UserID:     snap.UserID,
		IntervalMs: snap.Interval.Milliseconds(),
		Pending:    snap.Pending,
	}
	if !snap.StartedAt.IsZero() {
		out.Tracker.StartedAt = snap.StartedAt.Format(time.RFC3339)
	}
	return reply(out)
}

func (c *Control) account() accountReply {
	var a accountReply
	claims, err := c.creds.Claims()
	if err != nil {
		return a
	}
	a.LoggedIn = true
	a.UserID = claims.UserID
	if !claims.ExpiresAt.IsZero() {
		a.TokenExpiresAt = claims.ExpiresAt.Format(time.RFC3339)
		a.TokenExpired = claims.Expired(time.Now())
	}
	if u, ok, err := c.creds.User(); err == nil && ok {
		a.User = u
		a.Username = u.Username
		if a.UserID == 0 {
			a.UserID = u.ID
		}
	}
	return a
}

// currentUserID prefers the token's user id over the cached account.
func (c *Control) currentUserID() int64 {
	return c.account().UserID
}
