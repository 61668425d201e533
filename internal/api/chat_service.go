package api

import (
	"context"
	"errors"

	"github.com/matheus3301/fieldops/internal/chat"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// OpenChat connects the chat socket to {kind: group|personal, id, name}.
func (c *Control) OpenChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	target := chat.ActiveChat{
		Kind: chat.Kind(getString(in, "kind")),
		ID:   getInt(in, "id"),
		Name: getString(in, "name"),
	}
	if target.Kind == "" {
		target.Kind = chat.KindGroup
	}
	if err := target.Validate(); err != nil {
		return nil, toStatus("open chat", err)
	}
	token, err := c.creds.AccessToken()
	if err != nil {
		return nil, toStatus("open chat", err)
	}
	if err := c.session.Connect(ctx, target, token); err != nil {
		return nil, toStatus("open chat", err)
	}
	return reply(map[string]any{"kind": target.Kind, "id": target.ID, "name": target.Name})
}

// CloseChat disconnects the open conversation, if any.
func (c *Control) CloseChat(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := c.session.Disconnect(); err != nil {
		return nil, toStatus("close chat", err)
	}
	return empty(), nil
}

// SendMessage posts {content, message_type, parent_id, latitude, longitude, files}.
func (c *Control) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := chat.OutgoingMessage{
		MessageType: getString(in, "message_type"),
		Content:     getString(in, "content"),
		ParentID:    getInt(in, "parent_id"),
		Latitude:    getFloat(in, "latitude"),
		Longitude:   getFloat(in, "longitude"),
		Files:       getStrings(in, "files"),
	}
	if err := c.session.SendMessage(ctx, m); err != nil {
		if errors.Is(err, chat.ErrNotConnected) {
			return nil, toStatus("send message", err)
		}
		return nil, grpcstatus.Errorf(codes.Unavailable, "send message: %v", err)
	}
	return empty(), nil
}

// EditMessage asks the server to change {message_id}'s content to {content}.
func (c *Control) EditMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := getInt(in, "message_id")
	if id <= 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message_id is required")
	}
	if err := c.session.EditMessage(ctx, id, getString(in, "content")); err != nil {
		return nil, toStatus("edit message", err)
	}
	return empty(), nil
}

// SetTyping announces {typing}.
func (c *Control) SetTyping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := c.session.SetTyping(ctx, getBool(in, "typing")); err != nil {
		return nil, toStatus("set typing", err)
	}
	return empty(), nil
}

// ListMessages returns the cached messages of the open conversation with the
// typing and online state.
func (c *Control) ListMessages(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	active, connected := c.session.Active()
	online := c.session.Online()
	out := map[string]any{
		"connected": connected,
		"messages":  c.session.Cache().Messages(),
		"typing":    typingIDs(c.session.Typing()),
		"online":    map[string]any{"group": nonNil(online.Group), "personal": nonNil(online.Personal)},
	}
	if connected {
		out["chat"] = map[string]any{"kind": active.Kind, "id": active.ID, "name": active.Name}
	}
	return reply(out)
}

// RefreshOnline re-probes online status for {personal_ids}. The answer
// arrives asynchronously as a chat.online_status event.
func (c *Control) RefreshOnline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ids := getInts(in, "personal_ids")
	if active, ok := c.session.Active(); ok && len(ids) == 0 && active.Kind == chat.KindPersonal {
		ids = []int64{active.ID}
	}
	if err := c.session.RequestOnlineStatus(ctx, ids); err != nil {
		return nil, toStatus("refresh online", err)
	}
	return empty(), nil
}

func typingIDs(m map[int64]bool) []int64 {
	out := []int64{}
	for id, typing := range m {
		if typing {
			out = append(out, id)
		}
	}
	return out
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
