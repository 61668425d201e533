package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/matheus3301/fieldops/internal/chat"
)

// CreateGroup creates a chat group with the given members.
func (c *Client) CreateGroup(ctx context.Context, g NewChatGroup) (*ChatGroup, error) {
	var out ChatGroup
	if err := c.do(ctx, request{method: http.MethodPost, path: "/chat/group/create/", body: g}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Groups lists the groups visible to the caller.
func (c *Client) Groups(ctx context.Context) ([]ChatGroup, error) {
	var out listOf[ChatGroup]
	if err := c.list(ctx, "/chat/messages/all-groups/", &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GroupMessages returns a group's stored messages over REST, independent of
// any live socket.
func (c *Client) GroupMessages(ctx context.Context, groupID int64) ([]chat.Message, error) {
	var out listOf[chat.Message]
	if err := c.list(ctx, fmt.Sprintf("/chat/messages/group/%d/", groupID), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}
