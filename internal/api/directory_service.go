package api

import (
	"context"
	"strings"

	"github.com/matheus3301/fieldops/internal/backend"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Query resources.
const (
	ResourceGroups        = "groups"
	ResourceGroupMessages = "group_messages"
	ResourceTasks         = "tasks"
	ResourceUsers         = "users"
	ResourceAdminUsers    = "admin_users"
	ResourceAnnouncements = "announcements"
	ResourceMe            = "me"
	ResourceProfile       = "profile"
)

// Query reads {resource} from the backend. group_messages and profile take {id}.
func (c *Control) Query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	resource := getString(in, "resource")
	id := getInt(in, "id")

	var (
		items any
		err   error
	)
	switch resource {
	case ResourceGroups:
		items, err = c.api.Groups(ctx)
	case ResourceGroupMessages:
		if id <= 0 {
			return nil, grpcstatus.Error(codes.InvalidArgument, "group_messages needs id")
		}
		items, err = c.api.GroupMessages(ctx, id)
	case ResourceTasks:
		items, err = c.api.Tasks(ctx)
	case ResourceUsers:
		items, err = c.api.Users(ctx)
	case ResourceAdminUsers:
		items, err = c.api.AdminUsers(ctx)
	case ResourceAnnouncements:
		items, err = c.api.Announcements(ctx)
	case ResourceMe:
		var u *backend.User
		if u, err = c.api.Me(ctx); err == nil {
			_ = c.creds.SaveUser(u)
		}
		items = u
	case ResourceProfile:
		if id <= 0 {
			id = c.currentUserID()
		}
		items, err = c.api.Profile(ctx, id)
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown resource %q", resource)
	}
	if err != nil {
		return nil, toStatus("query "+resource, err)
	}
	return reply(map[string]any{"resource": resource, "items": items})
}

// CreateGroup creates {name} with {members}.
func (c *Control) CreateGroup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	g := backend.NewChatGroup{Name: strings.TrimSpace(getString(in, "name")), Members: getInts(in, "members")}
	if g.Name == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "name is required")
	}
	if g.Members == nil {
		g.Members = []int64{}
	}
	out, err := c.api.CreateGroup(ctx, g)
	if err != nil {
		return nil, toStatus("create group", err)
	}
	return reply(map[string]any{"group": out})
}

// CreateTask assigns {title, description, assigned_to, due_date}.
func (c *Control) CreateTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	t := backend.Task{
		Title:       strings.TrimSpace(getString(in, "title")),
		Description: getString(in, "description"),
		AssignedTo:  getInt(in, "assigned_to"),
		DueDate:     getString(in, "due_date"),
		Status:      getString(in, "status"),
	}
	if t.Title == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "title is required")
	}
	out, err := c.api.CreateTask(ctx, t)
	if err != nil {
		return nil, toStatus("create task", err)
	}
	return reply(map[string]any{"task": out})
}
