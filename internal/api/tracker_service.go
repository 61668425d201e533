package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/matheus3301/fieldops/internal/outbox"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// StartTracking starts the location loop for {user_id}, defaulting to the
// logged-in user.
func (c *Control) StartTracking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID := getInt(in, "user_id")
	if userID == 0 {
		userID = c.currentUserID()
	}
	if err := c.tracker.Start(ctx, userID); err != nil {
		return nil, toStatus("start tracking", err)
	}
	return reply(map[string]any{
		"state":       c.tracker.Status(),
		"user_id":     c.tracker.UserID(),
		"interval_ms": c.tracker.Interval().Milliseconds(),
	})
}

// StopTracking stops the location loop.
func (c *Control) StopTracking(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := c.tracker.Stop(ctx); err != nil {
		return nil, toStatus("stop tracking", err)
	}
	return reply(map[string]any{"state": c.tracker.Status()})
}

// FlushLocations delivers queued samples; {force} ignores retry backoff.
func (c *Control) FlushLocations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	res, err := c.tracker.Flush(ctx, getBool(in, "force"))
	if err != nil {
		return nil, toStatus("flush locations", err)
	}
	return flushReply(res)
}

// Wake signals the user is back; queued samples are flushed if online.
func (c *Control) Wake(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res, err := c.tracker.Wake(ctx)
	if err != nil {
		return nil, toStatus("wake", err)
	}
	return flushReply(res)
}

func flushReply(res outbox.FlushResult) (*structpb.Struct, error) {
	return reply(map[string]any{"sent": res.Sent, "failed": res.Failed, "remaining": res.Remaining})
}

type eventEnvelope struct {
	EventID          string `json:"event_id"`
	Profile          string `json:"profile"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Payload          any    `json:"payload,omitempty"`
}

// WatchEvents streams bus events whose kind starts with {prefix}.
func (c *Control) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := c.bus.Subscribe(getString(in, "prefix"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env := eventEnvelope{
				EventID:          uuid.New().String(),
				Profile:          c.profile,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          evt.Payload,
			}
			out, err := toStruct(env)
			if err != nil {
				c.logger.Debug("event payload not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				env.Payload = nil
				if out, err = toStruct(env); err != nil {
					continue
				}
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
