package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "fieldops.v1.Control"

// Method names.
const (
	MethodLogin          = "Login"
	MethodLogout         = "Logout"
	MethodGetStatus      = "GetStatus"
	MethodOpenChat       = "OpenChat"
	MethodCloseChat      = "CloseChat"
	MethodSendMessage    = "SendMessage"
	MethodEditMessage    = "EditMessage"
	MethodSetTyping      = "SetTyping"
	MethodListMessages   = "ListMessages"
	MethodRefreshOnline  = "RefreshOnline"
	MethodStartTracking  = "StartTracking"
	MethodStopTracking   = "StopTracking"
	MethodFlushLocations = "FlushLocations"
	MethodWake           = "Wake"
	MethodQuery          = "Query"
	MethodCreateGroup    = "CreateGroup"
	MethodCreateTask     = "CreateTask"
	MethodWatchEvents    = "WatchEvents"
)

// FullMethod returns the RPC path for a method name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ControlServer is the daemon control surface. Every request and response is
// a google.protobuf.Struct.
type ControlServer interface {
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseChat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EditMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTyping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RefreshOnline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartTracking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopTracking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FlushLocations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Wake(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

type unaryMethod func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ControlServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the Control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodLogin, ControlServer.Login),
		unary(MethodLogout, ControlServer.Logout),
		unary(MethodGetStatus, ControlServer.GetStatus),
		unary(MethodOpenChat, ControlServer.OpenChat),
		unary(MethodCloseChat, ControlServer.CloseChat),
		unary(MethodSendMessage, ControlServer.SendMessage),
		unary(MethodEditMessage, ControlServer.EditMessage),
		unary(MethodSetTyping, ControlServer.SetTyping),
		unary(MethodListMessages, ControlServer.ListMessages),
		unary(MethodRefreshOnline, ControlServer.RefreshOnline),
		unary(MethodStartTracking, ControlServer.StartTracking),
		unary(MethodStopTracking, ControlServer.StopTracking),
		unary(MethodFlushLocations, ControlServer.FlushLocations),
		unary(MethodWake, ControlServer.Wake),
		unary(MethodQuery, ControlServer.Query),
		unary(MethodCreateGroup, ControlServer.CreateGroup),
		unary(MethodCreateTask, ControlServer.CreateTask),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ControlServer).WatchEvents(in, stream)
			},
		},
	},
	Metadata: "fieldops/v1/control.proto",
}

// Register attaches s to srv.
func Register(srv grpc.ServiceRegistrar, s ControlServer) {
	srv.RegisterService(&ServiceDesc, s)
}
