package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/matheus3301/fieldops/internal/backend"
	"github.com/matheus3301/fieldops/internal/chat"
	"github.com/matheus3301/fieldops/internal/tracker"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts v to a Struct through its JSON form, so JSON tags decide
// the field names.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("response is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

func reply(v any) (*structpb.Struct, error) {
	s, err := toStruct(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func empty() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}
}

func field(in *structpb.Struct, key string) *structpb.Value {
	return in.GetFields()[key]
}

func getString(in *structpb.Struct, key string) string {
	return field(in, key).GetStringValue()
}

func getBool(in *structpb.Struct, key string) bool {
	return field(in, key).GetBoolValue()
}

// getInt accepts numbers and numeric strings.
func getInt(in *structpb.Struct, key string) int64 {
	v := field(in, key)
	switch v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return int64(v.GetNumberValue())
	case *structpb.Value_StringValue:
		n, _ := strconv.ParseInt(v.GetStringValue(), 10, 64)
		return n
	}
	return 0
}

func getFloat(in *structpb.Struct, key string) *float64 {
	v := field(in, key)
	if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
		return nil
	}
	f := v.GetNumberValue()
	return &f
}

func getInts(in *structpb.Struct, key string) []int64 {
	var out []int64
	for _, v := range field(in, key).GetListValue().GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
			out = append(out, int64(v.GetNumberValue()))
		}
	}
	return out
}

func getStrings(in *structpb.Struct, key string) []string {
	var out []string
	for _, v := range field(in, key).GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// toStatus maps domain errors onto gRPC codes, keeping the backend's text.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		code := codes.Unavailable
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			code = codes.Unauthenticated
		case apiErr.Status == http.StatusForbidden:
			code = codes.PermissionDenied
		case apiErr.Status == http.StatusNotFound:
			code = codes.NotFound
		case apiErr.Status >= 400 && apiErr.Status < 500:
			code = codes.InvalidArgument
		}
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return grpcstatus.Errorf(code, "%s: %s", op, msg)
	case errors.Is(err, backend.ErrUnauthenticated):
		return grpcstatus.Errorf(codes.Unauthenticated, "%s: %v", op, err)
	case errors.Is(err, chat.ErrAlreadyConnected), errors.Is(err, chat.ErrNotConnected):
		return grpcstatus.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, chat.ErrInvalidChat), errors.Is(err, tracker.ErrNoUser):
		return grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	default:
		return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
