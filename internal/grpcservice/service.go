// Package grpcservice implements the relay's diagnostic gRPC service.
//
// The service uses well-known protobuf types only, so no generated stubs are
// needed: the request is google.protobuf.Empty and the response a
// google.protobuf.Struct.
package grpcservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName      = "p2pboard.v1.Relay"
	statusMethodName = "/" + serviceName + "/Status"
)

// RelayServer is the server API for the Relay service.
type RelayServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "p2pboard/v1/relay.proto",
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RelayServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RelayServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&relayServiceDesc, srv)
}

// SessionCounter reports the number of registered sessions.
type SessionCounter interface {
	Len() int
}

// StatusInfo is the decoded Status response.
type StatusInfo struct {
	Instance       string    `json:"instance"`
	Sessions       int       `json:"sessions"`
	StartedAt      time.Time `json:"started_at"`
	Federated      bool      `json:"federated"`
	LocalClipboard bool      `json:"local_clipboard"`
}

// Service implements RelayServer.
type Service struct {
	sessions       SessionCounter
	instance       string
	startedAt      time.Time
	federated      bool
	localClipboard bool
}

// Options describes the relay features reported by Status.
type Options struct {
	Instance       string
	Federated      bool
	LocalClipboard bool
}

// New returns a Service reporting on sessions.
func New(sessions SessionCounter, opts Options) *Service {
	return &Service{
		sessions:       sessions,
		instance:       opts.Instance,
		startedAt:      time.Now().UTC(),
		federated:      opts.Federated,
		localClipboard: opts.LocalClipboard,
	}
}

// Status implements RelayServer.
func (s *Service) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(map[string]any{
		"instance":        s.instance,
		"sessions":        s.sessions.Len(),
		"started_at":      s.startedAt.Format(time.RFC3339),
		"federated":       s.federated,
		"local_clipboard": s.localClipboard,
	})
	if err != nil {
		slog.Error("status encode failed", "err", err)
		return nil, err
	}
	return st, nil
}

// Client calls the Relay service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Status fetches and decodes the relay status.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (StatusInfo, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statusMethodName, &emptypb.Empty{}, out, opts...); err != nil {
		return StatusInfo{}, err
	}
	return decodeStatus(out)
}

func decodeStatus(st *structpb.Struct) (StatusInfo, error) {
	f := st.GetFields()
	info := StatusInfo{
		Instance:       f["instance"].GetStringValue(),
		Sessions:       int(f["sessions"].GetNumberValue()),
		Federated:      f["federated"].GetBoolValue(),
		LocalClipboard: f["local_clipboard"].GetBoolValue(),
	}
	if ts := f["started_at"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return StatusInfo{}, fmt.Errorf("started_at: %w", err)
		}
		info.StartedAt = t
	}
	return info, nil
}
