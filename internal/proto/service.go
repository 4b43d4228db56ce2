// Package proto declares the ledger node gRPC service. Messages are
// google.protobuf.Struct values so the service works with the stock proto
// codec without generated code; messages.go gives them typed shapes.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "expiryx.ledger.v1.Ledger"

const (
	MethodPing           = "Ping"
	MethodCapabilities   = "Capabilities"
	MethodBroadcast      = "Broadcast"
	MethodGetTransaction = "GetTransaction"
	MethodGetPermission  = "GetPermission"
	MethodListByOwner    = "ListByOwner"
	MethodListBySpender  = "ListBySpender"
	MethodStats          = "Stats"
	MethodUploadURL      = "UploadURL"
	MethodDownloadURL    = "DownloadURL"
)

// FullMethod returns the gRPC path of a method, e.g. /expiryx.ledger.v1.Ledger/Ping.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// LedgerServer is implemented by the ledger node.
type LedgerServer interface {
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Capabilities(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Broadcast(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListByOwner(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListBySpender(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UploadURL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DownloadURL(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(LedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc is registered with grpc.Server by RegisterLedgerServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPing, LedgerServer.Ping),
		unary(MethodCapabilities, LedgerServer.Capabilities),
		unary(MethodBroadcast, LedgerServer.Broadcast),
		unary(MethodGetTransaction, LedgerServer.GetTransaction),
		unary(MethodGetPermission, LedgerServer.GetPermission),
		unary(MethodListByOwner, LedgerServer.ListByOwner),
		unary(MethodListBySpender, LedgerServer.ListBySpender),
		unary(MethodStats, LedgerServer.Stats),
		unary(MethodUploadURL, LedgerServer.UploadURL),
		unary(MethodDownloadURL, LedgerServer.DownloadURL),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "expiryx/ledger/v1/ledger.proto",
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// LedgerClient is the raw client stub; Client wraps it with typed methods.
type LedgerClient interface {
	Invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type ledgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) LedgerClient {
	return &ledgerClient{cc: cc}
}

func (c *ledgerClient) Invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
