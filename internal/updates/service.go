package updates

import (
	"context"

	"google.golang.org/grpc"
)

// Service and method names of the blockchain updates API.
const (
	ServiceName                = "waves.events.grpc.BlockchainUpdatesApi"
	MethodGetBlockUpdatesRange = "/" + ServiceName + "/GetBlockUpdatesRange"
)

// RangeServer is the server side of GetBlockUpdatesRange.
type RangeServer interface {
	GetBlockUpdatesRange(ctx context.Context, req *RangeRequest) (*RangeResponse, error)
}

// ServiceDesc describes the range method for grpc.Server.RegisterService.
// The server must be created with grpc.ForceServerCodec(Codec{}).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetBlockUpdatesRange",
			Handler:    getBlockUpdatesRangeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "waves/events/grpc/blockchain_updates.proto",
}

// RegisterRangeServer registers srv with s.
func RegisterRangeServer(s grpc.ServiceRegistrar, srv RangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getBlockUpdatesRangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RangeServer).GetBlockUpdatesRange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodGetBlockUpdatesRange,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RangeServer).GetBlockUpdatesRange(ctx, req.(*RangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}
