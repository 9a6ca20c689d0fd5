package fleetsync

import (
	"google.golang.org/grpc"
)

const (
	serviceName = "vending.fleet.v1.FleetSync"
	syncMethod  = "/" + serviceName + "/Sync"
)

// SyncServer is implemented by the coordinator. Each call is one peer
// connection: a bidirectional stream of Message values.
type SyncServer interface {
	Sync(stream grpc.ServerStream) error
}

func syncHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SyncServer).Sync(stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SyncServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Sync",
			Handler:       syncHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "fleetsync",
}

// Register attaches the sync service to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&serviceDesc, srv)
}
