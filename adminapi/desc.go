package adminapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service path clients dial, mirroring the
// "package.Service" convention protoc-gen-go-grpc would have produced
// from a splinterd.adminapi.AdminApi proto definition.
const ServiceName = "splinterd.adminapi.AdminApi"

func submitProposalHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(SubmitProposalRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).SubmitProposal(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/SubmitProposal"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).SubmitProposal(ctx, req.(*SubmitProposalRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func voteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(VoteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Vote(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Vote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).Vote(ctx, req.(*VoteRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getCircuitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetCircuitRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetCircuit(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetCircuit"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).GetCircuit(ctx, req.(*GetCircuitRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func listProposalsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ListProposalsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ListProposals(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/ListProposals"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).ListProposals(ctx, req.(*ListProposalsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

type streamEventsServer struct {
	grpc.ServerStream
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(StreamEventsRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(*Server).StreamEvents(req, &streamEventsServer{stream})
}

// ServiceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc pass would
// generate from an AdminApi proto definition, written out by hand
// since this repo runs no protobuf code generator.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitProposal", Handler: submitProposalHandler},
		{MethodName: "Vote", Handler: voteHandler},
		{MethodName: "GetCircuit", Handler: getCircuitHandler},
		{MethodName: "ListProposals", Handler: listProposalsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamEvents", Handler: streamEventsHandler, ServerStreams: true},
	},
	Metadata: "adminapi.proto",
}

// Register attaches srv to grpcServer under ServiceDesc.
func Register(grpcServer *grpc.Server, srv *Server) {
	grpcServer.RegisterService(&ServiceDesc, srv)
}
